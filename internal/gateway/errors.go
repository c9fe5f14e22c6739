package gateway

import (
	"errors"
	"fmt"
	"time"
)

// APIError — единая форма ошибки на границе клиента шлюза.
// Details несет сырые диагностики (текст ответа, вложенные error/details поля):
// источников может быть несколько одновременно, и UI обязан показать все.
type APIError struct {
	Message string
	Details []string
	Status  int  // HTTP-статус, 0 для сетевых сбоев
	retry   bool // Транспортный сбой или транзиентный 404 при поднятии инстанса
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("gateway: %s", e.Message)
}

// Retryable — стоит ли повторять вызов.
func (e *APIError) Retryable() bool { return e.retry }

// ThrottleError возвращается на 429: шлюз сам сказал, сколько ждать.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

// IsRetryable: сетевые сбои и транзиентные ответы повторяем,
// остальные 4xx — определившийся отказ, повтор не поможет.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return true
	}
	// Неклассифицированная ошибка — считаем транспортной
	return true
}

// ErrorDetails достает список диагностик, если они есть.
func ErrorDetails(err error) []string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Details
	}
	return []string{err.Error()}
}
