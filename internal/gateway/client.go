package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// InstanceState — нормализованное состояние инстанса на шлюзе.
type InstanceState string

const (
	StateOpen       InstanceState = "open"
	StateConnecting InstanceState = "connecting"
	StateClose      InstanceState = "close"
	StateUnknown    InstanceState = "unknown"
)

// InstanceInfo — результат create/connect: QR (голый base64) и состояние.
type InstanceInfo struct {
	QR    string
	State InstanceState
}

// CreateOptions — необязательные флаги создания инстанса.
type CreateOptions struct {
	Webhook     string `json:"webhook,omitempty"`
	Integration string `json:"integration,omitempty"`
}

// Client — типизированная обертка над REST Evolution API.
// Прячет сборку URL, apikey-заголовок, таймаут, ретраи, circuit breaker
// и лимит исходящих вызовов.
type Client struct {
	creds    *CredentialStore
	override *Credentials // Пер-вызовное переопределение (см. WithCredentials)

	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	metrics    *infra.Metrics
	logger     *zap.Logger

	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
}

func NewClient(creds *CredentialStore, cfg infra.GatewayConfig, metrics *infra.Metrics, logger *zap.Logger) *Client {
	c := &Client{
		creds:      creds,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)),
		metrics:    metrics,
		logger:     logger.Named("gateway-client"),
		timeout:    cfg.RequestTimeout,
		attempts:   uint(cfg.RetryAttempts),
		retryDelay: cfg.RetryDelay,
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "evolution-gateway",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.CircuitBreakerState.Set(1)
			} else {
				metrics.CircuitBreakerState.Set(0)
			}
		},
	})

	return c
}

// WithCredentials возвращает копию клиента с пер-вызовными кредами.
// Исходный клиент не меняется: переопределение живет ровно один вызов цепочки.
func (c *Client) WithCredentials(creds Credentials) *Client {
	cp := *c
	cp.override = &creds
	return &cp
}

// TestConnection проверяет, что шлюз вообще отвечает по базовому URL.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.request(ctx, http.MethodGet, "", nil, "test_connection")
	return err
}

// CreateInstance создает инстанс на шлюзе и запрашивает QR.
// Повторный вызов с тем же именем remote-шлюз трактует по-своему:
// поведение при дубликате не определено, вызывающий обязан сначала
// проверить существование (см. state machine).
func (c *Client) CreateInstance(ctx context.Context, name, token string, opts CreateOptions) (*InstanceInfo, error) {
	body := map[string]interface{}{
		"instanceName": name,
		"token":        token,
		"qrcode":       true,
	}
	if opts.Webhook != "" {
		body["webhook"] = opts.Webhook
	}
	if opts.Integration != "" {
		body["integration"] = opts.Integration
	}

	raw, err := c.request(ctx, http.MethodPost, "instance/create", body, "create_instance")
	if err != nil {
		return nil, err
	}
	return parseInstanceInfo(raw)
}

// ConnectInstance инициирует подключение уже созданного инстанса.
func (c *Client) ConnectInstance(ctx context.Context, name string) (*InstanceInfo, error) {
	raw, err := c.request(ctx, http.MethodPost, "instance/connect/"+name, nil, "connect_instance")
	if err != nil {
		return nil, err
	}
	return parseInstanceInfo(raw)
}

// GetStatus возвращает нормализованное состояние инстанса.
func (c *Client) GetStatus(ctx context.Context, name string) (InstanceState, error) {
	raw, err := c.request(ctx, http.MethodGet, "instance/connectionState/"+name, nil, "get_status")
	if err != nil {
		return StateUnknown, err
	}
	var env gatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return StateUnknown, &APIError{Message: "unparseable status response", Details: []string{string(raw)}}
	}
	return env.state(), nil
}

// GetQRCode запрашивает свежий QR для инстанса.
func (c *Client) GetQRCode(ctx context.Context, name string) (string, error) {
	raw, err := c.request(ctx, http.MethodGet, "instance/qrcode/"+name, nil, "get_qrcode")
	if err != nil {
		return "", err
	}
	var env gatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", &APIError{Message: "unparseable qrcode response", Details: []string{string(raw)}}
	}
	return env.qr(), nil
}

// SendText отправляет текстовое сообщение через инстанс.
// Валидация до любого сетевого вызова.
func (c *Client) SendText(ctx context.Context, name, number, text string) error {
	if number == "" {
		return &APIError{Message: "phone number is required"}
	}
	if text == "" {
		return &APIError{Message: "message text is required"}
	}
	body := map[string]interface{}{"number": number, "text": text}
	_, err := c.request(ctx, http.MethodPost, "message/text/"+name, body, "send_text")
	return err
}

// LogoutInstance разлогинивает сессию WhatsApp на шлюзе.
func (c *Client) LogoutInstance(ctx context.Context, name string) error {
	_, err := c.request(ctx, http.MethodPost, "instance/logout/"+name, nil, "logout_instance")
	return err
}

// DeleteInstance удаляет инстанс на шлюзе.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	_, err := c.request(ctx, http.MethodDelete, "instance/delete/"+name, nil, "delete_instance")
	return err
}

// request — общий путь каждого вызова: лимитер -> circuit breaker ->
// ретраи (3 попытки всего, повтор только на сеть/404/429, фикс. задержка).
func (c *Client) request(ctx context.Context, method, path string, body interface{}, op string) ([]byte, error) {
	c.metrics.GatewayCallsTotal.WithLabelValues(op).Inc()
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("rate limit exceeded: %v", err)}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, &APIError{Message: fmt.Sprintf("failed to encode request body: %v", err)}
		}
	}

	var finalData []byte

	cbResult, err := c.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(c.attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(IsRetryable),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Шлюз мог прислать Retry-After (429)
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return c.retryDelay
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			var callErr error
			finalData, callErr = c.doAttempt(tCtx, method, path, payload)
			return callErr
		})

		return finalData, retryErr
	})

	outcome := "success"
	if err != nil {
		outcome = "error"
		c.metrics.GatewayErrorsTotal.WithLabelValues(classifyError(err)).Inc()
		c.logger.Warn("gateway call failed",
			zap.String("operation", op),
			zap.String("path", path),
			zap.Error(err))
	}
	c.metrics.GatewayCallDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &APIError{Message: "gateway temporarily unavailable (circuit open)", retry: true}
		}
		return nil, err
	}
	return cbResult.([]byte), nil
}

// doAttempt — одна HTTP-попытка. Классифицирует результат для политики ретраев.
func (c *Client) doAttempt(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	creds := c.creds.Resolve(c.override)
	url := JoinURL(creds.APIURL, path)

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// apikey только если ключ непустой
	if creds.APIKey != "" {
		req.Header.Set("apikey", creds.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевой сбой или таймаут — кандидат на повтор
		return nil, &APIError{Message: "gateway unreachable", Details: []string{err.Error()}, retry: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Message: "failed to read response body", Details: []string{err.Error()}, retry: true}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Evolution транзиентно отдает 404, пока инстанс поднимается
		return nil, &APIError{
			Message: "instance not found on gateway (may still be starting)",
			Details: []string{string(raw)},
			Status:  resp.StatusCode,
			retry:   true,
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.retryDelay),
			Cause:      fmt.Errorf("gateway throttled request"),
		}
	case resp.StatusCode >= 400:
		// Определившийся отказ — повтор не поможет
		return nil, &APIError{
			Message: fmt.Sprintf("gateway rejected request with status %d", resp.StatusCode),
			Details: []string{string(raw)},
			Status:  resp.StatusCode,
		}
	}

	// 200 сам по себе не означает успех: тело может нести error
	var env gatewayEnvelope
	if len(raw) > 0 && json.Unmarshal(raw, &env) == nil {
		if msg, details, bad := env.bodyError(); bad {
			return nil, &APIError{Message: msg, Details: details, Status: resp.StatusCode}
		}
	}

	return raw, nil
}

func parseRetryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func classifyError(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 0 {
			return "transport"
		}
		return "upstream"
	}
	return "transport"
}

// --- Разбор гетерогенных ответов шлюза ---

// qrPayload принимает и голую строку, и объект {base64, code}.
type qrPayload struct {
	value string
}

func (q *qrPayload) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		q.value = s
		return nil
	}
	var obj struct {
		Base64 string `json:"base64"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Base64 != "" {
		q.value = obj.Base64
	} else {
		q.value = obj.Code
	}
	return nil
}

type gatewayEnvelope struct {
	Error    json.RawMessage `json:"error"`
	Message  json.RawMessage `json:"message"`
	State    string          `json:"state"`
	Qrcode   qrPayload       `json:"qrcode"`
	Base64   string          `json:"base64"`
	Code     string          `json:"code"`
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// bodyError — тело ответа само кодирует ошибку (data.error присутствует).
func (e *gatewayEnvelope) bodyError() (string, []string, bool) {
	raw := string(e.Error)
	if raw == "" || raw == "null" || raw == "false" {
		return "", nil, false
	}

	msg := "gateway reported an error"
	var s string
	if json.Unmarshal(e.Error, &s) == nil && s != "" {
		msg = s
	}

	details := []string{raw}
	if len(e.Message) > 0 && string(e.Message) != "null" {
		details = append(details, string(e.Message))
	}
	return msg, details, true
}

func (e *gatewayEnvelope) qr() string {
	for _, candidate := range []string{e.Qrcode.value, e.Base64, e.Code} {
		if candidate != "" {
			return NormalizeQR(candidate)
		}
	}
	return ""
}

func (e *gatewayEnvelope) state() InstanceState {
	raw := e.State
	if raw == "" {
		raw = e.Instance.State
	}
	switch InstanceState(raw) {
	case StateOpen, StateConnecting, StateClose:
		return InstanceState(raw)
	default:
		return StateUnknown
	}
}

func parseInstanceInfo(raw []byte) (*InstanceInfo, error) {
	var env gatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &APIError{Message: "unparseable instance response", Details: []string{string(raw)}}
	}
	return &InstanceInfo{QR: env.qr(), State: env.state()}, nil
}
