package handler

/*
Файл ws.go — realtime-канал дашборда. Вкладка подключается один раз и
получает поток RecordEvent (INSERT/UPDATE/DELETE) вместо поллинга списка.
Токен передается query-параметром: браузерный WebSocket API не умеет
выставлять Authorization заголовок.
*/

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/hub"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra/auth"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, message)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

type WSHandler struct {
	hub       *hub.Hub
	validator auth.TokenValidator
	logger    *zap.Logger
}

func NewWSHandler(h *hub.Hub, validator auth.TokenValidator, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: h, validator: validator, logger: logger.Named("ws-handler")}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := h.validator.VerifyToken(token); err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := &hub.Connection{Writer: &wsWriter{conn: ws}}
	h.hub.Register(conn)
	defer func() {
		h.hub.Unregister(conn)
		_ = ws.Close()
	}()

	const pongWait = 60 * time.Second
	const writeWait = 10 * time.Second
	pingPeriod := (pongWait * 9) / 10

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(writeWait)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					_ = ws.Close()
					return
				}
			}
		}
	}()

	// Клиент только слушает; читаем, чтобы обрабатывать pong и закрытие
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
