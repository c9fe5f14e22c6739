package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/console/handler"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra"
	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/infra/auth"
	"go.uber.org/zap"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов (RS256)
	// Реализуется через embedding BaseValidator в AuthService
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler       *handler.AuthHandler       // /auth/token
	whatsappHandler   *handler.WhatsAppHandler   // /v1/whatsapp/dispatch
	connectionHandler *handler.ConnectionHandler // /v1/connections
	agentHandler      *handler.AgentHandler      // /v1/agents
	dashHandler       *handler.DashboardHandler  // /v1/dashboard
	wsHandler         *handler.WSHandler         // /v1/ws (realtime)
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	whatsappH *handler.WhatsAppHandler,
	connectionH *handler.ConnectionHandler,
	agentH *handler.AgentHandler,
	dashH *handler.DashboardHandler,
	wsH *handler.WSHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:            chi.NewRouter(),
		logger:            logger.Named("console-api"),
		cfg:               cfg,
		authValidator:     validator,
		authHandler:       authH,
		whatsappHandler:   whatsappH,
		connectionHandler: connectionH,
		agentHandler:      agentH,
		dashHandler:       dashH,
		wsHandler:         wsH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		// Healthcheck для мониторинга
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		// WebSocket проверяет токен сам (query-параметр)
		r.Get("/v1/ws", s.wsHandler.Serve)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		// Подключаем универсальный Middleware только для этой группы
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/v1/dashboard/stats", s.dashHandler.GetStats)

		// Единая точка входа фронтенда (все действия через action)
		r.Post("/v1/whatsapp/dispatch", s.whatsappHandler.Dispatch)

		// REST поверх тех же операций (подключения, агенты)
		r.Mount("/v1/connections", s.connectionHandler.Routes())
		r.Mount("/v1/agents", s.agentHandler.Routes())
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
