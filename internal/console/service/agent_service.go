package service

import (
	"context"
	"errors"

	"github.com/patrickrichardev/ai-whatsapp-sorcerer-sub000/internal/domain"
	"go.uber.org/zap"
)

var (
	ErrAgentNameRequired  = errors.New("agent name is required")
	ErrInvalidTemperature = errors.New("temperature must be between 0 and 2")
	ErrInvalidAgentStatus = errors.New("unknown agent status")
)

// AgentRepo — персистентные операции над AI-агентами.
type AgentRepo interface {
	CreateAgent(ctx context.Context, a *domain.Agent) (*domain.Agent, error)
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	UpdateAgent(ctx context.Context, a *domain.Agent) (*domain.Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status domain.AgentStatus) error
	DeleteAgent(ctx context.Context, id string) error
}

type AgentService struct {
	repo   AgentRepo
	logger *zap.Logger
}

func NewAgentService(repo AgentRepo, logger *zap.Logger) *AgentService {
	return &AgentService{repo: repo, logger: logger.Named("agent-service")}
}

func validateAgent(a *domain.Agent) error {
	if a.Name == "" {
		return ErrAgentNameRequired
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		return ErrInvalidTemperature
	}
	switch a.Status {
	case domain.AgentActive, domain.AgentPaused, domain.AgentArchived:
	case "":
		a.Status = domain.AgentActive
	default:
		return ErrInvalidAgentStatus
	}
	return nil
}

func (s *AgentService) Create(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	if err := validateAgent(a); err != nil {
		return nil, err
	}
	created, err := s.repo.CreateAgent(ctx, a)
	if err != nil {
		return nil, err
	}
	s.logger.Info("agent created", zap.String("agent_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

func (s *AgentService) Get(ctx context.Context, id string) (*domain.Agent, error) {
	return s.repo.GetAgent(ctx, id)
}

func (s *AgentService) List(ctx context.Context) ([]domain.Agent, error) {
	return s.repo.ListAgents(ctx)
}

func (s *AgentService) Update(ctx context.Context, a *domain.Agent) (*domain.Agent, error) {
	if err := validateAgent(a); err != nil {
		return nil, err
	}
	return s.repo.UpdateAgent(ctx, a)
}

// Pause временно выводит агента из обслуживания (kill-switch одной кнопкой).
func (s *AgentService) Pause(ctx context.Context, id string) error {
	return s.repo.UpdateAgentStatus(ctx, id, domain.AgentPaused)
}

func (s *AgentService) Resume(ctx context.Context, id string) error {
	return s.repo.UpdateAgentStatus(ctx, id, domain.AgentActive)
}

func (s *AgentService) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteAgent(ctx, id)
}
