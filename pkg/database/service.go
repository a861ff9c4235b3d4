package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"campus_vote/pkg/config"
	"campus_vote/pkg/data"
)

// Service manages the database connection, schema and change feed, and
// provides access to the repository
type Service struct {
	logger   *zap.Logger
	config   *config.DatabaseConfig
	repo     *data.PostgresRepository
	listener *data.Listener

	mu        sync.RWMutex
	isRunning bool
}

// NewService creates a new database service
func NewService(cfg *config.DatabaseConfig, logger *zap.Logger) *Service {
	return &Service{
		config: cfg,
		logger: logger,
	}
}

// startupTimeout bounds the initial connect and schema application
const startupTimeout = 30 * time.Second

// Start connects to the database, applies the schema and starts the
// change-feed listener. ctx must span the service's whole lifetime: the
// listener's dispatch loop is bound to it, while the connect and schema
// steps are bounded by an internal startup timeout.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("database service already running")
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	repo, err := data.NewPostgresRepository(startCtx, s.config.URL, s.logger)
	if err != nil {
		return fmt.Errorf("initializing repository: %w", err)
	}
	s.repo = repo

	if err := repo.InitializeSchema(startCtx); err != nil {
		repo.Close()
		return fmt.Errorf("initializing schema: %w", err)
	}

	listener := data.NewListener(s.config.URL, s.logger)
	if err := listener.Start(ctx); err != nil {
		repo.Close()
		return fmt.Errorf("starting change-feed listener: %w", err)
	}
	s.listener = listener

	s.isRunning = true
	s.logger.Info("Database service started successfully")
	return nil
}

// Stop closes the change feed and database connections
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.listener.Stop()
	s.repo.Close()
	s.isRunning = false
	s.logger.Info("Database service stopped")
	return nil
}

// GetRepository returns the data repository
func (s *Service) GetRepository() data.Repository {
	return s.repo
}

// GetListener returns the change-feed listener
func (s *Service) GetListener() *data.Listener {
	return s.listener
}

// IsHealthy checks database health
func (s *Service) IsHealthy(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.repo.ListRecentAudit(checkCtx, 1)
	return err == nil
}
