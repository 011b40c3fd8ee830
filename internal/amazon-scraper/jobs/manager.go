package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/amazon-product-fetcher/internal/amazon-scraper/scraper"
	"github.com/maltedev/amazon-product-fetcher/internal/database"
	"github.com/maltedev/amazon-product-fetcher/internal/ratelimit"
)

var (
	ErrNoInputs      = errors.New("import job needs at least one input")
	ErrTooManyInputs = errors.New("too many inputs for one import job")
)

// Store persists import jobs. It is implemented by database.ImportJobRepository.
type Store interface {
	CreateJob(ctx context.Context, inputs []string) (*database.ImportJob, error)
	ClaimNextJob(ctx context.Context) (*database.ImportJob, error)
	PendingItems(ctx context.Context, jobID uuid.UUID) ([]*database.ImportJobItem, error)
	CompleteItem(ctx context.Context, item *database.ImportJobItem, event *database.OutboxEvent) error
	FinishJob(ctx context.Context, jobID uuid.UUID, status string, jobErr error) error
	RequeueRunning(ctx context.Context) (int64, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*database.ImportJob, error)
	ListJobs(ctx context.Context, limit int) ([]*database.ImportJob, error)
	GetJobItems(ctx context.Context, jobID uuid.UUID) ([]*database.ImportJobItem, error)
	GetStats(ctx context.Context) (*database.ImportStats, error)
}

// ProductFetcher runs the product pipeline for one input.
type ProductFetcher interface {
	FetchProduct(ctx context.Context, input string) scraper.Result
}

type Config struct {
	PollInterval time.Duration
	// ItemDelayMin and ItemDelayMax bound the pause between two items of a job.
	ItemDelayMin time.Duration
	ItemDelayMax time.Duration
	MaxInputs    int
	ListLimit    int
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
		ItemDelayMin: 2 * time.Second,
		ItemDelayMax: 4 * time.Second,
		MaxInputs:    500,
		ListLimit:    100,
	}
}

type Manager struct {
	store   Store
	fetcher ProductFetcher
	pacer   ratelimit.RateLimiter
	cfg     Config
	logger  *slog.Logger
}

func NewManager(store Store, fetcher ProductFetcher, cfg Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxInputs <= 0 {
		cfg.MaxInputs = def.MaxInputs
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = def.ListLimit
	}

	return &Manager{
		store:   store,
		fetcher: fetcher,
		pacer:   ratelimit.NewSimpleRateLimiter(cfg.ItemDelayMin, cfg.ItemDelayMax),
		cfg:     cfg,
		logger:  logger.With("component", "job_manager"),
	}
}

// CreateJob queues inputs for background fetching. Blank inputs are dropped.
func (m *Manager) CreateJob(ctx context.Context, inputs []string) (*database.ImportJob, error) {
	cleaned := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in = strings.TrimSpace(in); in != "" {
			cleaned = append(cleaned, in)
		}
	}

	if len(cleaned) == 0 {
		return nil, ErrNoInputs
	}
	if len(cleaned) > m.cfg.MaxInputs {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyInputs, len(cleaned), m.cfg.MaxInputs)
	}

	job, err := m.store.CreateJob(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "items", job.TotalItems)
	return job, nil
}

func (m *Manager) GetJob(ctx context.Context, jobID string) (*database.ImportJob, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, database.ErrJobNotFound
	}
	return m.store.GetJob(ctx, id)
}

func (m *Manager) ListJobs(ctx context.Context) ([]*database.ImportJob, error) {
	return m.store.ListJobs(ctx, m.cfg.ListLimit)
}

func (m *Manager) GetJobItems(ctx context.Context, jobID string) ([]*database.ImportJobItem, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return nil, database.ErrJobNotFound
	}
	return m.store.GetJobItems(ctx, id)
}

func (m *Manager) GetStats(ctx context.Context) (*database.ImportStats, error) {
	return m.store.GetStats(ctx)
}
