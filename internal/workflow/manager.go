package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookdrop/internal/audit"
	"bookdrop/internal/cache"
	"bookdrop/internal/catalog"
	"bookdrop/internal/config"
	"bookdrop/internal/delivery"
	"bookdrop/internal/fetch"
	"bookdrop/internal/logging"
	"bookdrop/internal/notifications"
	"bookdrop/internal/wishlist"
)

// Crawler lists the wishlist items.
type Crawler interface {
	Crawl(ctx context.Context, listURL string) (wishlist.Result, error)
}

// Resolver maps an item to a catalog candidate.
type Resolver interface {
	Resolve(ctx context.Context, item wishlist.Item) (catalog.Resolution, error)
}

// Fetcher downloads a candidate into destDir and returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, candidate catalog.Candidate, destDir string) (string, error)
}

// Deliverer sends a downloaded file and records the delivery.
type Deliverer interface {
	Deliver(ctx context.Context, fingerprint, localPath, destination string) delivery.Record
}

// Cache is the subset of the cache store the manager relies on.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (*cache.Entry, bool, error)
	Put(ctx context.Context, fingerprint string, payload []byte, status cache.Status, ttl time.Duration) error
	SweepExpired(ctx context.Context) (int, error)
	MarkDelivered(ctx context.Context, fingerprint string) error
	Delivered(ctx context.Context, fingerprint string) (bool, error)
}

// Stages bundles the pipeline collaborators.
type Stages struct {
	Crawler   Crawler
	Resolver  Resolver
	Fetcher   Fetcher
	Deliverer Deliverer
}

func (s Stages) validate() error {
	var missing []error
	if s.Crawler == nil {
		missing = append(missing, errors.New("crawler"))
	}
	if s.Resolver == nil {
		missing = append(missing, errors.New("resolver"))
	}
	if s.Fetcher == nil {
		missing = append(missing, errors.New("fetcher"))
	}
	if s.Deliverer == nil {
		missing = append(missing, errors.New("deliverer"))
	}
	if len(missing) > 0 {
		return fmt.Errorf("workflow stages not configured: %w", errors.Join(missing...))
	}
	return nil
}

// Manager runs batches over the wishlist.
type Manager struct {
	cfg      *config.Config
	cache    Cache
	stages   Stages
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time
	closers  []func() error
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier overrides the notifier built from configuration.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// WithClock overrides the time source used for summaries and progress.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a manager from explicit collaborators.
func NewManager(cfg *config.Config, store Cache, stages Stages, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		cache:    store,
		stages:   stages,
		notifier: notifications.NewService(cfg),
		logger:   logging.NewComponentLogger(logger, "workflow"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewManagerFromConfig wires the production pipeline: wishlist crawler,
// catalog resolver, HTTP fetcher, and SMTP delivery agent sharing store.
func NewManagerFromConfig(cfg *config.Config, store *cache.Store, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("workflow: config is required")
	}
	if store == nil {
		return nil, errors.New("workflow: cache store is required")
	}
	client, err := catalog.NewClientFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("catalog client: %w", err)
	}
	auditLog, err := audit.Open(cfg.AuditLogPath())
	if err != nil {
		return nil, fmt.Errorf("open delivery audit log: %w", err)
	}
	stages := Stages{
		Crawler:   wishlist.NewFromConfig(cfg, store, logger),
		Resolver:  catalog.NewResolverFromConfig(cfg, client, logger),
		Fetcher:   fetch.NewFromConfig(cfg, client, logger),
		Deliverer: delivery.NewAgentFromConfig(cfg, store, auditLog, logger),
	}
	m := NewManager(cfg, store, stages, logger, opts...)
	m.closers = append(m.closers, auditLog.Close)
	return m, nil
}

// Close releases resources opened by NewManagerFromConfig.
func (m *Manager) Close() error {
	var errs []error
	for _, closeFn := range m.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func (m *Manager) stageTimeout() time.Duration {
	return time.Duration(m.cfg.Workflow.StageTimeout) * time.Second
}

func (m *Manager) fetchTimeout() time.Duration {
	if m.cfg.Workflow.FetchTimeout > 0 {
		return time.Duration(m.cfg.Workflow.FetchTimeout) * time.Second
	}
	return m.stageTimeout()
}

func (m *Manager) deliverTimeout() time.Duration {
	// The agent bounds the SMTP exchange itself; leave room for composition.
	send := time.Duration(m.cfg.Delivery.SendTimeout) * time.Second
	if stage := m.stageTimeout(); stage > send {
		return stage
	}
	if send > 0 {
		return send + 30*time.Second
	}
	return 0
}
