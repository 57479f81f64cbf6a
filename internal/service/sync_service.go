// internal/service/sync_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/contactsync-backend/internal/directory"
	appErrors "github.com/unclebandit/contactsync-backend/internal/errors"
	"github.com/unclebandit/contactsync-backend/internal/metrics"
	"github.com/unclebandit/contactsync-backend/internal/model"
)

const (
	DefaultBatchSize      = 5
	DefaultContactCeiling = 25000
	DefaultWriteDelay     = 500 * time.Millisecond
)

// RecordStore is everything the orchestrator reads and writes.
type RecordStore interface {
	ListCampaignsWithPendingWork(ctx context.Context) ([]string, error)
	ListCustomersInCampaign(ctx context.Context, campaign string) ([]string, error)
	ListPendingContacts(ctx context.Context, campaign, customer string) ([]model.PendingContact, error)
	SetContactStatus(ctx context.Context, campaign, contactPhone, customer string, status model.ContactStatus) error

	GetAccounts(ctx context.Context, customer string) ([]model.Account, error)
	UpdateAccountCredentials(ctx context.Context, accountID int64, accessTokenEnc, refreshTokenEnc string) error
	UpdateAccountContactCount(ctx context.Context, accountID int64, count int) error

	GetErrorState(ctx context.Context, customer string) (*model.ErrorState, error)
	SetErrorState(ctx context.Context, customer, kind, message string, notified bool) error
	ClearErrorState(ctx context.Context, customer string) error

	RecordActivity(ctx context.Context, event model.ActivityEvent) error
}

// Directory is the slice of the directory client the orchestrator drives.
type Directory interface {
	AccountCapacity(ctx context.Context) (int, error)
	FindByPhone(ctx context.Context, phone string) (*directory.Contact, error)
	SaveContactWithLabel(ctx context.Context, rawName, phone, campaignLabel, fallback string) (directory.SaveResult, error)
}

// DirectoryFactory builds a directory client for one account and one run.
type DirectoryFactory func(account model.Account, accessToken, refreshToken string, onRefresh directory.TokenSaver) (Directory, error)

type Notifier interface {
	Notify(ctx context.Context, customer string, kind appErrors.Kind, message string) error
}

type Vault interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type SyncConfig struct {
	BatchSize      int
	ContactCeiling int
	WriteDelay     time.Duration
	FallbackName   string
}

// CustomerState is the in-memory per-customer state carried between runs.
type CustomerState struct {
	ResumeAt time.Time `json:"resume_at"`
}

type Outcome string

const (
	OutcomeCompleted       Outcome = "completed"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeNoTokens        Outcome = "no_tokens"
	OutcomeContactLimitMax Outcome = "contact_limit_max"
	OutcomeNoValidAccount  Outcome = "no_valid_account"
	OutcomeStopped         Outcome = "stopped"
)

type CustomerResult struct {
	Customer  string  `json:"customer"`
	Outcome   Outcome `json:"outcome"`
	ErrorKind string  `json:"error_kind,omitempty"`
	Account   string  `json:"account,omitempty"`
	Saved     int     `json:"saved"`
	Existed   int     `json:"existed"`
	Excluded  int     `json:"excluded"`
	Failed    int     `json:"failed"`
}

type RunSummary struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Campaigns  int              `json:"campaigns"`
	Customers  []CustomerResult `json:"customers"`
	Saved      int              `json:"saved"`
	Existed    int              `json:"existed"`
	Excluded   int              `json:"excluded"`
	Failed     int              `json:"failed"`
	Error      string           `json:"error,omitempty"`
}

func (s *RunSummary) add(r CustomerResult) {
	s.Customers = append(s.Customers, r)
	s.Saved += r.Saved
	s.Existed += r.Existed
	s.Excluded += r.Excluded
	s.Failed += r.Failed
}

// Orchestrator runs sync passes. At most one pass runs at a time.
type Orchestrator struct {
	store        RecordStore
	newDirectory DirectoryFactory
	notifier     Notifier
	vault        Vault
	cfg          SyncConfig
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration)

	running atomic.Bool

	mu      sync.Mutex
	states  map[string]CustomerState
	lastRun *RunSummary
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now; tests pin the MM/YY suffix and resume times with it.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func NewOrchestrator(store RecordStore, newDirectory DirectoryFactory, notifier Notifier, vault Vault, cfg SyncConfig, opts ...Option) *Orchestrator {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ContactCeiling < 1 {
		cfg.ContactCeiling = DefaultContactCeiling
	}
	if cfg.WriteDelay < 0 {
		cfg.WriteDelay = 0
	}
	o := &Orchestrator{
		store:        store,
		newDirectory: newDirectory,
		notifier:     notifier,
		vault:        vault,
		cfg:          cfg,
		logger:       zap.NewNop(),
		now:          time.Now,
		sleep:        sleepCtx,
		states:       make(map[string]CustomerState),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// LastRun returns a copy of the previous run's summary, nil before the first run.
func (o *Orchestrator) LastRun() *RunSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastRun == nil {
		return nil
	}
	cp := *o.lastRun
	cp.Customers = append([]CustomerResult(nil), o.lastRun.Customers...)
	return &cp
}

func (o *Orchestrator) State(customer string) CustomerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[customer]
}

func (o *Orchestrator) setStates(customers []string, states []CustomerState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, c := range customers {
		if states[i].ResumeAt.IsZero() {
			delete(o.states, c)
			continue
		}
		o.states[c] = states[i]
	}
}

// Run performs one sync pass. When a pass is already in flight it returns (nil, nil)
// without doing anything. A non-nil error means the record store failed and the pass
// was abandoned.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	run, ok := o.Acquire()
	if !ok {
		return nil, nil
	}
	return run(ctx)
}

// Acquire claims the single-flight slot without running anything. On success the
// returned func performs the pass and releases the slot; it must be called exactly once.
func (o *Orchestrator) Acquire() (func(ctx context.Context) (*RunSummary, error), bool) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Info("sync run already in progress, trigger ignored")
		o.metrics.RunSkipped()
		return nil, false
	}
	return o.runAcquired, true
}

func (o *Orchestrator) runAcquired(ctx context.Context) (*RunSummary, error) {
	defer o.running.Store(false)

	summary := &RunSummary{StartedAt: o.now()}
	err := o.run(ctx, summary)
	summary.FinishedAt = o.now()
	if err != nil {
		summary.Error = err.Error()
	}

	o.mu.Lock()
	o.lastRun = summary
	o.mu.Unlock()
	o.metrics.ObserveRun(summary.FinishedAt.Sub(summary.StartedAt), err == nil)

	if err != nil {
		o.logger.Error("sync run aborted", zap.Error(err))
		return summary, err
	}
	o.logger.Info("sync run finished",
		zap.Int("campaigns", summary.Campaigns),
		zap.Int("customers", len(summary.Customers)),
		zap.Int("saved", summary.Saved),
		zap.Int("existed", summary.Existed),
		zap.Int("failed", summary.Failed),
		zap.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)))
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, summary *RunSummary) error {
	campaigns, err := o.store.ListCampaignsWithPendingWork(ctx)
	if err != nil {
		return fmt.Errorf("list campaigns with pending work: %w", err)
	}
	summary.Campaigns = len(campaigns)

	var customers []string
	campaignsOf := make(map[string][]string)
	for _, campaign := range campaigns {
		ids, err := o.store.ListCustomersInCampaign(ctx, campaign)
		if err != nil {
			return fmt.Errorf("list customers of campaign %q: %w", campaign, err)
		}
		for _, id := range ids {
			if _, seen := campaignsOf[id]; !seen {
				customers = append(customers, id)
			}
			campaignsOf[id] = append(campaignsOf[id], campaign)
		}
	}
	if len(customers) == 0 {
		o.logger.Debug("no pending contacts")
		return nil
	}
	o.logger.Info("sync run started", zap.Int("campaigns", len(campaigns)), zap.Int("customers", len(customers)))

	for start := 0; start < len(customers); start += o.cfg.BatchSize {
		batch := customers[start:min(start+o.cfg.BatchSize, len(customers))]
		results := make([]CustomerResult, len(batch))
		states := make([]CustomerState, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, customer := range batch {
			state := o.State(customer)
			g.Go(func() error {
				res, next, err := o.syncCustomer(gctx, customer, campaignsOf[customer], state)
				results[i], states[i] = res, next
				return err
			})
		}
		err := g.Wait()
		o.setStates(batch, states)
		for _, r := range results {
			if r.Customer == "" {
				continue
			}
			summary.add(r)
			o.metrics.CustomerOutcome(string(r.Outcome))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
