package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/pathos/service/metrics"
	"github.com/brojonat/pathos/service/wallet"
	"github.com/go-co-op/gocron/v2"
)

// Default poll intervals.
const (
	DefaultSlotPollInterval  = 30 * time.Second
	DefaultReconcileInterval = 15 * time.Second
)

// Pollers runs the background slot poll and wallet reconciliation.
type Pollers struct {
	scheduler gocron.Scheduler
	tracker   *ChainTracker
	manager   *wallet.Manager
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPollers registers both jobs. Nothing runs until Start. A non-positive
// interval disables that job.
func NewPollers(ctx context.Context, tracker *ChainTracker, manager *wallet.Manager, slotEvery, reconcileEvery time.Duration, m *metrics.Metrics, logger *slog.Logger) (*Pollers, error) {
	s, err := gocron.NewScheduler(gocron.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	p := &Pollers{
		scheduler: s,
		tracker:   tracker,
		manager:   manager,
		metrics:   m,
		logger:    logger,
	}

	if slotEvery > 0 {
		if err := p.schedule(ctx, "slot-poll", slotEvery, p.pollSlot); err != nil {
			return nil, err
		}
	}
	if reconcileEvery > 0 {
		if err := p.schedule(ctx, "wallet-reconcile", reconcileEvery, p.reconcile); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pollers) schedule(ctx context.Context, name string, every time.Duration, fn func(context.Context)) error {
	_, err := p.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = p.scheduler.Shutdown()
		return fmt.Errorf("failed to schedule %s job: %w", name, err)
	}
	return nil
}

// Start begins running the jobs.
func (p *Pollers) Start() {
	p.logger.Debug("starting pollers")
	p.scheduler.Start()
}

// Stop shuts the scheduler down and waits for running jobs.
func (p *Pollers) Stop() error {
	p.logger.Debug("stopping pollers")
	return p.scheduler.Shutdown()
}

func (p *Pollers) pollSlot(ctx context.Context) {
	_, err := p.tracker.Refresh(ctx)
	p.record("slot-poll", err)
}

func (p *Pollers) reconcile(ctx context.Context) {
	status := "in_sync"
	if p.manager.Reconcile(ctx) {
		status = "desync"
	}
	if p.metrics != nil {
		p.metrics.RecordPollerRun("wallet-reconcile", status)
	}
}

func (p *Pollers) record(job string, err error) {
	if p.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordPollerRun(job, status)
}
