package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/amityvox/notifyd/internal/models"
	"github.com/amityvox/notifyd/internal/senders"
)

// CredentialResolver is the subset of the Credential & Branding Cache the
// worker pool needs to fetch secrets for a send.
type CredentialResolver interface {
	Credential(ctx context.Context, tenantID string, channel models.Channel) (*models.Credential, error)
	RecordAuthFailure(ctx context.Context, tenantID string, channel models.Channel)
	RecordAuthSuccess(ctx context.Context, tenantID string, channel models.Channel)
}

// DeviceDeactivator is the subset of the device token registry the worker
// pool needs to act on a Sender's Inactive signal.
type DeviceDeactivator interface {
	Deactivate(ctx context.Context, tenantID, token string) error
}

// Pool runs a fixed number of worker goroutines claiming and processing
// DeliveryRecords, plus a background sweeper that reclaims expired leases.
type Pool struct {
	queue        *Queue
	senders      *senders.Registry
	credentials  CredentialResolver
	devices      DeviceDeactivator
	backoff      BackoffPolicy
	size         int
	claimBatch   int
	pollInterval time.Duration
	sendTimeout  time.Duration
	leaseTimeout time.Duration
	sweepEvery   time.Duration
	logger       *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Config configures a Pool.
type Config struct {
	Queue        *Queue
	Senders      *senders.Registry
	Credentials  CredentialResolver
	Devices      DeviceDeactivator
	Backoff      BackoffPolicy
	Size         int
	ClaimBatch   int
	PollInterval time.Duration
	SendTimeout  time.Duration
	LeaseTimeout time.Duration
	SweepEvery   time.Duration
	Logger       *slog.Logger
}

// NewPool constructs a Pool from cfg, applying defaults for zero values.
func NewPool(cfg Config) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = 16
	}
	claimBatch := cfg.ClaimBatch
	if claimBatch <= 0 {
		claimBatch = size
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	leaseTimeout := cfg.LeaseTimeout
	if leaseTimeout <= 0 {
		leaseTimeout = 120 * time.Second
	}
	sweepEvery := cfg.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = leaseTimeout / 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		queue:        cfg.Queue,
		senders:      cfg.Senders,
		credentials:  cfg.Credentials,
		devices:      cfg.Devices,
		backoff:      cfg.Backoff,
		size:         size,
		claimBatch:   claimBatch,
		pollInterval: pollInterval,
		sendTimeout:  sendTimeout,
		leaseTimeout: leaseTimeout,
		sweepEvery:   sweepEvery,
		logger:       logger,
	}
}

// Start launches the worker goroutines and the lease sweeper. Call Stop to
// shut down gracefully.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}

	p.wg.Add(1)
	go p.runSweeper(ctx)
}

// Stop signals all workers and the sweeper to exit and waits for them.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx, id)
		}
	}
}

func (p *Pool) drainOnce(ctx context.Context, workerID int) {
	records, err := p.queue.Claim(ctx, 1)
	if err != nil {
		p.logger.Error("delivery: claim failed", slog.Int("worker", workerID), slog.String("error", err.Error()))
		return
	}
	for _, rec := range records {
		p.process(ctx, rec)
	}
}

func (p *Pool) process(ctx context.Context, rec *models.DeliveryRecord) {
	logger := p.logger.With(slog.String("delivery_id", rec.ID.String()), slog.String("tenant_id", rec.TenantID), slog.String("channel", string(rec.Channel)))

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	cred, err := p.credentials.Credential(sendCtx, rec.TenantID, rec.Channel)
	if err != nil {
		logger.Warn("delivery: credential resolution failed", slog.String("error", err.Error()))
		p.retry(ctx, rec, models.FailureAuth, err.Error())
		return
	}

	sender, ok := p.senders.For(rec.Channel)
	if !ok {
		logger.Error("delivery: no sender registered for channel")
		if err := p.queue.MarkFailed(ctx, rec.ID, models.FailureInternal, "no sender registered"); err != nil {
			logger.Error("delivery: marking failed", slog.String("error", err.Error()))
		}
		return
	}

	result, err := sender.Send(sendCtx, cred, rec.Content, rec.Recipient)
	if err == nil {
		p.credentials.RecordAuthSuccess(ctx, rec.TenantID, rec.Channel)
		if err := p.queue.MarkSuccess(ctx, rec.ID, result.ProviderResponse); err != nil {
			logger.Error("delivery: marking success", slog.String("error", err.Error()))
		}
		return
	}

	var sendErr *senders.SendError
	if !errors.As(err, &sendErr) {
		sendErr = &senders.SendError{Reason: models.FailureInternal, Retriable: true, Err: err}
	}
	if sendErr.Reason == models.FailureAuth {
		p.credentials.RecordAuthFailure(ctx, rec.TenantID, rec.Channel)
	}

	logger.Warn("delivery: send failed", slog.String("reason", string(sendErr.Reason)), slog.Bool("retriable", sendErr.Retriable))

	if sendErr.Inactive && p.devices != nil {
		if err := p.devices.Deactivate(ctx, rec.TenantID, rec.Recipient); err != nil {
			logger.Warn("delivery: deactivating device token failed", slog.String("error", err.Error()))
		}
	}

	if !sendErr.Retriable {
		if err := p.queue.MarkFailed(ctx, rec.ID, sendErr.Reason, sendErr.ProviderResponse); err != nil {
			logger.Error("delivery: marking failed", slog.String("error", err.Error()))
		}
		return
	}
	p.retry(ctx, rec, sendErr.Reason, sendErr.ProviderResponse)
}

func (p *Pool) retry(ctx context.Context, rec *models.DeliveryRecord, reason models.FailureReason, providerResponse string) {
	delay := p.backoff.NextDelay(rec.RetryCount)
	next := time.Now().Add(delay)
	if err := p.queue.MarkRetry(ctx, rec.ID, reason, providerResponse, next); err != nil {
		p.logger.Error("delivery: marking retry", slog.String("delivery_id", rec.ID.String()), slog.String("error", err.Error()))
	}
}

func (p *Pool) runSweeper(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.ReclaimExpiredLeases(ctx, p.leaseTimeout)
			if err != nil {
				p.logger.Error("delivery: lease reclaim failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Info("delivery: reclaimed expired leases", slog.Int64("count", n))
			}
		}
	}
}
