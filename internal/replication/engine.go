// Package replication drives one client's push and pull pipelines against
// the server's feed/set API, tracks the pull checkpoint, and reacts to
// change-channel events.
package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ohboy/herosync/internal/client"
	"github.com/ohboy/herosync/internal/document"
	"github.com/ohboy/herosync/internal/localstore"
	"github.com/ohboy/herosync/internal/notify"
	"github.com/ohboy/herosync/pkg/logger"
	"github.com/ohboy/herosync/pkg/metrics"
)

// ErrPullHalted marks a server-rejected checkpoint. Fatal for this
// collection's pull pipeline: push keeps running, pull stays halted until
// ResetCheckpoint.
var ErrPullHalted = errors.New("pull halted: checkpoint rejected")

const (
	defaultBatchSize    = 50
	defaultLiveInterval = 10 * time.Minute
	defaultMaxRetries   = 5
	retryBaseDelay      = 500 * time.Millisecond
	retryMaxDelay       = 10 * time.Second
)

type Config struct {
	// Endpoint is the server base URL for feed/set.
	Endpoint string
	// ChangedURL is the websocket change-channel URL; empty disables the
	// channel and replication relies on LiveInterval polling alone.
	ChangedURL string
	// Token is an optional bearer token for both transports.
	Token string
	// BatchSize bounds pull/push chunks.
	BatchSize int
	// LiveInterval is the fallback polling period when no change event
	// arrives.
	LiveInterval time.Duration
	// Initial makes Start block until the first pull pass drains, so the
	// caller never renders a never-synced state. Offline-first callers
	// must leave it false.
	Initial bool
	// MaxRetries bounds backoff retries of one transient failure.
	MaxRetries int

	// Change-channel tuning, passed through to the subscriber.
	ReconnectAttempts int
	InactivityTimeout time.Duration
	ConnectTimeout    time.Duration
}

// Engine replicates one collection. It exclusively owns its local store,
// checkpoint and channel subscription; cycles never overlap thanks to a
// single-slot coalescing queue: one in-flight cycle plus at most one queued
// request, extra Run calls are dropped.
type Engine struct {
	cfg   Config
	api   *client.Client
	local localstore.Store
	sub   *notify.Subscriber

	mu         sync.Mutex
	inFlight   bool
	pendingRun bool

	runCh chan struct{}
	errs  chan error

	initialDone chan struct{}
	initialOnce sync.Once

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	pullHaltedMu sync.Mutex
	pullHalted   bool
}

func New(cfg Config, local localstore.Store) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LiveInterval <= 0 {
		cfg.LiveInterval = defaultLiveInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Engine{
		cfg:         cfg,
		api:         client.New(client.Config{Endpoint: cfg.Endpoint, Token: cfg.Token}),
		local:       local,
		runCh:       make(chan struct{}, 1),
		errs:        make(chan error, 16),
		initialDone: make(chan struct{}),
		stop:        make(chan struct{}),
	}
}

// Start launches the replication worker, the polling ticker and, when
// configured, the change-channel subscriber, then triggers the first cycle.
// With cfg.Initial it blocks until that cycle's pull pass has drained.
func (e *Engine) Start(ctx context.Context) error {
	e.wg.Add(1)
	go e.worker(ctx)

	if e.cfg.ChangedURL != "" {
		e.sub = notify.NewSubscriber(notify.SubscriberConfig{
			URL:               e.cfg.ChangedURL,
			Token:             e.cfg.Token,
			ReconnectAttempts: e.cfg.ReconnectAttempts,
			InactivityTimeout: e.cfg.InactivityTimeout,
			ConnectTimeout:    e.cfg.ConnectTimeout,
		}, func(ev notify.Event) {
			logger.Debugf("change event for %s, triggering replication", ev.ID)
			e.Run()
		}, e.report)
		e.sub.Start()
	}

	e.Run()

	if e.cfg.Initial {
		return e.AwaitInitialReplication(ctx)
	}
	return nil
}

// Run requests a replication cycle. If one is in flight the request is
// coalesced into a single queued cycle; concurrent duplicates are dropped.
func (e *Engine) Run() {
	e.mu.Lock()
	if e.inFlight {
		e.pendingRun = true
		e.mu.Unlock()
		return
	}
	e.inFlight = true
	e.mu.Unlock()

	select {
	case e.runCh <- struct{}{}:
	default:
	}
}

// AwaitInitialReplication blocks until the first pull pass since Start has
// reached checkpoint exhaustion.
func (e *Engine) AwaitInitialReplication(ctx context.Context) error {
	select {
	case <-e.initialDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors exposes the error-notification stream. Transient failures are
// retried internally and only surfaced here for observability.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// Upsert records a local edit and schedules a push.
func (e *Engine) Upsert(doc document.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := e.local.Put(doc); err != nil {
		return err
	}
	e.Run()
	return nil
}

// Remove tombstones a document locally and schedules the push. The
// tombstone is retained in the local store; only the visible projection
// hides it.
func (e *Engine) Remove(id string) error {
	doc, found, err := e.local.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("remove %s: not in local store", id)
	}
	doc.Deleted = true
	if err := e.local.Put(doc); err != nil {
		return err
	}
	e.Run()
	return nil
}

// ResetCheckpoint discards the persisted checkpoint and unhalts the pull
// pipeline. Operator escape hatch for a corrupted cursor; the next pull
// restarts from the origin (re-applies are idempotent).
func (e *Engine) ResetCheckpoint() error {
	if err := e.local.SetCheckpoint(document.Checkpoint{}); err != nil {
		return err
	}
	e.pullHaltedMu.Lock()
	e.pullHalted = false
	e.pullHaltedMu.Unlock()
	e.Run()
	return nil
}

// Stop lets any in-flight cycle finish applying its current batch, then
// releases the channel subscription and the worker. The local store is not
// closed; its owner does that.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
		if e.sub != nil {
			e.sub.Stop()
		}
	})
	e.wg.Wait()
}

func (e *Engine) worker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.LiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.runCh:
			e.cycle(ctx)
			for {
				e.mu.Lock()
				if e.pendingRun {
					e.pendingRun = false
					e.mu.Unlock()
					e.cycle(ctx)
					continue
				}
				e.inFlight = false
				e.mu.Unlock()
				break
			}
		case <-ticker.C:
			e.Run()
		case <-e.stop:
			return
		}
	}
}

// cycle is one full replication pass: push first so our edits get their
// stamps, then pull so the echoed writes (and everyone else's) land locally.
// A push failure never blocks the pull pass.
func (e *Engine) cycle(ctx context.Context) {
	e.pushPass(ctx)
	e.pullPass(ctx)
	metrics.ReplicationCycles.Inc()
}

func (e *Engine) pushPass(ctx context.Context) {
	pending, err := e.local.Pending()
	if err != nil {
		e.report(fmt.Errorf("push: read pending: %w", err))
		return
	}
	if len(pending) == 0 {
		return
	}
	logger.Debugf("push: %d pending documents", len(pending))

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		for _, doc := range pending[start:end] {
			err := e.withRetry(ctx, func() error {
				_, err := e.api.Set(ctx, doc)
				return err
			})
			switch {
			case errors.Is(err, client.ErrRejected):
				// poison pill: park it and move on
				if rerr := e.local.Reject(doc.ID); rerr != nil {
					e.report(fmt.Errorf("push: reject %s: %w", doc.ID, rerr))
				}
				e.report(fmt.Errorf("push: document %s rejected: %w", doc.ID, err))
			case err != nil:
				// transient even after retries; keep it pending and
				// let the next cycle try again
				e.report(fmt.Errorf("push: %w", err))
				return
			default:
				if aerr := e.local.Ack(doc.ID); aerr != nil {
					e.report(fmt.Errorf("push: ack %s: %w", doc.ID, aerr))
					return
				}
				metrics.DocumentsPushed.Inc()
			}
		}
	}
}

func (e *Engine) pullPass(ctx context.Context) {
	e.pullHaltedMu.Lock()
	halted := e.pullHalted
	e.pullHaltedMu.Unlock()
	if halted {
		return
	}

	cp, err := e.local.Checkpoint()
	if err != nil {
		e.report(fmt.Errorf("pull: load checkpoint: %w", err))
		return
	}

	for {
		var docs []document.Document
		err := e.withRetry(ctx, func() error {
			var ferr error
			docs, ferr = e.api.Feed(ctx, cp, e.cfg.BatchSize)
			return ferr
		})
		if errors.Is(err, client.ErrRejected) {
			e.pullHaltedMu.Lock()
			e.pullHalted = true
			e.pullHaltedMu.Unlock()
			e.report(fmt.Errorf("%w: %v", ErrPullHalted, err))
			return
		}
		if err != nil {
			e.report(fmt.Errorf("pull: %w", err))
			return
		}

		for _, doc := range docs {
			if err := e.local.Apply(doc); err != nil {
				e.report(fmt.Errorf("pull: apply %s: %w", doc.ID, err))
				return
			}
			cp = doc.Key()
			// persist after every applied document so a crash
			// mid-batch resumes exactly where it stopped
			if err := e.local.SetCheckpoint(cp); err != nil {
				e.report(fmt.Errorf("pull: persist checkpoint: %w", err))
				return
			}
			metrics.DocumentsPulled.Inc()
		}

		if len(docs) < e.cfg.BatchSize {
			// short batch: checkpoint exhausted
			e.initialOnce.Do(func() { close(e.initialDone) })
			return
		}
	}
}

// withRetry runs op, retrying transient failures with bounded exponential
// backoff up to cfg.MaxRetries attempts.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !errors.Is(err, client.ErrTransient) || attempt >= e.cfg.MaxRetries {
			return err
		}
		logger.Debugf("transient failure (attempt %d/%d), retrying in %s: %v",
			attempt, e.cfg.MaxRetries, delay, err)
		select {
		case <-time.After(delay):
		case <-e.stop:
			return err
		case <-ctx.Done():
			return err
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}

func (e *Engine) report(err error) {
	logger.Warnf("replication: %v", err)
	select {
	case e.errs <- err:
	default:
	}
}
