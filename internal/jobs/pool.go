package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"linecare/internal/events"
	"linecare/internal/metrics"
)

const DefaultWorkerCount = 4

// Handler runs one attempt of a job. Return Permanent(err) to stop retrying.
type Handler func(ctx context.Context, env Envelope) error

// FailureFunc is called once when a job will not be retried again.
type FailureFunc func(ctx context.Context, env Envelope, err error)

// PoolConfig holds worker pool configuration
type PoolConfig struct {
	WorkerCount int
	// DefaultTimeout applies to envelopes without their own timeout.
	DefaultTimeout time.Duration
}

// Pool pulls jobs off a Queue and runs them with queue-level retry.
type Pool struct {
	queue    Queue
	config   PoolConfig
	logger   *zap.Logger
	events   events.Broker
	now      func() time.Time
	mu       sync.RWMutex
	handlers map[string]Handler
	failures map[string]FailureFunc
	wg       sync.WaitGroup
	stopCh   chan struct{}
	running  bool
}

func NewPool(q Queue, cfg PoolConfig, broker events.Broker, logger *zap.Logger) *Pool {
	if cfg.WorkerCount <= 0 { cfg.WorkerCount = DefaultWorkerCount }
	if cfg.DefaultTimeout <= 0 { cfg.DefaultTimeout = 5 * time.Minute }
	if broker == nil { broker = events.Nop{} }
	if logger == nil { logger = zap.NewNop() }
	return &Pool{
		queue:    q,
		config:   cfg,
		logger:   logger,
		events:   broker,
		now:      time.Now,
		handlers: map[string]Handler{},
		failures: map[string]FailureFunc{},
	}
}

// Handle registers the handler for a job type.
func (p *Pool) Handle(jobType string, h Handler) {
	p.mu.Lock(); defer p.mu.Unlock()
	p.handlers[jobType] = h
}

// OnFailure registers a callback for jobs of jobType that exhausted their retries.
func (p *Pool) OnFailure(jobType string, f FailureFunc) {
	p.mu.Lock(); defer p.mu.Unlock()
	p.failures[jobType] = f
}

// Start launches the workers. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running { return errors.New("pool already running") }
	p.running = true
	p.stopCh = make(chan struct{})

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-p.stopCh
		cancel()
	}()
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("job pool started", zap.Int("workers", p.config.WorkerCount))
	return nil
}

// Stop signals the workers and waits for in-flight jobs or ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("job pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))
	for {
		env, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) { return }
			log.Warn("dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.Process(ctx, env)
	}
}

// Process runs one attempt of env and reschedules or fails it.
func (p *Pool) Process(ctx context.Context, env Envelope) {
	p.mu.RLock()
	h := p.handlers[env.Type]
	p.mu.RUnlock()
	log := p.logger.With(zap.String("job_id", env.ID), zap.String("job_type", env.Type))

	now := p.now().UTC()
	env.Attempt++
	if env.FirstAttemptAt.IsZero() { env.FirstAttemptAt = now }
	p.publish(env, events.TypeJobStarted, nil)

	var err error
	if h == nil {
		err = Permanent(fmt.Errorf("no handler for job type %q", env.Type))
	} else {
		timeout := env.Timeout
		if timeout <= 0 { timeout = p.config.DefaultTimeout }
		jctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err = safeRun(jctx, h, env)
		metrics.JobDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
		cancel()
	}

	if err == nil {
		metrics.Jobs.WithLabelValues(env.Type, "succeeded").Inc()
		p.publish(env, events.TypeJobSucceeded, nil)
		return
	}
	env.LastError = err.Error()

	if p.retryable(env, err) {
		env.AvailableAt = p.now().UTC().Add(env.Backoff)
		qerr := p.queue.Enqueue(ctx, env)
		if qerr == nil {
			metrics.Jobs.WithLabelValues(env.Type, "retried").Inc()
			log.Warn("job failed, retrying", zap.Int("attempt", env.Attempt), zap.Int("max_attempts", env.MaxAttempts), zap.Duration("backoff", env.Backoff), zap.Error(err))
			p.publish(env, events.TypeJobRetrying, map[string]any{"error": env.LastError})
			return
		}
		log.Error("requeue failed", zap.Error(qerr))
	}

	metrics.Jobs.WithLabelValues(env.Type, "failed").Inc()
	log.Error("job failed", zap.Int("attempt", env.Attempt), zap.Error(err))
	p.publish(env, events.TypeJobFailed, map[string]any{"error": env.LastError})
	p.mu.RLock()
	f := p.failures[env.Type]
	p.mu.RUnlock()
	if f != nil {
		// the job context may already be gone; the callback gets a fresh bounded one
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		f(fctx, env, err)
		cancel()
	}
}

func (p *Pool) retryable(env Envelope, err error) bool {
	if IsPermanent(err) || env.Attempt >= env.MaxAttempts { return false }
	if until := env.RetryUntil(); !until.IsZero() && !p.now().Before(until) { return false }
	return true
}

func (p *Pool) publish(env Envelope, typ string, extra map[string]any) {
	if env.CompanyID == "" { return }
	data := map[string]any{"job_id": env.ID, "job_type": env.Type, "attempt": env.Attempt}
	for k, v := range extra { data[k] = v }
	p.events.Publish(env.CompanyID, events.Event{Type: typ, At: p.now().UTC(), Data: data})
}

func safeRun(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, env)
}
