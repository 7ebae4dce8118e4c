package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"wablast/internal/eventbus"
	"wablast/internal/transport"
	logx "wablast/pkg/logx"
)

// Recorder persists delivery outcomes. Implementations must be cheap;
// the dispatcher calls it inline between sends. May be nil.
type Recorder interface {
	RecordDelivery(ctx context.Context, jobID string, rec DeliveryRecord) error
}

// Service is the job queue plus the dispatcher. Jobs are held in memory in
// FIFO order and drained one at a time; a job runs to a terminal state before
// the next one starts.
type Service struct {
	client transport.Client
	bus    eventbus.Bus
	rec    Recorder
	log    logx.Logger

	mu       sync.Mutex
	runCtx   context.Context
	queue    []*Job
	draining bool
	cur      *runner
}

func New(client transport.Client, bus eventbus.Bus, rec Recorder, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{client: client, bus: bus, rec: rec, log: log}
}

// Start binds the drain loop to ctx. Jobs submitted before Start are rejected.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()
}

// Stop aborts the running job, if any. Queued jobs stay queued; the drain
// loop exits once its context is canceled.
func (s *Service) Stop(context.Context) {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur != nil {
		cur.stop()
	}
}

// Submit validates and enqueues one job, starting the drain loop if idle.
// Validation failures are synchronous; the job never enters the queue.
func (s *Service) Submit(job *Job) (string, error) {
	if job == nil || !job.Template.valid() {
		return "", ErrTemplateInvalid
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.status = StatusPending

	s.mu.Lock()
	ctx := s.runCtx
	if ctx == nil || ctx.Err() != nil {
		s.mu.Unlock()
		return "", context.Canceled
	}
	s.queue = append(s.queue, job)
	startDrain := !s.draining
	if startDrain {
		s.draining = true
	}
	qlen := len(s.queue)
	s.mu.Unlock()

	s.log.Info("job enqueued", logx.String("job", job.ID), logx.Int("recipients", len(job.Recipients)), logx.Int("queue_len", qlen))
	if startDrain {
		go s.drain(ctx)
	}
	return job.ID, nil
}

// drain runs queued jobs strictly in submission order. Only one drain loop is
// ever active; Submit only starts it when the draining flag was clear.
func (s *Service) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || ctx.Err() != nil {
			s.draining = false
			s.mu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		r := newRunner(s, job)
		s.cur = r
		s.mu.Unlock()

		r.run(ctx)

		s.mu.Lock()
		s.cur = nil
		s.mu.Unlock()
	}
}

// Pause suspends the currently running job. Returns false when the job is not
// the one processing right now.
func (s *Service) Pause(jobID string) (bool, string) {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur == nil || cur.job.ID != jobID {
		return false, "job is not running"
	}
	if !cur.pause() {
		return false, "job is not in a pausable state"
	}
	return true, "job paused"
}

// Resume wakes a paused job. Returns false without a prior successful pause.
func (s *Service) Resume(jobID string) (bool, string) {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur == nil || cur.job.ID != jobID {
		return false, "job is not running"
	}
	if !cur.resume() {
		return false, "job is not paused"
	}
	return true, "job resumed"
}

// StopJob aborts the running job at its next safe checkpoint. In-flight
// single sends are never interrupted.
func (s *Service) StopJob(jobID string) (bool, string) {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()
	if cur == nil || cur.job.ID != jobID {
		return false, "job is not running"
	}
	cur.stop()
	return true, "job stopping"
}

// QueueLen reports queued (not yet started) jobs. Diagnostic only.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Service) publish(t string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: t, Data: data})
	}
}
