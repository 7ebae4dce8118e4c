package dispatch

import (
	"context"
	"sync"
	"time"

	"wablast/internal/eventbus"
	logx "wablast/pkg/logx"
)

// runner executes one job's recipient loop. It is created when the job leaves
// the queue and discarded at terminal state.
//
// Pause is edge-triggered: pause() arms a fresh resume channel and the loop
// blocks on it at the next iteration boundary. resume() closes the channel.
// No polling.
type runner struct {
	svc *Service
	job *Job
	log logx.Logger

	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}

	processed int
	success   int
	failed    int
	records   []DeliveryRecord
}

func newRunner(s *Service, job *Job) *runner {
	return &runner{
		svc:    s,
		job:    job,
		log:    s.log.With(logx.String("job", job.ID)),
		stopCh: make(chan struct{}),
	}
}

func (r *runner) setStatus(st JobStatus) {
	r.mu.Lock()
	r.job.status = st
	r.mu.Unlock()
}

func (r *runner) pause() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused || r.job.status != StatusProcessing {
		return false
	}
	r.paused = true
	r.resumeCh = make(chan struct{})
	return true
}

func (r *runner) resume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return false
	}
	r.paused = false
	close(r.resumeCh)
	r.resumeCh = nil
	return true
}

func (r *runner) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *runner) stopped(ctx context.Context) bool {
	select {
	case <-r.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (r *runner) run(ctx context.Context) {
	start := time.Now()
	r.setStatus(StatusProcessing)
	total := len(r.job.Recipients)
	r.log.Info("job started", logx.Int("total", total))

	for _, rcp := range r.job.Recipients {
		if !r.waitIfPaused(ctx) {
			break
		}
		if r.stopped(ctx) {
			break
		}

		body := renderTemplate(pickContent(r.job.Template), rcp)
		r.sendOne(ctx, rcp, body)

		r.processed++
		r.emitProgress(StatusProcessing, false)

		if r.processed < total {
			if !r.sleep(ctx, computeDelay(r.job.Delay)) {
				break
			}
		}
	}

	status := StatusCompleted
	if r.processed < total {
		status = StatusStopped
	}
	r.setStatus(status)
	r.emitProgress(status, true)
	r.log.Info("job finished",
		logx.String("status", string(status)),
		logx.Int("processed", r.processed),
		logx.Int("failed", r.failed),
		logx.Duration("dur", time.Since(start)))
}

// waitIfPaused blocks until resumed when the pause flag is armed. Returns
// false when the wait ended because of stop or context cancellation.
func (r *runner) waitIfPaused(ctx context.Context) bool {
	r.mu.Lock()
	paused := r.paused
	resumeCh := r.resumeCh
	r.mu.Unlock()
	if !paused {
		return true
	}

	r.setStatus(StatusPaused)
	r.emitProgress(StatusPaused, false)
	r.log.Info("job paused", logx.Int("processed", r.processed))

	select {
	case <-resumeCh:
	case <-r.stopCh:
		return false
	case <-ctx.Done():
		return false
	}

	r.setStatus(StatusProcessing)
	r.emitProgress(StatusProcessing, false)
	r.log.Info("job resumed", logx.Int("processed", r.processed))
	return true
}

// sendOne performs one send and appends exactly one DeliveryRecord. A failed
// send never aborts the job.
func (r *runner) sendOne(ctx context.Context, rcp Recipient, body string) {
	var err error
	if r.job.MediaRef != "" {
		err = r.svc.client.SendMedia(ctx, rcp.Phone, body, r.job.MediaRef)
	} else {
		err = r.svc.client.SendText(ctx, rcp.Phone, body)
	}

	rec := DeliveryRecord{Recipient: rcp, At: time.Now()}
	if err != nil {
		rec.Status = DeliveryFailed
		rec.Error = err.Error()
		r.failed++
		r.log.Warn("send failed", logx.String("phone", rcp.Phone), logx.Err(err))
		r.svc.publish(eventbus.TypeJobErrorDetail, ErrorDetail{
			JobID: r.job.ID,
			Phone: rcp.Phone,
			Error: err.Error(),
		})
	} else {
		rec.Status = DeliverySent
		r.success++
	}
	r.records = append(r.records, rec)

	if r.svc.rec != nil {
		if herr := r.svc.rec.RecordDelivery(ctx, r.job.ID, rec); herr != nil {
			r.log.Warn("history write failed", logx.Err(herr))
		}
	}
}

// sleep waits out the inter-message delay. Stop and cancellation cut it
// short; pause does not (the pause checkpoint is the top of the loop).
func (r *runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *runner) emitProgress(status JobStatus, terminal bool) {
	p := Progress{
		JobID:     r.job.ID,
		Processed: r.processed,
		Total:     len(r.job.Recipients),
		Success:   r.success,
		Failed:    r.failed,
		Status:    status,
	}
	if terminal {
		p.Records = append([]DeliveryRecord(nil), r.records...)
	}
	r.svc.publish(eventbus.TypeJobProgress, p)
}
