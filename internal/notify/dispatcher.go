package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"quoteflow/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// Dispatcher runs each job in its own goroutine with a timeout. Errors and
// panics are logged and counted, never returned.
type Dispatcher struct {
	Notifier Notifier
	Log      *zap.Logger
	Metrics  *metrics.Recorder
	Timeout  time.Duration

	wg sync.WaitGroup
}

func NewDispatcher(n Notifier, log *zap.Logger, m *metrics.Recorder, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{Notifier: n, Log: log, Metrics: m, Timeout: timeout}
}

// Dispatch schedules jobs and returns immediately. A nil dispatcher drops them.
func (d *Dispatcher) Dispatch(jobs ...Job) {
	if d == nil || d.Notifier == nil {
		return
	}
	for _, job := range jobs {
		d.wg.Add(1)
		go d.run(job)
	}
}

func (d *Dispatcher) run(job Job) {
	defer d.wg.Done()
	log := d.logger().With(
		zap.String("kind", job.Kind),
		zap.String("quotation_id", job.QuotationID),
		zap.Any("recipient", job.To),
	)
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout())
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("notifier panic: %v", r)
			}
		}()
		return job.Send(ctx, d.Notifier)
	}()
	d.Metrics.Notification(job.Kind, err == nil)
	if err != nil {
		log.Warn("notification failed", zap.Error(err))
		return
	}
	log.Debug("notification sent")
}

// Wait blocks until every dispatched job has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d *Dispatcher) timeout() time.Duration {
	if d.Timeout <= 0 {
		return defaultTimeout
	}
	return d.Timeout
}
