package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task purges one kind of dead record older than cutoff and reports how
// many rows it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls the purge cadence.
type Config struct {
	Interval time.Duration
	// Retention keeps expired rows around for this long before purging.
	Retention time.Duration
	Now       func() time.Time
	// OnPurged is called after every task run that removed rows.
	OnPurged func(task string, n int64)
}

// Worker runs its tasks on a ticker until stopped.
type Worker struct {
	cfg    Config
	tasks  []Task
	logger *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWorker returns an idle worker. Call Start to begin ticking.
func NewWorker(cfg Config, logger *zap.Logger, tasks ...Task) *Worker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:    cfg,
		tasks:  tasks,
		logger: logger.Named("cleanup"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the loop in a goroutine. It returns when ctx is cancelled or
// Stop is called.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce executes every task once and returns the total rows removed.
// Task errors are logged and do not stop later tasks.
func (w *Worker) RunOnce(ctx context.Context) int64 {
	cutoff := w.cfg.Now().Add(-w.cfg.Retention)
	var total int64
	for _, task := range w.tasks {
		n, err := task.Run(ctx, cutoff)
		if err != nil {
			w.logger.Warn("cleanup task failed", zap.String("task", task.Name), zap.Error(err))
			continue
		}
		if n > 0 {
			w.logger.Debug("cleanup task purged rows", zap.String("task", task.Name), zap.Int64("rows", n))
			if w.cfg.OnPurged != nil {
				w.cfg.OnPurged(task.Name, n)
			}
		}
		total += n
	}
	return total
}

// Stop signals the loop to exit. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}

// Wait blocks until a started loop has exited.
func (w *Worker) Wait() {
	<-w.done
}
