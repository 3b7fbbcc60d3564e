package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"wave-service/internal/observability"
)

const TypePurgeExpiredWaves = "wave:purge_expired"

// WavePurger deletes waves that expired before a cutoff.
type WavePurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// PurgePayload overrides the configured retention for a single run.
type PurgePayload struct {
	RetentionSeconds int64 `json:"retention_seconds,omitempty"`
}

func NewPurgeExpiredTask(payload PurgePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal purge payload: %w", err)
	}
	return asynq.NewTask(TypePurgeExpiredWaves, body, asynq.MaxRetry(2), asynq.Timeout(time.Minute)), nil
}

// PurgeHandler removes expired waves once they are past the retention
// window. Reads already hide expired waves; this only reclaims storage.
type PurgeHandler struct {
	waves     WavePurger
	retention time.Duration
	now       func() time.Time
}

func NewPurgeHandler(waves WavePurger, retention time.Duration) *PurgeHandler {
	return &PurgeHandler{waves: waves, retention: retention, now: time.Now}
}

// ProcessTask implements asynq.Handler.
func (h *PurgeHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload PurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("unmarshal purge payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	retention := h.retention
	if payload.RetentionSeconds > 0 {
		retention = time.Duration(payload.RetentionSeconds) * time.Second
	}
	cutoff := h.now().Add(-retention)

	n, err := h.waves.PurgeExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge expired waves: %w", err)
	}

	observability.AddWavesPurged(n)
	logrus.WithFields(logrus.Fields{"purged": n, "cutoff": cutoff}).Info("expired waves purged")
	return nil
}

// Worker runs the purge handler and its periodic schedule.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	interval  time.Duration
	log       *logrus.Entry
}

func NewWorker(redisURL string, handler *PurgeHandler, interval time.Duration) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis uri: %w", err)
	}
	log := logrus.WithField("component", "purge_worker")

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{"maintenance": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retryCount, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.WithFields(logrus.Fields{
				"task_type": task.Type(),
				"retries":   retryCount,
				"max_retry": maxRetry,
			}).WithError(err).Error("task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypePurgeExpiredWaves, handler)

	return &Worker{
		server:    server,
		scheduler: asynq.NewScheduler(opt, &asynq.SchedulerOpts{}),
		mux:       mux,
		interval:  interval,
		log:       log,
	}, nil
}

// Start registers the periodic purge and runs the server and scheduler in the background.
func (w *Worker) Start() error {
	task, err := NewPurgeExpiredTask(PurgePayload{})
	if err != nil {
		return err
	}
	entryID, err := w.scheduler.Register(fmt.Sprintf("@every %s", w.interval), task, asynq.Queue("maintenance"))
	if err != nil {
		return fmt.Errorf("register purge schedule: %w", err)
	}
	w.log.WithFields(logrus.Fields{"entry_id": entryID, "interval": w.interval.String()}).Info("purge schedule registered")

	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker server: %w", err)
	}
	go func() {
		if err := w.scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			w.log.WithError(err).Error("scheduler stopped")
		}
	}()
	return nil
}

func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
	w.log.Info("purge worker stopped")
}
