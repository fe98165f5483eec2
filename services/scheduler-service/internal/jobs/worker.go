package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/libs/events"
	"github.com/purposefullive/coaching-platform/libs/outbox"
)

// Worker turns due jobs into reminder.due events through the outbox. A job
// that cannot be enqueued is retried after Backoff until MaxAttempts, then
// goes to the DLQ topic.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	outbox    *outbox.Repository
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("scheduler batch failed", "err", err)
			}
		}
	}
}

// partition splits due jobs into those still worth sending and those whose
// session has already started.
func partition(jobs []Job, now time.Time) (send []Job, expired []int64) {
	for _, j := range jobs {
		if !j.SessionStart.After(now) {
			expired = append(expired, j.ID)
			continue
		}
		send = append(send, j)
	}
	return send, expired
}

func dueEvent(job Job, reason string) events.ReminderDue {
	return events.ReminderDue{
		SessionID:     job.SessionID,
		CoachID:       job.CoachID,
		Channel:       job.Channel,
		Recipient:     job.Recipient,
		RemindAt:      job.RemindAt.UTC(),
		ScheduledDate: job.SessionStart.UTC(),
		Duration:      job.DurationMinutes,
		ErrorReason:   reason,
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	return w.pool.InTx(ctx, func(tx pgx.Tx) error {
		due, err := w.repo.FetchDue(ctx, tx, w.batchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		now := w.now().UTC()
		send, expired := partition(due, now)
		if err := w.repo.MarkExpired(ctx, tx, expired); err != nil {
			return err
		}
		if len(expired) > 0 {
			w.logger.Info("reminders expired", "count", len(expired))
		}

		var ids []int64
		var failed []Job
		for _, job := range send {
			jobCtx := job.traceContext().Resume(ctx)
			evt, err := outbox.NewEvent("scheduler_job", job.SessionID, events.TopicReminderDue, dueEvent(job, ""))
			if err == nil {
				err = w.outbox.Insert(jobCtx, tx, evt)
			}
			if err != nil {
				w.logger.Warn("reminder enqueue failed", "job_id", job.ID, "err", err)
				failed = append(failed, job)
				continue
			}
			ids = append(ids, job.ID)
		}
		if err := w.repo.MarkProcessed(ctx, tx, ids); err != nil {
			return err
		}

		for _, job := range failed {
			jobCtx := job.traceContext().Resume(ctx)
			attempts := job.Attempts + 1
			if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, now.Add(w.backoff), "outbox enqueue failed"); err != nil {
				return err
			}
			if attempts >= job.MaxAttempts {
				if err := w.enqueueDLQ(jobCtx, tx, job, "max attempts reached"); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (w *Worker) enqueueDLQ(ctx context.Context, tx pgx.Tx, job Job, reason string) error {
	evt, err := outbox.NewEvent("scheduler_job", job.SessionID, events.TopicReminderDLQ, dueEvent(job, reason))
	if err != nil {
		return err
	}
	w.logger.Error("reminder moved to dlq", "job_id", job.ID, "session_id", job.SessionID, "reason", reason)
	return w.outbox.Insert(ctx, tx, evt)
}
