package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/openzim/zimit-broker/internal/redact"
	"github.com/openzim/zimit-broker/internal/worker"
)

// MailJobType identifies mail jobs in worker logs.
const MailJobType = "notification_mail"

// MailJob delivers one message on the worker pool.
type MailJob struct {
	id     uuid.UUID
	msg    Message
	mailer Mailer
}

// NewMailJob creates a job sending msg with mailer.
func NewMailJob(msg Message, mailer Mailer) *MailJob {
	return &MailJob{id: uuid.New(), msg: msg, mailer: mailer}
}

// ID returns the job's unique identifier.
func (j *MailJob) ID() uuid.UUID { return j.id }

// Type returns MailJobType.
func (j *MailJob) Type() string { return MailJobType }

// Execute sends the message.
func (j *MailJob) Execute(ctx context.Context) error {
	if err := j.mailer.Send(ctx, j.msg); err != nil {
		return fmt.Errorf("mail job %s: %w", j.id, err)
	}
	return nil
}

// Dispatcher hands messages to the worker pool so webhook calls return
// without waiting for the SMTP relay.
type Dispatcher struct {
	queue  worker.QueueWriter
	mailer Mailer
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher enqueueing mail jobs on queue.
func NewDispatcher(queue worker.QueueWriter, mailer Mailer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, mailer: mailer, logger: logger}
}

// Deliver schedules msg for delivery.
func (d *Dispatcher) Deliver(_ context.Context, msg Message) error {
	job := NewMailJob(msg, d.mailer)
	if err := d.queue.Enqueue(job); err != nil {
		d.logger.Error("failed to enqueue mail",
			"job_id", job.ID(),
			"error", redact.Error(err))
		return fmt.Errorf("failed to enqueue mail: %w", err)
	}
	return nil
}

// ErrorHandler logs failed mail jobs. It is meant for worker.Pool.SetErrorHandler.
func (d *Dispatcher) ErrorHandler(job worker.Job, err error) {
	d.logger.Error("mail delivery failed",
		"job_id", job.ID(),
		"job_type", job.Type(),
		"error", redact.Error(err))
}
