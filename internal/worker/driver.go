// Package worker implements the model driver: a polling loop that
// leases one task at a time from the queue daemon, runs the model
// subprocess, renders the results PDF and mails it to the submitter.
package worker

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/client"
	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/queue"
	"github.com/ternarybob/numerus/internal/task"
)

// Driver runs one task at a time against a queue daemon.
type Driver struct {
	config   *common.Config
	client   *client.Client
	registry *model.Registry
	sender   mailer.Sender
	emails   *task.Emails
	logger   arbor.ILogger
}

func NewDriver(
	config *common.Config,
	qc *client.Client,
	registry *model.Registry,
	sender mailer.Sender,
	emails *task.Emails,
	logger arbor.ILogger,
) *Driver {
	return &Driver{
		config:   config,
		client:   qc,
		registry: registry,
		sender:   sender,
		emails:   emails,
		logger:   logger,
	}
}

// Run polls for work until the context is cancelled. Transport errors
// back the loop off; they never terminate it.
func (d *Driver) Run(ctx context.Context) {
	d.logger.Info().
		Int("models", d.registry.Len()).
		Msg("Worker driver started")

	if err := d.client.Info(); err != nil {
		d.logger.Warn().Err(err).Msg("Initial queue check-in failed")
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Worker driver stopping")
			return
		default:
		}

		worked, err := d.pollOnce(ctx)
		switch {
		case err != nil:
			d.logger.Warn().Err(err).Msg("Queue request failed, backing off")
			sleep(ctx, d.config.Worker.ErrorSleep())
		case !worked:
			sleep(ctx, d.config.Worker.RequestSleep())
		}
	}
}

// supportedVersions is the (name, version) list advertised on each pull.
func (d *Driver) supportedVersions() []queue.VersionKey {
	pairs := d.registry.Versions()
	keys := make([]queue.VersionKey, 0, len(pairs))
	for _, p := range pairs {
		keys = append(keys, queue.VersionKey{Name: p[0], Version: p[1]})
	}
	return keys
}

// pollOnce asks for a task and processes it. Returns false when the
// queue had nothing for us.
func (d *Driver) pollOnce(ctx context.Context) (bool, error) {
	rec, err := d.client.WorkTask(d.supportedVersions())
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	t, err := task.FromRecord(d.registry, *rec)
	if err != nil {
		// The daemon vouched for this record; a decode failure here
		// means our registry moved underneath us. Hand the task back.
		d.logger.Error().Err(err).Int64("task_id", int64(rec.TaskID)).Msg("Failed to decode leased task")
		d.reportFailure(rec.TaskID)
		return true, nil
	}

	d.process(ctx, t)
	return true, nil
}

// process runs the full lifecycle of one leased task.
func (d *Driver) process(ctx context.Context, t *task.Task) {
	d.logger.Info().
		Int64("task_id", int64(t.TaskID)).
		Str("model", t.Definition.ShortName).
		Str("run", t.VisibleID).
		Msg("Claimed task")

	stopHeartbeat := d.startHeartbeat(ctx, t.TaskID)
	email, err := d.runTask(ctx, t)
	stopHeartbeat()

	if err != nil {
		d.logger.Warn().Err(err).Int64("task_id", int64(t.TaskID)).Msg("Task attempt failed")
		d.reportFailure(t.TaskID)
		return
	}

	// The sweeper may have reclaimed the task while the model ran. If
	// our lease is gone a replacement worker owns the run now; sending
	// would double up the results email.
	leased, err := d.client.HasTask(t.TaskID)
	if err != nil {
		d.logger.Warn().Err(err).Int64("task_id", int64(t.TaskID)).Msg("Lease check failed")
		d.reportFailure(t.TaskID)
		return
	}
	if !leased {
		d.logger.Warn().Int64("task_id", int64(t.TaskID)).Msg("Lease lost during run, dropping results")
		return
	}

	if err := d.sender.Send(email); err != nil {
		d.logger.Error().Err(err).Int64("task_id", int64(t.TaskID)).Msg("Results email failed")
		d.reportFailure(t.TaskID)
		return
	}

	if err := d.client.Succeed(t.TaskID); err != nil {
		d.logger.Warn().Err(err).Int64("task_id", int64(t.TaskID)).Msg("Success report failed")
		return
	}

	d.logger.Info().
		Int64("task_id", int64(t.TaskID)).
		Str("run", t.VisibleID).
		Msg("Task completed, results mailed")
}

// runTask executes the model and builds the results email. The working
// directory is removed on return regardless of outcome.
func (d *Driver) runTask(ctx context.Context, t *task.Task) (*mailer.Email, error) {
	exe, err := newExecution(d.config.Models.WorkDir, t, d.logger)
	if err != nil {
		return nil, err
	}
	defer exe.Close()

	if err := exe.Run(ctx); err != nil {
		return nil, err
	}

	text, binary, err := exe.Attachments()
	if err != nil {
		return nil, err
	}

	report, err := buildReport(ctx, d.config.Latex, t, exe)
	if err != nil {
		return nil, err
	}
	binary = append([]mailer.Attachment{report}, binary...)

	return d.emails.Results(t, text, binary)
}

// startHeartbeat keeps the lease alive while the model runs. Heartbeat
// failures are logged but never abort the run.
func (d *Driver) startHeartbeat(ctx context.Context, taskID uint64) func() {
	done := make(chan struct{})

	common.SafeGoWithContext(ctx, d.logger, "task-heartbeat", func(ctx context.Context) {
		ticker := time.NewTicker(d.config.Queue.KeepAliveIntervalDuration())
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.client.KeepAlive(taskID); err != nil {
					d.logger.Warn().Err(err).Int64("task_id", int64(taskID)).Msg("Heartbeat failed")
				}
			}
		}
	})

	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}

func (d *Driver) reportFailure(taskID uint64) {
	if err := d.client.Failed(taskID); err != nil {
		d.logger.Warn().Err(err).Int64("task_id", int64(taskID)).Msg("Failure report failed")
	}
}

func sleep(ctx context.Context, dur time.Duration) {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
