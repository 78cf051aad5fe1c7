package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/model"
	badger "github.com/ternarybob/numerus/internal/storage/badger"
	"github.com/ternarybob/numerus/internal/task"
)

// ConfirmStatus is the outcome of a confirmation attempt.
type ConfirmStatus int

const (
	ConfirmOK ConfirmStatus = iota
	ConfirmAlready
	ConfirmUnknown
)

// PullStatus is the outcome of a worker work request.
type PullStatus int

const (
	PullOK PullStatus = iota
	PullEmptyQueue
	PullNoVersion
)

// State ties the task queue, confirmation map, id counter, worker
// check-in clock and durable snapshot together. All HTTP handlers and
// the sweeper operate through it.
type State struct {
	config     *common.Config
	logger     arbor.ILogger
	registry   *model.Registry
	emails     *task.Emails
	dispatcher *mailer.Dispatcher
	store      *badger.Store
	metrics    *Collector

	Tasks         *TaskQueue
	Confirmations *ConfirmationMap

	idMu      sync.Mutex
	idCounter uint64

	checkinMu         sync.Mutex
	lastWorkerCheckin time.Time

	confirmedMu         sync.Mutex
	previouslyConfirmed map[string]bool
}

func NewState(
	config *common.Config,
	registry *model.Registry,
	emails *task.Emails,
	dispatcher *mailer.Dispatcher,
	store *badger.Store,
	logger arbor.ILogger,
) *State {
	return &State{
		config:              config,
		logger:              logger,
		registry:            registry,
		emails:              emails,
		dispatcher:          dispatcher,
		store:               store,
		metrics:             NewCollector(),
		Tasks:               NewTaskQueue(),
		Confirmations:       NewConfirmationMap(config.Queue.ConfirmTimeoutDuration()),
		previouslyConfirmed: make(map[string]bool),
	}
}

// Metrics exposes the daemon's Prometheus collector.
func (s *State) Metrics() *Collector { return s.metrics }

// NewTaskID returns the next value of the monotonic task id counter.
func (s *State) NewTaskID() uint64 {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.idCounter++
	return s.idCounter
}

// TouchWorkerCheckin records that some worker just talked to us.
func (s *State) TouchWorkerCheckin() {
	s.checkinMu.Lock()
	defer s.checkinMu.Unlock()
	s.lastWorkerCheckin = time.Now()
}

// HasWorkers reports whether any worker has checked in within the
// keep-alive timeout. The web frontend shows a warning banner when this
// is false.
func (s *State) HasWorkers() bool {
	s.checkinMu.Lock()
	defer s.checkinMu.Unlock()
	if s.lastWorkerCheckin.IsZero() {
		return false
	}
	return time.Since(s.lastWorkerCheckin) < s.config.Queue.KeepAliveTimeoutDuration()
}

// Load restores pending tasks, outstanding confirmations and the id
// counter from the snapshot. Records whose model version no longer
// resolves are dropped with a notification email to their submitter.
func (s *State) Load() error {
	snap, ok, err := s.store.LoadSnapshot()
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Info().Msg("No queue snapshot on disk, starting fresh")
		return nil
	}

	s.idMu.Lock()
	s.idCounter = snap.IDCounter
	s.idMu.Unlock()

	restored, lost := 0, 0
	for _, rec := range snap.Pending {
		t, err := task.FromRecord(s.registry, rec)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("model", rec.ModelName).
				Str("email", rec.EmailAddress).
				Msg("Dropping unrestorable task, notifying submitter")
			s.sendEmail(s.emails.Lost(rec))
			lost++
			continue
		}
		s.Tasks.Put(t)
		restored++
	}

	restoredCodes, lostCodes := 0, 0
	for code, rec := range snap.Confirmations {
		t, err := task.FromRecord(s.registry, rec)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("model", rec.ModelName).
				Str("email", rec.EmailAddress).
				Msg("Dropping unrestorable confirmation, notifying submitter")
			s.sendEmail(s.emails.ConfirmationFailed(rec))
			lostCodes++
			continue
		}
		if err := s.Confirmations.PutWithCode(t, code); err != nil {
			s.logger.Warn().Err(err).Msg("Skipping duplicate confirmation code in snapshot")
			lostCodes++
			continue
		}
		restoredCodes++
	}

	s.logger.Info().
		Int("tasks", restored).
		Int("lost_tasks", lost).
		Int("codes", restoredCodes).
		Int("lost_codes", lostCodes).
		Msg("Restored queue state from disk")
	s.updateGauges()
	return nil
}

// Sync writes the current state to disk. In-flight tasks are flattened
// into the pending list so a crash returns them to the queue. Failures
// are logged, not fatal: the in-memory queue keeps serving.
func (s *State) Sync() {
	all := s.Tasks.All()
	pending := make([]task.Record, 0, len(all))
	for _, t := range all {
		pending = append(pending, t.Record())
	}

	confirmations := make(map[string]task.Record)
	for code, t := range s.Confirmations.Entries() {
		confirmations[code] = t.Record()
	}

	s.idMu.Lock()
	counter := s.idCounter
	s.idMu.Unlock()

	if err := s.store.SaveSnapshot(badger.Snapshot{
		Pending:       pending,
		Confirmations: confirmations,
		IDCounter:     counter,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to sync queue state to disk")
	}
}

// CreateTask validates a submission, assigns it a task id, stores it in
// the confirmation map and mails the submitter a confirmation link.
func (s *State) CreateTask(rec task.Record) (*task.Task, string, error) {
	t, err := task.FromRecord(s.registry, rec)
	if err != nil {
		return nil, "", err
	}
	t.TaskID = s.NewTaskID()
	if t.VisibleID == "" {
		t.VisibleID = common.NewVisibleID()
	}

	code := s.Confirmations.Put(t)
	s.logger.Info().
		Str("email", t.EmailAddress).
		Str("model", t.Definition.ShortName).
		Int64("task_id", int64(t.TaskID)).
		Msg("Created run request, confirmation required")

	s.sendEmail(s.emails.Confirmation(t, code))
	s.metrics.RecordSubmitted()
	s.updateGauges()
	s.Sync()
	return t, code, nil
}

// Confirm moves a request from the confirmation map onto the task queue.
// Re-visiting an already used code is reported distinctly so the web
// frontend can show a friendly page instead of an error.
func (s *State) Confirm(code string) ConfirmStatus {
	// Expire old confirmations first so a stale code cannot sneak in.
	if expired := s.Confirmations.ExpireStale(); expired > 0 {
		s.logger.Info().Int("count", expired).Msg("Expired confirmations")
	}

	t, err := s.Confirmations.Take(code)
	if err != nil {
		s.confirmedMu.Lock()
		already := s.previouslyConfirmed[code]
		s.confirmedMu.Unlock()
		if already {
			return ConfirmAlready
		}
		return ConfirmUnknown
	}

	s.confirmedMu.Lock()
	s.previouslyConfirmed[code] = true
	s.confirmedMu.Unlock()

	s.Tasks.Put(t)
	s.logger.Info().
		Int64("task_id", int64(t.TaskID)).
		Str("model", t.Definition.ShortName).
		Msg("Request confirmed, queued for workers")

	s.metrics.RecordConfirmed()
	s.updateGauges()
	s.Sync()
	return ConfirmOK
}

// PullWork leases the oldest pending task matching one of the worker's
// supported model versions.
func (s *State) PullWork(supported map[VersionKey]bool) (*task.Task, PullStatus) {
	s.TouchWorkerCheckin()

	if s.Tasks.IsEmpty() {
		return nil, PullEmptyQueue
	}
	t := s.Tasks.PullNextVersioned(supported)
	if t == nil {
		return nil, PullNoVersion
	}
	s.Tasks.PutInflight(t)
	s.updateGauges()
	return t, PullOK
}

// KeepAlive refreshes the heartbeat on a leased task.
func (s *State) KeepAlive(taskID uint64) error {
	s.TouchWorkerCheckin()
	return s.Tasks.Touch(taskID)
}

// HasTask reports whether a task id is still leased. Workers call this
// right before mailing results to avoid duplicate sends after their
// lease was reclaimed.
func (s *State) HasTask(taskID uint64) bool {
	s.TouchWorkerCheckin()
	return s.Tasks.HasInflight(taskID)
}

// Succeed removes a completed task from the in-flight stage.
func (s *State) Succeed(taskID uint64) error {
	s.TouchWorkerCheckin()

	t, err := s.Tasks.PullInflight(taskID)
	if err != nil {
		return err
	}
	s.logger.Info().
		Int64("task_id", int64(t.TaskID)).
		Str("model", t.Definition.ShortName).
		Msg("Task completed")

	s.metrics.RecordCompleted()
	s.updateGauges()
	s.Sync()
	return nil
}

// Fail records a worker-reported failure. The task returns to the
// pending stage until it reaches the failure cap, at which point the
// submitter is notified and the task is dropped.
func (s *State) Fail(taskID uint64) error {
	s.TouchWorkerCheckin()

	t, err := s.Tasks.PullInflight(taskID)
	if err != nil {
		return err
	}

	t.FailureCount++
	s.logger.Warn().
		Int64("task_id", int64(t.TaskID)).
		Int("failures", t.FailureCount).
		Msg("Worker reported task failure")

	if t.FailureCount >= s.config.Queue.MaxJobFailures {
		s.logger.Warn().Int64("task_id", int64(t.TaskID)).Msg("Failure cap reached, notifying submitter")
		s.sendEmail(s.emails.Failure(t))
		s.metrics.RecordFailed()
	} else {
		// Retries get a fresh id so late calls from the worker that
		// reported the failure cannot touch the requeued task.
		t.TaskID = s.NewTaskID()
		s.Tasks.Put(t)
		s.metrics.RecordRequeued()
	}

	s.updateGauges()
	s.Sync()
	return nil
}

// ExpireLeases reclaims in-flight tasks whose heartbeats stopped. A
// reclaimed task gets a fresh task id before requeueing so a late
// report from the presumed-dead worker cannot touch it.
func (s *State) ExpireLeases() {
	cutoff := time.Now().Add(-s.config.Queue.KeepAliveTimeoutDuration())
	stale := s.Tasks.PullInflightOlderThan(cutoff)
	if len(stale) == 0 {
		return
	}

	s.logger.Info().Int("count", len(stale)).Msg("Reclaiming tasks from silent workers")
	for _, t := range stale {
		t.FailureCount++
		s.metrics.RecordExpired()
		s.logger.Warn().
			Int64("task_id", int64(t.TaskID)).
			Int("failures", t.FailureCount).
			Msg("Task lease expired")

		if t.FailureCount > s.config.Queue.MaxJobFailures {
			s.logger.Warn().Int64("task_id", int64(t.TaskID)).Msg("Failure cap exceeded, notifying submitter")
			s.sendEmail(s.emails.Failure(t))
			s.metrics.RecordFailed()
		} else {
			t.TaskID = s.NewTaskID()
			s.Tasks.Put(t)
			s.metrics.RecordRequeued()
		}
	}
	s.updateGauges()
	s.Sync()
}

// sendEmail hands a built email to the dispatcher, logging build errors
// instead of failing the calling operation.
func (s *State) sendEmail(email *mailer.Email, err error) {
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to build email")
		return
	}
	s.dispatcher.Enqueue(email)
	s.metrics.RecordEmail()
}

func (s *State) updateGauges() {
	pending, inflight := s.Tasks.Lengths()
	s.metrics.SetQueueDepths(pending, inflight, s.Confirmations.Len())
}

// Describe returns a short status line for logs.
func (s *State) Describe() string {
	pending, inflight := s.Tasks.Lengths()
	return fmt.Sprintf("pending=%d inflight=%d confirmations=%d", pending, inflight, s.Confirmations.Len())
}
