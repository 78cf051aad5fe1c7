package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/task"
)

func TestCreateTaskAssignsIDAndMailsConfirmation(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))

	tk, code, err := f.state.CreateTask(f.newRecord(t, "user@example.com"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tk.TaskID)
	assert.Len(t, code, 16)
	assert.Equal(t, 1, f.state.Confirmations.Len())
	assert.Equal(t, 1, f.dispatcher.QueueLength(), "confirmation email enqueued")

	tk2, _, err := f.state.CreateTask(f.newRecord(t, "other@example.com"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tk2.TaskID, "ids are monotonic")
}

func TestCreateTaskRejectsUnknownModel(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))

	rec := f.newRecord(t, "user@example.com")
	rec.ModelVersion = "deadbeef"
	_, _, err := f.state.CreateTask(rec)
	assert.ErrorIs(t, err, task.ErrUnknownModel)
}

func TestConfirmLifecycle(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))

	_, code, err := f.state.CreateTask(f.newRecord(t, "user@example.com"))
	require.NoError(t, err)

	assert.Equal(t, ConfirmOK, f.state.Confirm(code))
	assert.False(t, f.state.Tasks.IsEmpty())
	assert.Equal(t, 0, f.state.Confirmations.Len())

	// The same code again is recognized, not a 404.
	assert.Equal(t, ConfirmAlready, f.state.Confirm(code))
	assert.Equal(t, ConfirmUnknown, f.state.Confirm("neverissuedcode1"))
}

func TestPullWorkLifecycle(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))

	_, status := f.state.PullWork(nil)
	assert.Equal(t, PullEmptyQueue, status)

	_, code, err := f.state.CreateTask(f.newRecord(t, "user@example.com"))
	require.NoError(t, err)
	require.Equal(t, ConfirmOK, f.state.Confirm(code))

	_, status = f.state.PullWork(map[VersionKey]bool{{Name: "spectral", Version: "bogus"}: true})
	assert.Equal(t, PullNoVersion, status)

	supported := map[VersionKey]bool{{Name: "spectral", Version: f.def.Version}: true}
	tk, status := f.state.PullWork(supported)
	require.Equal(t, PullOK, status)

	assert.True(t, f.state.HasTask(tk.TaskID))
	assert.NoError(t, f.state.KeepAlive(tk.TaskID))
	assert.ErrorIs(t, f.state.KeepAlive(tk.TaskID+100), ErrUnknownTask)

	require.NoError(t, f.state.Succeed(tk.TaskID))
	assert.False(t, f.state.HasTask(tk.TaskID))
	assert.ErrorIs(t, f.state.Succeed(tk.TaskID), ErrUnknownTask)
}

func TestWorkerCheckin(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))

	assert.False(t, f.state.HasWorkers())
	f.state.TouchWorkerCheckin()
	assert.True(t, f.state.HasWorkers())
}

func TestFailRequeuesUntilCap(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))
	supported := map[VersionKey]bool{{Name: "spectral", Version: f.def.Version}: true}

	_, code, err := f.state.CreateTask(f.newRecord(t, "user@example.com"))
	require.NoError(t, err)
	require.Equal(t, ConfirmOK, f.state.Confirm(code))
	emailsBefore := f.dispatcher.QueueLength()

	// First failure: below the cap of 2, requeued under a fresh id.
	tk, status := f.state.PullWork(supported)
	require.Equal(t, PullOK, status)
	firstID := tk.TaskID
	require.NoError(t, f.state.Fail(tk.TaskID))
	assert.False(t, f.state.Tasks.IsEmpty())
	assert.False(t, f.state.HasTask(firstID))
	assert.Equal(t, emailsBefore, f.dispatcher.QueueLength())

	// Second failure reaches the cap: dropped, submitter notified.
	tk, status = f.state.PullWork(supported)
	require.Equal(t, PullOK, status)
	assert.Greater(t, tk.TaskID, firstID)
	assert.Equal(t, 1, tk.FailureCount)
	require.NoError(t, f.state.Fail(tk.TaskID))
	assert.True(t, f.state.Tasks.IsEmpty())
	assert.Equal(t, emailsBefore+1, f.dispatcher.QueueLength(), "failure email enqueued")
}

func TestExpireLeasesRegeneratesTaskID(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))
	f.config.Queue.KeepAliveTimeout = 0 // every lease is immediately stale
	supported := map[VersionKey]bool{{Name: "spectral", Version: f.def.Version}: true}

	_, code, err := f.state.CreateTask(f.newRecord(t, "user@example.com"))
	require.NoError(t, err)
	require.Equal(t, ConfirmOK, f.state.Confirm(code))

	tk, status := f.state.PullWork(supported)
	require.Equal(t, PullOK, status)
	oldID := tk.TaskID

	f.state.ExpireLeases()

	// Reclaimed under a fresh id so the silent worker's late report
	// cannot touch it.
	assert.False(t, f.state.HasTask(oldID))
	assert.False(t, f.state.Tasks.IsEmpty())

	reclaimed, status := f.state.PullWork(supported)
	require.Equal(t, PullOK, status)
	assert.NotEqual(t, oldID, reclaimed.TaskID)
	assert.Equal(t, 1, reclaimed.FailureCount)
}

func TestExpireLeasesFailureCap(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))
	f.config.Queue.KeepAliveTimeout = 0
	supported := map[VersionKey]bool{{Name: "spectral", Version: f.def.Version}: true}

	_, code, err := f.state.CreateTask(f.newRecord(t, "user@example.com"))
	require.NoError(t, err)
	require.Equal(t, ConfirmOK, f.state.Confirm(code))
	emailsBefore := f.dispatcher.QueueLength()

	// Cap is 2; timeout-induced failures only give up once the count
	// exceeds it, so the third expiry is the one that notifies.
	for i := 0; i < 2; i++ {
		_, status := f.state.PullWork(supported)
		require.Equal(t, PullOK, status)
		f.state.ExpireLeases()
		assert.False(t, f.state.Tasks.IsEmpty(), "expiry %d requeues", i+1)
	}

	_, status := f.state.PullWork(supported)
	require.Equal(t, PullOK, status)
	f.state.ExpireLeases()
	assert.True(t, f.state.Tasks.IsEmpty())
	assert.Equal(t, emailsBefore+1, f.dispatcher.QueueLength(), "failure email enqueued")
}

func TestStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "queue")

	f := newFixture(t, storePath)
	_, code, err := f.state.CreateTask(f.newRecord(t, "queued@example.com"))
	require.NoError(t, err)
	require.Equal(t, ConfirmOK, f.state.Confirm(code))

	_, pendingCode, err := f.state.CreateTask(f.newRecord(t, "unconfirmed@example.com"))
	require.NoError(t, err)

	// Lease the queued task so the snapshot has an in-flight entry.
	supported := map[VersionKey]bool{{Name: "spectral", Version: f.def.Version}: true}
	leased, status := f.state.PullWork(supported)
	require.Equal(t, PullOK, status)
	f.state.Sync()
	require.NoError(t, f.store.Close())

	// Reboot against the same store.
	f2 := newFixture(t, storePath)
	require.NoError(t, f2.state.Load())

	// The in-flight lease is void: the task is pending again.
	pending, inflight := f2.state.Tasks.Lengths()
	assert.Equal(t, 1, pending)
	assert.Equal(t, 0, inflight)
	assert.Equal(t, 1, f2.state.Confirmations.Len())

	restored, status := f2.state.PullWork(supported)
	require.Equal(t, PullOK, status)
	assert.Equal(t, leased.TaskID, restored.TaskID)
	assert.Equal(t, "queued@example.com", restored.EmailAddress)

	// The unconfirmed request still confirms with its original code.
	assert.Equal(t, ConfirmOK, f2.state.Confirm(pendingCode))

	// The id counter continues past restored ids.
	tk3, _, err := f2.state.CreateTask(f2.newRecord(t, "third@example.com"))
	require.NoError(t, err)
	assert.Greater(t, tk3.TaskID, restored.TaskID)
}

func TestLoadDropsUnknownModels(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "queue")

	f := newFixture(t, storePath)
	_, code, err := f.state.CreateTask(f.newRecord(t, "user@example.com"))
	require.NoError(t, err)
	require.Equal(t, ConfirmOK, f.state.Confirm(code))
	require.NoError(t, f.store.Close())

	f2 := newFixture(t, storePath)
	snap, ok, err := f2.store.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, snap.Pending, 1)

	// Break the version so FromRecord cannot resolve it, then reload.
	snap.Pending[0].ModelVersion = "deadbeef"
	require.NoError(t, f2.store.SaveSnapshot(snap))

	emailsBefore := f2.dispatcher.QueueLength()
	require.NoError(t, f2.state.Load())

	assert.True(t, f2.state.Tasks.IsEmpty())
	assert.Equal(t, emailsBefore+1, f2.dispatcher.QueueLength(), "lost task email enqueued")
}

func TestSweeperReclaims(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "queue"))
	f.config.Queue.KeepAliveTimeout = 0
	supported := map[VersionKey]bool{{Name: "spectral", Version: f.def.Version}: true}

	_, code, err := f.state.CreateTask(f.newRecord(t, "user@example.com"))
	require.NoError(t, err)
	require.Equal(t, ConfirmOK, f.state.Confirm(code))
	_, status := f.state.PullWork(supported)
	require.Equal(t, PullOK, status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewSweeper(f.state, 10*time.Millisecond, common.GetLogger()).Start(ctx)

	require.Eventually(t, func() bool {
		return !f.state.Tasks.IsEmpty()
	}, 5*time.Second, 10*time.Millisecond, "sweeper returns the stale lease to pending")
}
