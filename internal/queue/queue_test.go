package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/params"
	badger "github.com/ternarybob/numerus/internal/storage/badger"
	"github.com/ternarybob/numerus/internal/task"
)

const testModelYAML = `
short_name: spectral
full_name: Spectral Model
invocation:
  mode: executable
  executable: /opt/models/spectral
parameters:
  - name: nSamples
    type: integer
    description: Number of Samples
`

type captureSender struct{ sent []*mailer.Email }

func (c *captureSender) Send(email *mailer.Email) error {
	c.sent = append(c.sent, email)
	return nil
}

type fixture struct {
	state      *State
	def        *model.Definition
	registry   *model.Registry
	dispatcher *mailer.Dispatcher
	store      *badger.Store
	config     *common.Config
}

// newFixture builds a State over a temp store. The dispatcher is never
// started, so enqueued email is observable via QueueLength.
func newFixture(t *testing.T, storePath string) *fixture {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Queue.MaxJobFailures = 2
	config.Queue.KeepAliveTimeout = 120
	config.Queue.ConfirmTimeout = 20

	logger := common.GetLogger()

	registry := model.NewRegistry()
	def, err := model.ParseDefinition("spectral.yaml", []byte(testModelYAML))
	require.NoError(t, err)
	registry.Add(def)

	emails, err := task.NewEmails("", "http://web.example.com", config.Queue.ConfirmTimeout)
	require.NoError(t, err)

	dispatcher := mailer.NewDispatcher(&captureSender{}, logger, 60)

	store, err := badger.Open(storePath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &fixture{
		state:      NewState(config, registry, emails, dispatcher, store, logger),
		def:        def,
		registry:   registry,
		dispatcher: dispatcher,
		store:      store,
		config:     config,
	}
}

func (f *fixture) newRecord(t *testing.T, email string) task.Record {
	t.Helper()
	v, err := f.def.Parameter("nSamples").WithValue(500)
	require.NoError(t, err)
	return task.New(f.def, email, 0, []params.Value{v}).Record()
}

func TestTaskQueueFIFOWithinEligible(t *testing.T) {
	q := NewTaskQueue()
	defA := &model.Definition{ShortName: "a", Version: "v1"}
	defB := &model.Definition{ShortName: "b", Version: "v1"}

	t1 := &task.Task{TaskID: 1, Definition: defA}
	t2 := &task.Task{TaskID: 2, Definition: defB}
	t3 := &task.Task{TaskID: 3, Definition: defA}
	q.Put(t1)
	q.Put(t2)
	q.Put(t3)

	onlyA := map[VersionKey]bool{{Name: "a", Version: "v1"}: true}
	assert.Equal(t, uint64(1), q.PullNextVersioned(onlyA).TaskID)
	assert.Equal(t, uint64(3), q.PullNextVersioned(onlyA).TaskID)
	assert.Nil(t, q.PullNextVersioned(onlyA))

	// t2 is still pending for a worker that can load model b.
	assert.False(t, q.IsEmpty())
	onlyB := map[VersionKey]bool{{Name: "b", Version: "v1"}: true}
	assert.Equal(t, uint64(2), q.PullNextVersioned(onlyB).TaskID)
	assert.True(t, q.IsEmpty())
}

func TestTaskQueueLeases(t *testing.T) {
	q := NewTaskQueue()
	def := &model.Definition{ShortName: "a", Version: "v1"}
	tk := &task.Task{TaskID: 7, Definition: def}

	q.PutInflight(tk)
	assert.True(t, q.HasInflight(7))
	assert.NoError(t, q.Touch(7))
	assert.ErrorIs(t, q.Touch(8), ErrUnknownTask)

	got, err := q.PullInflight(7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.TaskID)
	assert.False(t, q.HasInflight(7))

	_, err = q.PullInflight(7)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestTaskQueuePullStale(t *testing.T) {
	q := NewTaskQueue()
	def := &model.Definition{ShortName: "a", Version: "v1"}
	q.PutInflight(&task.Task{TaskID: 1, Definition: def})
	q.PutInflight(&task.Task{TaskID: 2, Definition: def})

	// Nothing is stale against a cutoff in the past.
	assert.Empty(t, q.PullInflightOlderThan(time.Now().Add(-time.Minute)))

	stale := q.PullInflightOlderThan(time.Now())
	assert.Len(t, stale, 2)
	_, inflight := q.Lengths()
	assert.Equal(t, 0, inflight)
}

func TestConfirmationMap(t *testing.T) {
	m := NewConfirmationMap(time.Hour)
	def := &model.Definition{ShortName: "a", Version: "v1"}
	tk := &task.Task{TaskID: 1, Definition: def}

	code := m.Put(tk)
	assert.Len(t, code, common.ConfirmationCodeLength)
	assert.Equal(t, 1, m.Len())

	got, err := m.Take(code)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.TaskID)

	_, err = m.Take(code)
	assert.ErrorIs(t, err, ErrUnknownCode)

	require.NoError(t, m.PutWithCode(tk, "fixedcode1234567"))
	assert.ErrorIs(t, m.PutWithCode(tk, "fixedcode1234567"), ErrExistingCode)
}

func TestConfirmationMapExpiry(t *testing.T) {
	m := NewConfirmationMap(0)
	def := &model.Definition{ShortName: "a", Version: "v1"}
	code := m.Put(&task.Task{TaskID: 1, Definition: def})

	assert.Equal(t, 1, m.ExpireStale())
	_, err := m.Take(code)
	assert.ErrorIs(t, err, ErrUnknownCode)
}
