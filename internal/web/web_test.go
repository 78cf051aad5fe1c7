package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/numerus/internal/client"
	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/handlers"
	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/queue"
	badger "github.com/ternarybob/numerus/internal/storage/badger"
	"github.com/ternarybob/numerus/internal/task"
)

const boundedModelYAML = `
short_name: spectral
full_name: Spectral Model
subtitle: Synthetic absorption spectra
description: |
  Computes **synthetic spectra** over the sample window.
invocation:
  mode: executable
  executable: /opt/models/spectral
parameters:
  - name: nSamples
    type: integer
    description: Number of Samples
    min: 10
    max: 100000
    default: 500
  - name: verbose
    type: boolean
    description: Verbose output
`

type nullSender struct{}

func (nullSender) Send(*mailer.Email) error { return nil }

type webEnv struct {
	web   *httptest.Server
	state *queue.State
	def   *model.Definition
}

func newWebEnv(t *testing.T) *webEnv {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Queue.Secret = "testsecret"
	logger := common.GetLogger()

	registry := model.NewRegistry()
	def, err := model.ParseDefinition("spectral.yaml", []byte(boundedModelYAML))
	require.NoError(t, err)
	registry.Add(def)

	emails, err := task.NewEmails("", "http://web.example.com", config.Queue.ConfirmTimeout)
	require.NoError(t, err)

	store, err := badger.Open(filepath.Join(t.TempDir(), "queue"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	state := queue.NewState(config, registry, emails,
		mailer.NewDispatcher(nullSender{}, logger, 60), store, logger)

	ch := handlers.NewClientHandler(state, config.Queue.Secret, logger)
	wh := handlers.NewWorkerHandler(state, config.Queue.Secret, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/client_model_create", ch.ModelCreateHandler)
	mux.HandleFunc("/client_confirm/{code}", ch.ConfirmHandler)
	mux.HandleFunc("/client_queue_has_workers", ch.QueueHasWorkersHandler)
	mux.HandleFunc("/worker_info", wh.InfoHandler)
	queueSrv := httptest.NewServer(mux)
	t.Cleanup(queueSrv.Close)

	qc := client.New(queueSrv.URL, config.Queue.Secret, logger)
	frontend, err := New(config, qc, registry, logger)
	require.NoError(t, err)

	webSrv := httptest.NewServer(frontend.server.Handler)
	t.Cleanup(webSrv.Close)

	return &webEnv{web: webSrv, state: state, def: def}
}

func (e *webEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(e.web.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (e *webEnv) post(t *testing.T, path string, form url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(e.web.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (e *webEnv) submission(email string, samples string) url.Values {
	return url.Values{
		"modelVersion": {e.def.Version},
		"emailAddress": {email},
		"nSamples":     {samples},
	}
}

func TestIndexListsModels(t *testing.T) {
	e := newWebEnv(t)

	status, body := e.get(t, "/")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Spectral Model")
	assert.Contains(t, body, `href="/models/spectral"`)
	assert.Contains(t, body, "No workers are currently connected")
}

func TestWorkerBannerClears(t *testing.T) {
	e := newWebEnv(t)
	e.state.TouchWorkerCheckin()

	_, body := e.get(t, "/")
	assert.NotContains(t, body, "No workers are currently connected")
}

func TestModelForm(t *testing.T) {
	e := newWebEnv(t)

	status, body := e.get(t, "/models/spectral")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<strong>synthetic spectra</strong>")
	assert.Contains(t, body, "name='nSamples'")
	assert.Contains(t, body, "value='500'")
	assert.Contains(t, body, `name="modelVersion" value="`+e.def.Version+`"`)
	assert.Contains(t, body, "type='checkbox'")
}

func TestModelFormUnknown(t *testing.T) {
	e := newWebEnv(t)

	status, _ := e.get(t, "/models/nonexistent")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSubmitAndConfirm(t *testing.T) {
	e := newWebEnv(t)

	status, body := e.post(t, "/models/spectral/submit", e.submission("user@example.com", "2000"))
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "user@example.com")
	assert.Contains(t, body, "Confirmation required")

	entries := e.state.Confirmations.Entries()
	require.Len(t, entries, 1)
	var code string
	for c := range entries {
		code = c
	}

	status, body = e.get(t, "/confirm_submission/"+code)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Run confirmed")
	assert.False(t, e.state.Tasks.IsEmpty())

	status, body = e.get(t, "/confirm_submission/"+code)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Already confirmed")

	status, _ = e.get(t, "/confirm_submission/neverissuedcode1")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSubmitInvalidEmail(t *testing.T) {
	e := newWebEnv(t)

	status, body := e.post(t, "/models/spectral/submit", e.submission("not-an-email", "2000"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "valid email address")
	assert.Zero(t, e.state.Confirmations.Len())
}

func TestSubmitOutOfRange(t *testing.T) {
	e := newWebEnv(t)

	status, body := e.post(t, "/models/spectral/submit", e.submission("user@example.com", "5"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "out of range")
	// The rejected value is shown back in the form.
	assert.Contains(t, body, "name='nSamples'")
	assert.Zero(t, e.state.Confirmations.Len())
}

func TestSubmitMissingParameter(t *testing.T) {
	e := newWebEnv(t)

	form := e.submission("user@example.com", "2000")
	form.Del("nSamples")
	status, body := e.post(t, "/models/spectral/submit", form)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "missing value")
}

func TestSubmitUncheckedBooleanDefaultsFalse(t *testing.T) {
	e := newWebEnv(t)

	// The form omits the verbose checkbox entirely.
	status, _ := e.post(t, "/models/spectral/submit", e.submission("user@example.com", "2000"))
	require.Equal(t, http.StatusOK, status)

	entries := e.state.Confirmations.Entries()
	require.Len(t, entries, 1)
	for _, pending := range entries {
		rec := pending.Record()
		require.Contains(t, rec.ModelParameters, "verbose")
		assert.Equal(t, false, rec.ModelParameters["verbose"].Value)
	}
}
