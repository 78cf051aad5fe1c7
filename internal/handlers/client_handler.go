package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/queue"
	"github.com/ternarybob/numerus/internal/task"
)

// ClientHandler serves the endpoints the web frontend calls: request
// creation, confirmation and the worker-availability probe.
type ClientHandler struct {
	state  *queue.State
	secret string
	logger arbor.ILogger
}

func NewClientHandler(state *queue.State, secret string, logger arbor.ILogger) *ClientHandler {
	return &ClientHandler{state: state, secret: secret, logger: logger}
}

func (h *ClientHandler) checkSecret(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Get("secret") == h.secret {
		return true
	}
	writeBadSecret(w)
	return false
}

// ModelCreateHandler validates a submission and parks it in the
// confirmation map. POST /client_model_create with a task record in the
// task_json form field.
func (h *ClientHandler) ModelCreateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.checkSecret(w, r) {
		return
	}

	var rec task.Record
	if err := json.Unmarshal([]byte(r.FormValue("task_json")), &rec); err != nil {
		h.logger.Warn().Err(err).Msg("Rejecting malformed task submission")
		WriteJSON(w, http.StatusBadRequest, map[string]map[string]string{
			"error": {"type": "invalid_task", "message": "malformed task_json"},
		})
		return
	}

	t, code, err := h.state.CreateTask(rec)
	if err != nil {
		h.logger.Warn().Err(err).Str("model", rec.ModelName).Msg("Rejecting invalid task submission")
		WriteJSON(w, http.StatusBadRequest, map[string]map[string]string{
			"error": {"type": "invalid_task", "message": err.Error()},
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"response": map[string]any{
			"task": t.Record(),
			"code": code,
		},
	})
}

// ConfirmHandler moves a request from the confirmation map onto the
// queue. GET /client_confirm/{code}.
func (h *ClientHandler) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}

	code := r.PathValue("code")
	switch h.state.Confirm(code) {
	case queue.ConfirmOK:
		WriteJSON(w, http.StatusOK, map[string]string{"response": "okay"})
	case queue.ConfirmAlready:
		WriteJSON(w, http.StatusOK, map[string]string{"response": "already_confirmed"})
	default:
		http.NotFound(w, r)
	}
}

// QueueHasWorkersHandler reports whether a worker has checked in
// recently. GET /client_queue_has_workers.
func (h *ClientHandler) QueueHasWorkersHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]map[string]bool{
		"response": {"has_workers": h.state.HasWorkers()},
	})
}
