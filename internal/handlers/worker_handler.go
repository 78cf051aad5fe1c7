package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/queue"
)

// WorkerHandler serves the endpoints model runners call: polling for
// work, heartbeats and completion reports.
type WorkerHandler struct {
	state  *queue.State
	secret string
	logger arbor.ILogger
}

func NewWorkerHandler(state *queue.State, secret string, logger arbor.ILogger) *WorkerHandler {
	return &WorkerHandler{state: state, secret: secret, logger: logger}
}

func (h *WorkerHandler) checkSecret(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Query().Get("secret") == h.secret {
		return true
	}
	writeBadSecret(w)
	return false
}

// taskID parses the {id} path segment. A non-numeric id gets the same
// bad_id response as an unknown one.
func taskID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// InfoHandler records a worker check-in. GET /worker_info.
func (h *WorkerHandler) InfoHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}
	h.state.TouchWorkerCheckin()
	WriteJSON(w, http.StatusOK, map[string]any{})
}

// WorkTaskHandler leases the oldest pending task the worker can run.
// POST /worker_work_task with model_versions_json listing the versions
// the worker has loaded.
func (h *WorkerHandler) WorkTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.checkSecret(w, r) {
		return
	}

	var versions []queue.VersionKey
	if err := json.Unmarshal([]byte(r.FormValue("model_versions_json")), &versions); err != nil {
		h.logger.Warn().Err(err).Msg("Rejecting malformed work request")
		WriteJSON(w, http.StatusBadRequest, map[string]map[string]string{
			"error": {"type": "invalid_request", "message": "malformed model_versions_json"},
		})
		return
	}

	supported := make(map[queue.VersionKey]bool, len(versions))
	for _, v := range versions {
		supported[v] = true
	}

	t, status := h.state.PullWork(supported)
	switch status {
	case queue.PullEmptyQueue:
		WriteJSON(w, http.StatusOK, map[string]string{"status": "empty_queue"})
	case queue.PullNoVersion:
		h.logger.Info().Int("versions", len(versions)).Msg("No pending task matches worker's model versions")
		WriteJSON(w, http.StatusOK, map[string]string{"status": "no_version"})
	default:
		WriteJSON(w, http.StatusOK, map[string]any{"task": t.Record()})
	}
}

// KeepAliveHandler refreshes a task lease. GET /worker_keep_alive_task/{id}.
func (h *WorkerHandler) KeepAliveHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}

	id, ok := taskID(r)
	if !ok {
		writeBadID(w)
		return
	}
	if err := h.state.KeepAlive(id); err != nil {
		h.logger.Info().Int64("task_id", int64(id)).Msg("Heartbeat for unknown task id")
		writeBadID(w)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{})
}

// SucceedTaskHandler marks a leased task complete. GET /worker_succeed_task/{id}.
func (h *WorkerHandler) SucceedTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}

	id, ok := taskID(r)
	if !ok {
		writeBadID(w)
		return
	}
	if err := h.state.Succeed(id); err != nil {
		if errors.Is(err, queue.ErrUnknownTask) {
			h.logger.Info().Int64("task_id", int64(id)).Msg("Success report for unknown task id")
		}
		writeBadID(w)
		return
	}
	writeOkayStatus(w)
}

// FailedTaskHandler records a worker-reported failure. GET /worker_failed_task/{id}.
func (h *WorkerHandler) FailedTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}

	id, ok := taskID(r)
	if !ok {
		writeBadID(w)
		return
	}
	if err := h.state.Fail(id); err != nil {
		if errors.Is(err, queue.ErrUnknownTask) {
			h.logger.Info().Int64("task_id", int64(id)).Msg("Failure report for unknown task id")
		}
		writeBadID(w)
		return
	}
	writeOkayStatus(w)
}

// HasTaskHandler reports whether a task is still leased. Workers call
// this before mailing results so a reclaimed task never produces a
// duplicate email. GET /worker_has_task/{id}.
func (h *WorkerHandler) HasTaskHandler(w http.ResponseWriter, r *http.Request) {
	if !h.checkSecret(w, r) {
		return
	}

	id, ok := taskID(r)
	if !ok {
		writeBadID(w)
		return
	}
	answer := "no"
	if h.state.HasTask(id) {
		answer = "yes"
	}
	WriteJSON(w, http.StatusOK, map[string]string{"response": answer})
}
