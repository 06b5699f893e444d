package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vectral-ai/corpus-engine/internal/jobs"
)

// streamJob serves job progress as server-sent events: one `data:` line per
// state change, then `data: {"done":true}` once the job is terminal. The
// subscription is released when the client disconnects.
func (h *Handler) streamJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeFailure(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates := make(chan jobs.State, 64)
	unsubscribe, ok := h.jobs.Subscribe(jobID, func(s jobs.State) {
		// Listeners run on the publisher's goroutine and must not block.
		// When the buffer is full the oldest update is dropped so the
		// newest, possibly terminal, state still lands.
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if !ok {
		h.writeFailure(w, http.StatusNotFound, "job not found: "+jobID)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap, ok := h.jobs.Get(jobID)
	if !ok {
		return
	}
	if !h.sendEvent(w, flusher, snap) {
		return
	}
	if snap.Status.Terminal() {
		h.sendDone(w, flusher)
		return
	}
	last := snap.UpdatedAt

	for {
		select {
		case <-r.Context().Done():
			return
		case s := <-updates:
			// States delivered between Subscribe and the snapshot read
			// repeat what the snapshot already carried.
			if !s.UpdatedAt.After(last) {
				continue
			}
			last = s.UpdatedAt

			if !h.sendEvent(w, flusher, s) {
				return
			}
			if s.Status.Terminal() {
				h.sendDone(w, flusher)
				return
			}
		}
	}
}

func (h *Handler) sendEvent(w http.ResponseWriter, flusher http.Flusher, s jobs.State) bool {
	payload, err := json.Marshal(s)
	if err != nil {
		h.logger.Warn().Str("job_id", s.JobID).Err(err).Msg("job snapshot marshal failed")
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func (h *Handler) sendDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: {\"done\":true}\n\n")
	flusher.Flush()
}
