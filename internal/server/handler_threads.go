package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/gotp/internal/sched"
	"github.com/me/gotp/pkg/model"
)

// handleSpawnThread creates a synthetic thread with a duty cycle.
// POST /api/v1/threads
func (s *Server) handleSpawnThread(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	thread, err := s.runner.SpawnFromRequest(&req)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	s.hub.record(r.Context(), &model.Event{
		Type:     model.EventSpawn,
		CPU:      thread.CPU,
		ThreadID: thread.ID,
		Thread:   thread.Name,
		Detail:   fmt.Sprintf("policy %s, priority %d", thread.Policy, thread.Priority),
	})

	respondCreated(w, reqID, thread)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.runner.Threads())
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	thread, err := s.runner.Thread(id)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	respondOK(w, reqID, thread)
}

// handleKillThread detaches a thread and cancels its duty cycle.
// DELETE /api/v1/threads/{id}
func (s *Server) handleKillThread(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	thread, err := s.runner.Thread(id)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	if err := s.runner.Kill(id); err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	s.hub.record(r.Context(), &model.Event{
		Type:     model.EventKill,
		CPU:      thread.CPU,
		ThreadID: thread.ID,
		Thread:   thread.Name,
	})

	respondOK(w, reqID, map[string]any{"id": id, "killed": true})
}

// handleSetPolicy changes a thread's scheduling parameters.
// PUT /api/v1/threads/{id}/policy
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req model.PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	params := sched.ThreadParams{
		Policy:    req.Policy,
		Priority:  req.Priority,
		Partition: req.Partition,
	}
	if err := s.core.SetPolicy(id, params); err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	thread, err := s.runner.Thread(id)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	s.logger.Info("policy changed", "thread_id", id,
		"policy", thread.Policy, "priority", thread.Priority)

	respondOK(w, reqID, thread)
}

// handleMigrateThread moves a thread to another CPU. Threads under the
// partition policy come back demoted to fifo; partition windows do not
// span CPUs.
// POST /api/v1/threads/{id}/migrate
func (s *Server) handleMigrateThread(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req model.MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	before, err := s.runner.Thread(id)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	if err := s.core.Migrate(id, req.CPU); err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	thread, err := s.runner.Thread(id)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	s.hub.record(r.Context(), &model.Event{
		Type:     model.EventMigrate,
		CPU:      req.CPU,
		ThreadID: thread.ID,
		Thread:   thread.Name,
		Detail:   fmt.Sprintf("cpu %d to %d", before.CPU, req.CPU),
	})

	respondOK(w, reqID, thread)
}
