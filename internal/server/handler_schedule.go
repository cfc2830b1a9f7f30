package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/me/gotp/internal/schedfile"
	"github.com/me/gotp/pkg/model"
)

func frameDuration(windows []model.Window) model.Duration {
	var total model.Duration
	for _, w := range windows {
		total += w.Duration
	}
	return total
}

// handleInstallSchedule installs a partition schedule on one CPU.
// PUT /api/v1/cpus/{cpu}/schedule
//
// The window list must tile a frame: first offset zero, each window
// starting where the previous one ends. An install replaces any
// existing table and leaves the schedule stopped.
func (s *Server) handleInstallSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	cpu, err := cpuParam(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewInvalidArgumentError(err.Error()))
		return
	}

	var req model.InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	doc := schedfile.FromWindows(cpu, req.Windows)
	if apiErr := s.validator.Validate(doc); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	if err := s.core.InstallSchedule(cpu, req.Windows); err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	now := time.Now().UTC()
	schedule := &model.Schedule{
		CPU:           cpu,
		Windows:       req.Windows,
		WindowCount:   len(req.Windows),
		FrameDuration: frameDuration(req.Windows),
		Started:       false,
		InstalledAt:   now,
		UpdatedAt:     now,
	}
	if err := s.store.SaveSchedule(r.Context(), schedule); err != nil {
		s.logger.Error("persist schedule", "cpu", cpu, "error", err)
	}

	s.hub.record(r.Context(), &model.Event{
		Type:   model.EventInstall,
		CPU:    cpu,
		Detail: strconv.Itoa(len(req.Windows)) + " windows, frame " + schedule.FrameDuration.String(),
	})
	s.logger.Info("schedule installed", "cpu", cpu,
		"windows", len(req.Windows), "frame", schedule.FrameDuration.String())

	respondOK(w, reqID, schedule)
}

// handleGetSchedule returns the installed schedule on one CPU.
// GET /api/v1/cpus/{cpu}/schedule?max_windows=N
//
// max_windows truncates the returned window list; window_count still
// carries the full table size.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	cpu, err := cpuParam(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewInvalidArgumentError(err.Error()))
		return
	}

	maxWindows := -1
	if raw := r.URL.Query().Get("max_windows"); raw != "" {
		maxWindows, err = strconv.Atoi(raw)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewInvalidArgumentError("max_windows must be a number"))
			return
		}
	}

	info, err := s.core.GetSchedule(cpu, maxWindows)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	if info.WindowCount == 0 {
		respondError(w, reqID, http.StatusNotFound, &model.APIError{
			Code:    model.ErrNotFound,
			Message: "no schedule installed on cpu " + strconv.Itoa(cpu),
		})
		return
	}

	status, err := s.core.CPUStatus(cpu)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	schedule := &model.Schedule{
		CPU:         cpu,
		Windows:     info.Windows,
		WindowCount: info.WindowCount,
		Started:     status.State == model.ScheduleStateRunning,
	}
	if len(info.Windows) == info.WindowCount {
		schedule.FrameDuration = frameDuration(info.Windows)
	}
	if rec, err := s.store.GetSchedule(r.Context(), cpu); err == nil && rec != nil {
		schedule.FrameDuration = rec.FrameDuration
		schedule.InstalledAt = rec.InstalledAt
		schedule.UpdatedAt = rec.UpdatedAt
	}

	respondOK(w, reqID, schedule)
}

// handleUninstallSchedule removes the schedule from one CPU.
// DELETE /api/v1/cpus/{cpu}/schedule
func (s *Server) handleUninstallSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	cpu, err := cpuParam(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewInvalidArgumentError(err.Error()))
		return
	}

	if err := s.core.UninstallSchedule(cpu); err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	if err := s.store.DeleteSchedule(r.Context(), cpu); err != nil {
		s.logger.Error("delete persisted schedule", "cpu", cpu, "error", err)
	}

	s.hub.record(r.Context(), &model.Event{Type: model.EventUninstall, CPU: cpu})
	s.logger.Info("schedule uninstalled", "cpu", cpu)

	respondOK(w, reqID, map[string]any{"cpu": cpu, "uninstalled": true})
}

// handleStartSchedule begins window rotation on one CPU.
// POST /api/v1/cpus/{cpu}/start
//
// Starting a CPU without a table is accepted and does nothing.
func (s *Server) handleStartSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	cpu, err := cpuParam(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewInvalidArgumentError(err.Error()))
		return
	}

	if err := s.core.StartSchedule(cpu); err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	status, err := s.core.CPUStatus(cpu)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	if status.State == model.ScheduleStateRunning {
		if err := s.store.SetScheduleStarted(r.Context(), cpu, true); err != nil {
			s.logger.Error("persist started flag", "cpu", cpu, "error", err)
		}
		s.hub.record(r.Context(), &model.Event{Type: model.EventStart, CPU: cpu})
		s.logger.Info("schedule started", "cpu", cpu)
	}

	respondOK(w, reqID, status)
}

// handleStopSchedule halts window rotation on one CPU. The installed
// table is kept.
// POST /api/v1/cpus/{cpu}/stop
func (s *Server) handleStopSchedule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	cpu, err := cpuParam(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewInvalidArgumentError(err.Error()))
		return
	}

	if err := s.core.StopSchedule(cpu); err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	status, err := s.core.CPUStatus(cpu)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}

	if status.WindowCount > 0 {
		if err := s.store.SetScheduleStarted(r.Context(), cpu, false); err != nil {
			s.logger.Error("persist started flag", "cpu", cpu, "error", err)
		}
		s.hub.record(r.Context(), &model.Event{Type: model.EventStop, CPU: cpu})
		s.logger.Info("schedule stopped", "cpu", cpu)
	}

	respondOK(w, reqID, status)
}
