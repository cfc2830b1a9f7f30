package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/gotp/pkg/model"
)

// cpuParam parses the {cpu} URL parameter.
func cpuParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "cpu")
	cpu, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("cpu %q is not a number", raw)
	}
	return cpu, nil
}

func (s *Server) handleListCPUs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.core.CPUStatuses())
}

func (s *Server) handleGetCPU(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	cpu, err := cpuParam(r)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewInvalidArgumentError(err.Error()))
		return
	}

	status, err := s.core.CPUStatus(cpu)
	if err != nil {
		respondCoreError(w, reqID, err)
		return
	}
	respondOK(w, reqID, status)
}
