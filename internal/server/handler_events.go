package server

import (
	"net/http"
	"strconv"

	"github.com/me/gotp/pkg/model"
)

// handleListEvents returns the audit trail, newest first.
// GET /api/v1/events?limit=N&offset=N&type=overrun&cpu=0
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts := model.DefaultListOptions()
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewInvalidArgumentError("limit must be a number"))
			return
		}
		opts.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewInvalidArgumentError("offset must be a number"))
			return
		}
		opts.Offset = n
	}
	if raw := q.Get("cpu"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewInvalidArgumentError("cpu must be a number"))
			return
		}
		opts.CPU = n
	}
	opts.Type = q.Get("type")
	opts.Clamp()

	events, total, err := s.store.ListEvents(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{
			Code:    model.ErrInternal,
			Message: err.Error(),
		})
		return
	}

	respondList(w, reqID, events, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}
