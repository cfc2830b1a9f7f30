package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/me/gotp/internal/sched"
	"github.com/me/gotp/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondCreated writes a 201 response with the standard envelope.
func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondCoreError translates scheduling core errors into API errors:
// invalid argument 400, busy 409, not found 404, invalid state
// transition 409, anything else 500.
func respondCoreError(w http.ResponseWriter, reqID string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		respondError(w, reqID, statusForCode(apiErr.Code), apiErr)
		return
	}
	var trans *model.InvalidTransitionError
	switch {
	case errors.As(err, &trans):
		respondError(w, reqID, http.StatusConflict, &model.APIError{
			Code:    model.ErrValidation,
			Message: err.Error(),
		})
	case errors.Is(err, sched.ErrNotFound):
		respondError(w, reqID, http.StatusNotFound, &model.APIError{
			Code:    model.ErrNotFound,
			Message: err.Error(),
		})
	case errors.Is(err, sched.ErrBusy):
		respondError(w, reqID, http.StatusConflict, model.NewBusyError(err.Error()))
	case errors.Is(err, sched.ErrInvalidArgument):
		respondError(w, reqID, http.StatusBadRequest, model.NewInvalidArgumentError(err.Error()))
	default:
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{
			Code:    model.ErrInternal,
			Message: err.Error(),
		})
	}
}

func statusForCode(code model.ErrorCode) int {
	switch code {
	case model.ErrValidation, model.ErrInvalidArgument:
		return http.StatusBadRequest
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrBusy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
