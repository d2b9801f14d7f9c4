package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pulsekit/pulse-api/internal/chat"
	"github.com/pulsekit/pulse-api/internal/jobs"
	"github.com/rs/zerolog/log"
)

// errorResponse is the envelope every non-2xx JSON response uses.
type errorResponse struct {
	Detail    string `json:"detail"`
	RequestID string `json:"request_id"`
}

// writeError writes the error envelope with the request id issued by the
// request-id middleware.
func writeError(w http.ResponseWriter, r *http.Request, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(errorResponse{
		Detail:    detail,
		RequestID: GetRequestID(r.Context()),
	}); err != nil {
		log.Error().Err(err).Msg("failed to encode error response")
	}
}

// writeServiceError translates typed errors from the service layers into
// HTTP statuses. This is the single place that mapping lives.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, chat.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrFuncNotFound),
		errors.Is(err, jobs.ErrInvalidTrigger),
		errors.Is(err, chat.ErrEmptyMessages):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, chat.ErrLLMUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg("internal error")
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
