package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"qc-review/internal/errs"
	"qc-review/internal/logging"
	"qc-review/internal/models"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: msg, RequestID: middleware.GetReqID(r.Context())},
	})
}

// respondErr maps engine errors onto HTTP. Driver text is logged, never returned.
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(w, r, http.StatusBadRequest, "QC_VALIDATION", verr.Reason)
	case errors.Is(err, models.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "QC_NOT_FOUND", "asset not found")
	case errors.Is(err, models.ErrStorageUnavailable):
		logging.Error(r.Context(), "storage unavailable", slog.Any("err", errs.Loggable(err)))
		respondError(w, r, http.StatusServiceUnavailable, "QC_UNAVAILABLE", "review storage is temporarily unavailable")
	default:
		logging.Error(r.Context(), "request failed", slog.Any("err", errs.Loggable(err)))
		respondError(w, r, http.StatusInternalServerError, "QC_INTERNAL", "internal error")
	}
}
