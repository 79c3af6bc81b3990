package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"qc-review/internal/config"
	"qc-review/internal/models"
	"qc-review/internal/ratelimit"
	"qc-review/internal/review"
	"qc-review/internal/stats"
	"qc-review/internal/telemetry"
)

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers for the QC review API.
type Server struct {
	cfg     config.Config
	engine  *review.Engine
	stats   *stats.Aggregator
	health  Pinger
	limiter ratelimit.Limiter
}

// New constructs the API server. limiter may be nil.
func New(cfg config.Config, engine *review.Engine, agg *stats.Aggregator, health Pinger, limiter ratelimit.Limiter) *Server {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		stats:   agg,
		health:  health,
		limiter: limiter,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/qc-review", func(r chi.Router) {
		r.Use(s.identify)

		r.Get("/pending", s.handlePending)
		r.Get("/assets/{id}", s.handleGetAsset)
		r.Get("/assets/{id}/history", s.handleHistory)
		r.Get("/statistics", s.handleStatistics)

		r.Group(func(r chi.Router) {
			r.Use(s.requireReviewer)
			r.Use(s.rateLimit)
			r.Post("/approve", s.decisionHandler(models.DecisionApprove))
			r.Post("/reject", s.decisionHandler(models.DecisionReject))
			r.Post("/rework", s.decisionHandler(models.DecisionRework))
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.health.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type decisionRequest struct {
	AssetID   string   `json:"asset_id"`
	QCRemarks string   `json:"qc_remarks"`
	QCScore   *float64 `json:"qc_score"`
}

type decisionResponse struct {
	Message       string               `json:"message"`
	AssetID       string               `json:"asset_id"`
	QCStatus      models.QCStatus      `json:"qc_status"`
	WorkflowStage models.WorkflowStage `json:"workflow_stage"`
	LinkingActive int                  `json:"linking_active"`
	ReworkCount   *int                 `json:"rework_count,omitempty"`
	AuditRecorded bool                 `json:"audit_recorded"`
	Asset         models.Asset         `json:"asset"`
}

var decisionMessages = map[models.Decision]string{
	models.DecisionApprove: "Asset approved",
	models.DecisionReject:  "Asset rejected",
	models.DecisionRework:  "Rework requested",
}

func (s *Server) decisionHandler(d models.Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, http.StatusBadRequest, "QC_BAD_REQUEST", "invalid json")
			return
		}
		out, err := s.engine.Decide(r.Context(), d, review.DecisionRequest{
			AssetID:    req.AssetID,
			ReviewerID: reviewerFrom(r.Context()),
			Remarks:    req.QCRemarks,
			Score:      req.QCScore,
		})
		if err != nil {
			s.respondErr(w, r, err)
			return
		}

		resp := decisionResponse{
			Message:       decisionMessages[d],
			AssetID:       out.Asset.ID,
			QCStatus:      out.Asset.QCStatus,
			WorkflowStage: out.Asset.WorkflowStage,
			AuditRecorded: out.AuditRecorded,
			Asset:         out.Asset,
		}
		if out.Asset.LinkingActive {
			resp.LinkingActive = 1
		}
		if d == models.DecisionRework {
			count := out.Asset.ReworkCount
			resp.ReworkCount = &count
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "QC_VALIDATION", "limit must be an integer")
		return
	}
	offset, err := optionalInt(q.Get("offset"))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "QC_VALIDATION", "offset must be an integer")
		return
	}
	page, err := s.engine.ListPending(r.Context(), q.Get("status"), limit, offset)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	out, err := s.stats.GetStatistics(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
