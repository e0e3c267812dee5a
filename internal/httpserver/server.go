package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/stemline/stemline/internal/models"
	"github.com/stemline/stemline/internal/review"
	"github.com/stemline/stemline/internal/store"
)

// Identity resolves the verified acting user for a request.
type Identity interface {
	UserID(r *http.Request) (uuid.UUID, error)
}

type Server struct {
	service  *review.Service
	store    store.Store
	identity Identity
}

func New(service *review.Service, st store.Store, identity Identity) *Server {
	return &Server{
		service:  service,
		store:    st,
		identity: identity,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/stages/{stageID}/upstreams/{upstreamID}/reviews", s.handleCreateReviewSet)
	r.Post("/stages/{stageID}/upstreams/{upstreamID}/decision", s.handleSubmitDecision)
	r.Get("/upstreams/{upstreamID}/reviews", s.handleUpstreamReviews)
	r.Get("/stages/{stageID}/reviews", s.handleStageReviews)
	r.Get("/healthz", s.handleHealth)

	return r
}

func (s *Server) handleCreateReviewSet(w http.ResponseWriter, r *http.Request) {
	stageID, ok := parseID(w, r, "stageID")
	if !ok {
		return
	}
	upstreamID, ok := parseID(w, r, "upstreamID")
	if !ok {
		return
	}
	ballots, err := s.service.CreateReviewSet(r.Context(), stageID, upstreamID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"upstreamId": upstreamID,
		"ballots":    ballots,
	})
}

type decisionRequest struct {
	Decision models.BallotDecision `json:"decision"`
}

func (s *Server) handleSubmitDecision(w http.ResponseWriter, r *http.Request) {
	stageID, ok := parseID(w, r, "stageID")
	if !ok {
		return
	}
	upstreamID, ok := parseID(w, r, "upstreamID")
	if !ok {
		return
	}
	actor, err := s.identity.UserID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Decision != models.BallotApproved && req.Decision != models.BallotRejected {
		respondError(w, http.StatusBadRequest, "decision must be approved or rejected")
		return
	}

	result, err := s.service.SubmitDecision(r.Context(), review.SubmitDecisionInput{
		StageID:      stageID,
		UpstreamID:   upstreamID,
		ActingUserID: actor,
		Decision:     req.Decision,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondServiceError(w, err)
			return
		}
		// Promotion or consensus failure rolled everything back.
		respondError(w, http.StatusInternalServerError, "finalization failed")
		return
	}

	switch result.Status {
	case review.StatusNoStanding:
		respondJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"message": result.Message,
		})
	case review.StatusAlreadyDecided:
		respondJSON(w, http.StatusConflict, map[string]any{
			"success":   false,
			"message":   result.Message,
			"aggregate": result.Aggregate,
		})
	default:
		resp := map[string]any{
			"success":    true,
			"upstreamId": result.UpstreamID,
			"aggregate":  result.Aggregate,
		}
		if result.Promotion != nil {
			resp["promotion"] = result.Promotion
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleUpstreamReviews(w http.ResponseWriter, r *http.Request) {
	upstreamID, ok := parseID(w, r, "upstreamID")
	if !ok {
		return
	}
	reviews, err := s.service.GetUpstreamReviews(r.Context(), upstreamID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleStageReviews(w http.ResponseWriter, r *http.Request) {
	stageID, ok := parseID(w, r, "stageID")
	if !ok {
		return
	}
	reviews, err := s.service.ListStageReviews(r.Context(), stageID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"stageId": stageID,
		"reviews": reviews,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
