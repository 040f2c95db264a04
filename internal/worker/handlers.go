package worker

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/venuescout/internal/engine"
	"github.com/thebtf/venuescout/pkg/models"
)

// Handler configuration constants
const (
	// DefaultScoresLimit is the default number of score records to return.
	DefaultScoresLimit = 50

	// MaxScoresLimit caps the limit query parameter.
	MaxScoresLimit = 500

	// MaxCandidates caps one recommendation request.
	MaxCandidates = 500
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidFeedback):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrLostUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status. Server errors are logged and
// their detail withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal error"
	}
	writeErrorMessage(w, r, status, msg)
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: GetRequestID(r.Context())})
}

// decodeJSON reads one JSON object from the request body.
// An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeErrorMessage(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeErrorMessage(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
	return false
}

// pathID reads and validates a URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := chi.URLParam(r, name)
	if err := ValidateID(name, id); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// requireReady rejects requests until initialization finished.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() || s.engine() == nil {
			if err := s.GetInitError(); err != nil {
				writeErrorMessage(w, r, http.StatusServiceUnavailable, "service initialization failed: "+err.Error())
				return
			}
			writeErrorMessage(w, r, http.StatusServiceUnavailable, "service initializing")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth returns 200 OK immediately, even during init.
// Use /api/ready for full readiness check.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	} else if err := s.GetInitError(); err != nil {
		status = "error"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleReady returns 200 only when the engine is up and storage answers.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		if err := s.GetInitError(); err != nil {
			writeErrorMessage(w, r, http.StatusServiceUnavailable, "service initialization failed: "+err.Error())
			return
		}
		writeErrorMessage(w, r, http.StatusServiceUnavailable, "service initializing")
		return
	}

	s.initMu.RLock()
	components := s.components
	s.initMu.RUnlock()
	if components == nil {
		writeErrorMessage(w, r, http.StatusServiceUnavailable, "service shutting down")
		return
	}

	resp := map[string]any{
		"status":      "ready",
		"vocabulary":  components.Engine.VocabularyStats(),
		"sse_clients": s.sseBroadcaster.ClientCount(),
	}
	if components.Maintenance != nil {
		resp["maintenance"] = components.Maintenance.Stats()
	}
	if components.Health != nil {
		health := components.Health.HealthCheck(r.Context())
		resp["database"] = health
		if health.Status == "unhealthy" {
			resp["status"] = "unhealthy"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSubmitPreferences seeds a user's weights from onboarding selections.
func (s *Service) handleSubmitPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var selections models.PreferenceSelections
	if !decodeJSON(w, r, &selections) {
		return
	}

	profile, err := s.engine().SubmitPreferences(r.Context(), userID, selections)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleGetProfile returns a user's affinity profile.
func (s *Service) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	profile, err := s.engine().Profile(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleIngestVenue extracts tags from venue metadata and stores them.
func (s *Service) handleIngestVenue(w http.ResponseWriter, r *http.Request) {
	var in engine.VenueInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := ValidateID("id", in.ID); err != nil {
		writeErrorMessage(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine().IngestVenue(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// feedbackRequest is the body of a feedback call; ids come from the path.
type feedbackRequest struct {
	DistanceMeters *float64 `json:"distance_meters,omitempty"`
	Rating         *float64 `json:"rating,omitempty"`
	Label          string   `json:"feedback"`
}

// handleFeedback applies an explicit up/down/none judgement.
func (s *Service) handleFeedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	venueID, ok := pathID(w, r, "venueID")
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	outcome, err := s.engine().HandleFeedback(r.Context(), engine.FeedbackInput{
		UserID:         userID,
		VenueID:        venueID,
		Label:          req.Label,
		DistanceMeters: req.DistanceMeters,
		Rating:         req.Rating,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// recommendationsRequest carries the candidate venues to rank.
type recommendationsRequest struct {
	Candidates []engine.VenueCandidate `json:"candidates"`
}

// handleRecommendations scores candidates for a user, best first.
func (s *Service) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req recommendationsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Candidates) > MaxCandidates {
		writeErrorMessage(w, r, http.StatusBadRequest, "too many candidates (max "+strconv.Itoa(MaxCandidates)+")")
		return
	}

	result, err := s.engine().ScoreCandidates(r.Context(), userID, req.Candidates)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetScores lists a user's stored score records by priority.
func (s *Service) handleGetScores(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}

	limit := DefaultScoresLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeErrorMessage(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxScoresLimit)
	}

	scores, err := s.engine().Scores(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if scores == nil {
		scores = []*models.ScoreRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

// handleGetVocabulary returns the global tag list in dimension order.
func (s *Service) handleGetVocabulary(w http.ResponseWriter, r *http.Request) {
	tags, err := s.engine().Vocabulary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tags":  tags,
		"stats": s.engine().VocabularyStats(),
	})
}
