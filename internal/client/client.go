// Package client talks to a running venuescout worker over HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/thebtf/venuescout/internal/engine"
	"github.com/thebtf/venuescout/internal/vocabulary"
	"github.com/thebtf/venuescout/pkg/models"
)

const (
	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 30 * time.Second

	// HealthCheckTimeout bounds a single health request.
	HealthCheckTimeout = time.Second

	maxErrorBody = 64 << 10
)

// APIError is a non-2xx response from the worker.
type APIError struct {
	Message   string
	RequestID string
	Status    int
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("venuescout: %d %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("venuescout: %d %s", e.Status, e.Message)
}

// Is maps API statuses back onto the model sentinels so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusNotFound:
		return target == models.ErrNotFound
	case http.StatusConflict:
		return target == models.ErrLostUpdate
	case http.StatusBadRequest:
		return target == models.ErrInvalidInput
	}
	return false
}

// Health is the body of GET /health.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// VocabularyResponse is the body of GET /api/vocabulary.
type VocabularyResponse struct {
	Tags  []string         `json:"tags"`
	Stats vocabulary.Stats `json:"stats"`
}

// Client is a worker API client. The zero value is not usable; call New.
type Client struct {
	http    *http.Client
	baseURL string
}

// New returns a client for the worker at baseURL, e.g. http://127.0.0.1:38080.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: httpClient, baseURL: u.String()}, nil
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready returns the readiness report. A worker that is still starting
// yields an *APIError with status 503.
func (c *Client) Ready(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/ready", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WaitReady polls /api/ready with exponential backoff until the worker
// reports ready or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	backoff := 50 * time.Millisecond
	maxBackoff := 500 * time.Millisecond

	for {
		_, err := c.Ready(ctx)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status != http.StatusServiceUnavailable {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("worker not ready: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// SubmitPreferences seeds a user's profile from onboarding labels.
func (c *Client) SubmitPreferences(ctx context.Context, userID string, selections models.PreferenceSelections) (*models.AffinityProfile, error) {
	var out models.AffinityProfile
	if err := c.do(ctx, http.MethodPost, userPath(userID, "preferences"), selections, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches a user's affinity profile.
func (c *Client) Profile(ctx context.Context, userID string) (*models.AffinityProfile, error) {
	var out models.AffinityProfile
	if err := c.do(ctx, http.MethodGet, userPath(userID, "profile"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestVenue sends venue metadata for tag extraction.
func (c *Client) IngestVenue(ctx context.Context, in engine.VenueInput) (*engine.IngestResult, error) {
	var out engine.IngestResult
	if err := c.do(ctx, http.MethodPost, "/api/venues", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Feedback records a judgement of a venue. UserID and VenueID come from in.
func (c *Client) Feedback(ctx context.Context, in engine.FeedbackInput) (*engine.FeedbackOutcome, error) {
	body := struct {
		DistanceMeters *float64 `json:"distance_meters,omitempty"`
		Rating         *float64 `json:"rating,omitempty"`
		Label          string   `json:"feedback"`
	}{in.DistanceMeters, in.Rating, in.Label}

	path := userPath(in.UserID, "venues", in.VenueID, "feedback")
	var out engine.FeedbackOutcome
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Recommend scores candidates for a user, best first.
func (c *Client) Recommend(ctx context.Context, userID string, candidates []engine.VenueCandidate) (*engine.GenerationResult, error) {
	body := struct {
		Candidates []engine.VenueCandidate `json:"candidates"`
	}{candidates}

	var out engine.GenerationResult
	if err := c.do(ctx, http.MethodPost, userPath(userID, "recommendations"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Scores lists stored scores for a user. limit <= 0 uses the server default.
func (c *Client) Scores(ctx context.Context, userID string, limit int) ([]*models.ScoreRecord, error) {
	path := userPath(userID, "scores")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Scores []*models.ScoreRecord `json:"scores"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Scores, nil
}

// Vocabulary lists the tag vocabulary.
func (c *Client) Vocabulary(ctx context.Context) (*VocabularyResponse, error) {
	var out VocabularyResponse
	if err := c.do(ctx, http.MethodGet, "/api/vocabulary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func userPath(userID string, parts ...string) string {
	segs := []string{"/api/users", url.PathEscape(userID)}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.RequestID = body.RequestID
	}
	if apiErr.RequestID == "" {
		apiErr.RequestID = resp.Header.Get("X-Request-ID")
	}
	return apiErr
}
