package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/venuescout/internal/engine"
)

func fakeWorker(t *testing.T, gotBody *[]byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ready","version":"1.2.3","uptime":"5s"}`)
	})
	mux.HandleFunc("GET /api/ready", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ready","sse_clients":0}`)
	})
	mux.HandleFunc("POST /api/users/{userID}/recommendations", func(w http.ResponseWriter, r *http.Request) {
		*gotBody, _ = io.ReadAll(r.Body)
		if r.PathValue("userID") != "u1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"not found"}`)
			return
		}
		_, _ = io.WriteString(w, `{"scored":[{"venue_id":"v1","user_id":"u1","feedback":"none","priority":0.8}],"skipped":[]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteStatus(t *testing.T) {
	var body []byte
	srv := fakeWorker(t, &body)

	out, err := execute(t, "", "remote", "status", "--server", srv.URL, "--wait", "2s")
	require.NoError(t, err)

	var report map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "1.2.3", report["health"]["version"])
	assert.Equal(t, "ready", report["ready"]["status"])
}

func TestRemoteRecommend(t *testing.T) {
	var body []byte
	srv := fakeWorker(t, &body)

	out, err := execute(t, `[{"venue_id":"v1","distance_meters":120}]`,
		"remote", "recommend", "-", "--server", srv.URL, "--user", "u1")
	require.NoError(t, err)

	var result engine.GenerationResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Scored, 1)
	assert.Equal(t, "v1", result.Scored[0].VenueID)

	var sent struct {
		Candidates []engine.VenueCandidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(body, &sent))
	require.Len(t, sent.Candidates, 1)
	assert.InDelta(t, 120.0, *sent.Candidates[0].DistanceMeters, 1e-9)
}

func TestRemoteRecommend_Errors(t *testing.T) {
	var body []byte
	srv := fakeWorker(t, &body)

	_, err := execute(t, `[]`, "remote", "recommend", "-", "--server", srv.URL)
	assert.ErrorContains(t, err, "--user")

	_, err = execute(t, `{"candidates":[]}`, "remote", "recommend", "-", "--server", srv.URL, "--user", "ghost")
	assert.ErrorContains(t, err, "404")

	_, err = execute(t, `[]`, "remote", "status", "--server", "ftp://nowhere")
	assert.Error(t, err)
}

func TestDecodeCandidates(t *testing.T) {
	list, err := decodeCandidates([]byte(` [{"venue_id":"a"}]`))
	require.NoError(t, err)
	assert.Len(t, list, 1)

	wrapped, err := decodeCandidates([]byte(`{"candidates":[{"venue_id":"a"},{"venue_id":"b"}]}`))
	require.NoError(t, err)
	assert.Len(t, wrapped, 2)

	_, err = decodeCandidates([]byte(`"nope"`))
	assert.Error(t, err)
}
