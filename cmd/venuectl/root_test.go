package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/venuescout/pkg/models"
)

// execute runs venuectl with args inside an isolated data dir.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VENUESCOUT_DATA_DIR", t.TempDir())
	scoreProximityHeavy = false
	scoreMappingPath = ""
	remoteServer = ""
	remoteWait = 0
	recommendUser = ""

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(bytes.NewBufferString(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"extract", "score", "vocabulary", "remote"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "venuectl", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestScoreCommand_Flags(t *testing.T) {
	flag := scoreCmd.Flags().Lookup("proximity-heavy")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
	require.NotNil(t, scoreCmd.Flags().Lookup("mapping"))
}

func TestExtract_SingleVenue(t *testing.T) {
	path := writeFile(t, "venue.json", `{
		"id": "v1",
		"features": {"Wifi": true, "Noise_Level": "Great", "Parking": {}},
		"categories": ["Coffee Shop"]
	}`)

	out, err := execute(t, "", "extract", path)
	require.NoError(t, err)

	var got []extractedVenue
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "v1", got[0].ID)
	assert.Equal(t, []string{"coffeeshop", "noiselevel", "parking", "wifi"}, got[0].Tags)
}

func TestExtract_ArrayFromStdin(t *testing.T) {
	out, err := execute(t, `[{"id":"a","features":{"Rooftop":true}},{"id":"b"}]`, "extract", "-")
	require.NoError(t, err)

	var got []extractedVenue
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, []string{"rooftop"}, got[0].Tags)
	assert.Equal(t, []string{}, got[1].Tags)
}

func TestExtract_Errors(t *testing.T) {
	_, err := execute(t, "", "extract", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = execute(t, "", "extract", writeFile(t, "bad.json", `{"id":`))
	assert.Error(t, err)

	_, err = execute(t, "", "extract")
	assert.Error(t, err)
}

func TestScore_Scenario(t *testing.T) {
	path := writeFile(t, "scenario.json", `{
		"user_id": "alice",
		"preferences": {"hobbies": ["Working Remotely"]},
		"venues": [{"id": "seen", "features": {"Wifi": true}}],
		"feedback": [{"venue_id": "seen", "feedback": "up", "distance_meters": 1000}],
		"candidates": [
			{"venue_id": "seen", "distance_meters": 10},
			{"venue_id": "bar1", "distance_meters": 500, "categories": ["Bar"]},
			{"venue_id": "cafe1", "distance_meters": 500, "features": {"Wifi": true}}
		]
	}`)

	out, err := execute(t, "", "score", path)
	require.NoError(t, err)

	var report scenarioReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, "alice", report.Profile.UserID)
	require.Len(t, report.Feedback, 1)
	assert.Equal(t, models.FeedbackUp, report.Feedback[0].Score.Feedback)

	assert.Equal(t, []string{"seen"}, report.Recommendations.Skipped)
	require.Len(t, report.Recommendations.Scored, 2)
	assert.Equal(t, "cafe1", report.Recommendations.Scored[0].VenueID)
	assert.Equal(t, 1.0, report.Recommendations.Scored[0].Breakdown.Similarity)
	assert.Equal(t, "bar1", report.Recommendations.Scored[1].VenueID)
	assert.ElementsMatch(t, []string{"wifi", "bar"}, report.Vocabulary)
}

func TestScore_EmptyScenario(t *testing.T) {
	out, err := execute(t, "", "score", writeFile(t, "empty.json", `{}`))
	require.NoError(t, err)

	var report scenarioReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "local", report.Profile.UserID)
	assert.Empty(t, report.Recommendations.Scored)
}

func TestScore_BadFeedbackLabel(t *testing.T) {
	path := writeFile(t, "bad.json", `{
		"venues": [{"id": "v1", "features": {"Wifi": true}}],
		"feedback": [{"venue_id": "v1", "feedback": "sideways"}]
	}`)

	_, err := execute(t, "", "score", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidFeedback)
}

func TestVocabulary_EmptyDatabase(t *testing.T) {
	out, err := execute(t, "", "vocabulary")
	require.NoError(t, err)

	var vocab models.Vocabulary
	require.NoError(t, json.Unmarshal([]byte(out), &vocab))
	assert.Empty(t, vocab.Tags)
	assert.Zero(t, vocab.Version)
}
