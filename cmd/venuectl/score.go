package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/thebtf/venuescout/internal/db/memory"
	"github.com/thebtf/venuescout/internal/engine"
	"github.com/thebtf/venuescout/internal/preferences"
	"github.com/thebtf/venuescout/internal/scoring"
	"github.com/thebtf/venuescout/internal/vocabulary"
	"github.com/thebtf/venuescout/internal/worker"
	"github.com/thebtf/venuescout/pkg/models"
)

// scenario is the input of the score command.
type scenario struct {
	UserID      string                      `json:"user_id"`
	Preferences models.PreferenceSelections `json:"preferences"`
	Venues      []engine.VenueInput         `json:"venues"`
	Feedback    []engine.FeedbackInput      `json:"feedback"`
	Candidates  []engine.VenueCandidate     `json:"candidates"`
}

// scenarioReport is the output of the score command.
type scenarioReport struct {
	Profile         *models.AffinityProfile   `json:"profile"`
	Recommendations *engine.GenerationResult  `json:"recommendations"`
	Feedback        []*engine.FeedbackOutcome `json:"feedback"`
	Vocabulary      []string                  `json:"vocabulary"`
}

var (
	scoreProximityHeavy bool
	scoreMappingPath    string
)

var scoreCmd = &cobra.Command{
	Use:   "score <file>",
	Short: "Replay a scenario against an in-memory engine",
	Long: `Reads a scenario file and runs it through a throwaway engine:
preferences are submitted, venues ingested, feedback applied in order and
candidates ranked on the generation radius. Nothing touches the database.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sc scenario
		if err := readJSONFile(cmd, args[0], &sc); err != nil {
			return err
		}
		if sc.UserID == "" {
			sc.UserID = "local"
		}

		report, err := runScenario(cmd.Context(), sc)
		if err != nil {
			return err
		}
		return writeOutput(cmd, report)
	},
}

func runScenario(ctx context.Context, sc scenario) (*scenarioReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	mappingPath := cfg.PreferenceMappingPath
	if scoreMappingPath != "" {
		mappingPath = scoreMappingPath
	}
	mapping, err := preferences.LoadMapping(mappingPath)
	if err != nil {
		return nil, fmt.Errorf("load preference mapping: %w", err)
	}

	engineCfg := worker.EngineConfig(cfg)
	if scoreProximityHeavy {
		engineCfg.Blend = scoring.ProximityHeavyBlend
	}

	store := memory.NewStore()
	vocab := vocabulary.NewManager(store, vocabulary.Options{}, log.Logger)
	svc, err := engine.NewService(store, vocab, mapping, engineCfg, engine.Options{}, log.Logger)
	if err != nil {
		return nil, err
	}

	report := &scenarioReport{Feedback: []*engine.FeedbackOutcome{}}

	if len(sc.Preferences.Labels()) > 0 {
		if _, err := svc.SubmitPreferences(ctx, sc.UserID, sc.Preferences); err != nil {
			return nil, fmt.Errorf("submit preferences: %w", err)
		}
	}
	for _, v := range sc.Venues {
		if _, err := svc.IngestVenue(ctx, v); err != nil {
			return nil, fmt.Errorf("ingest venue %q: %w", v.ID, err)
		}
	}
	for i, fb := range sc.Feedback {
		if fb.UserID == "" {
			fb.UserID = sc.UserID
		}
		outcome, err := svc.HandleFeedback(ctx, fb)
		if err != nil {
			return nil, fmt.Errorf("feedback #%d on %q: %w", i+1, fb.VenueID, err)
		}
		report.Feedback = append(report.Feedback, outcome)
	}

	report.Recommendations, err = svc.ScoreCandidates(ctx, sc.UserID, sc.Candidates)
	if err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}
	if report.Vocabulary, err = svc.Vocabulary(ctx); err != nil {
		return nil, err
	}
	report.Profile, err = svc.Profile(ctx, sc.UserID)
	if errors.Is(err, models.ErrNotFound) {
		// A scenario without preferences or feedback has no stored profile.
		report.Profile, err = models.NewAffinityProfile(sc.UserID), nil
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreProximityHeavy, "proximity-heavy", false, "blend 0.4/0.4/0.2 instead of the configured weights")
	scoreCmd.Flags().StringVar(&scoreMappingPath, "mapping", "", "preference mapping YAML (default: configured or built-in)")
	rootCmd.AddCommand(scoreCmd)
}
