package main

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/venuescout/internal/engine"
	"github.com/thebtf/venuescout/internal/tagging"
)

// extractedVenue is one line of extract output.
type extractedVenue struct {
	ID   string   `json:"id,omitempty"`
	Tags []string `json:"tags"`
}

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Print the tags extracted from venue metadata",
	Long:  "Reads one venue object or an array of them ({id, features, categories}) and prints the normalized tags each would contribute. Use - for standard input.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw json.RawMessage
		if err := readJSONFile(cmd, args[0], &raw); err != nil {
			return err
		}

		venues, err := decodeVenues(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		out := make([]extractedVenue, 0, len(venues))
		for _, v := range venues {
			tags := tagging.ExtractTags(v.Features, v.Categories)
			if tags == nil {
				tags = []string{}
			}
			out = append(out, extractedVenue{ID: v.ID, Tags: tags})
		}
		return writeOutput(cmd, out)
	},
}

// decodeVenues accepts a single venue object or an array.
func decodeVenues(raw json.RawMessage) ([]engine.VenueInput, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var venues []engine.VenueInput
		if err := json.Unmarshal(trimmed, &venues); err != nil {
			return nil, err
		}
		return venues, nil
	}
	var venue engine.VenueInput
	if err := json.Unmarshal(trimmed, &venue); err != nil {
		return nil, err
	}
	return []engine.VenueInput{venue}, nil
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
