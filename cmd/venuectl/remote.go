package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/thebtf/venuescout/internal/client"
	"github.com/thebtf/venuescout/internal/engine"
)

var (
	remoteServer  string
	remoteWait    time.Duration
	recommendUser string
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running worker",
	Long:  "Commands that call the worker HTTP API instead of an in-process engine. The server defaults to the configured worker host and port.",
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print worker health and readiness",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remoteClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if remoteWait > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, remoteWait)
			defer cancel()
			if err := c.WaitReady(ctx); err != nil {
				return err
			}
		}

		health, err := c.Health(ctx)
		if err != nil {
			return err
		}
		ready, err := c.Ready(ctx)
		if err != nil {
			return err
		}
		return writeOutput(cmd, map[string]any{"health": health, "ready": ready})
	},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend <file>",
	Short: "Rank candidate venues for a user on the worker",
	Long:  "Reads candidates from a JSON file (an array, or an object with a candidates field) and posts them to the worker's recommendation endpoint.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if recommendUser == "" {
			return fmt.Errorf("--user is required")
		}
		var raw json.RawMessage
		if err := readJSONFile(cmd, args[0], &raw); err != nil {
			return err
		}
		candidates, err := decodeCandidates(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		c, err := remoteClient()
		if err != nil {
			return err
		}
		result, err := c.Recommend(cmd.Context(), recommendUser, candidates)
		if err != nil {
			return err
		}
		return writeOutput(cmd, result)
	},
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&remoteServer, "server", "", "worker base URL (default from config)")
	statusCmd.Flags().DurationVar(&remoteWait, "wait", 0, "wait up to this long for the worker to become ready")
	recommendCmd.Flags().StringVar(&recommendUser, "user", "", "user to rank for")

	remoteCmd.AddCommand(statusCmd, recommendCmd)
	rootCmd.AddCommand(remoteCmd)
}

func remoteClient() (*client.Client, error) {
	server := remoteServer
	if server == "" {
		server = "http://" + net.JoinHostPort(cfg.WorkerHost, strconv.Itoa(cfg.WorkerPort))
	}
	return client.New(server, nil)
}

func decodeCandidates(raw json.RawMessage) ([]engine.VenueCandidate, error) {
	var candidates []engine.VenueCandidate
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		err := json.Unmarshal(trimmed, &candidates)
		return candidates, err
	}
	var wrapped struct {
		Candidates []engine.VenueCandidate `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Candidates, nil
}
