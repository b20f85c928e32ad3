package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/spf13/cobra"
)

var (
	matchTimeout time.Duration
	matchJSON    bool
)

var matchCmd = &cobra.Command{
	Use:   "match <image-path>",
	Short: "Match an image against the gallery",
	Long:  "Load the embedding model, then match a local image against every template in the gallery.",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().DurationVar(&matchTimeout, "timeout", 5*time.Minute, "Overall timeout including model load")
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "Print the result as JSON")
}

func runMatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), matchTimeout)
	defer cancel()

	if err := globalCore.Provider.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to load embedding model: %w", err)
	}

	res, err := globalCore.MatchUC.Match(ctx, domain.ResourceLocator(args[0]))
	if err != nil {
		return err
	}

	if matchJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	printMatchResult(cmd.OutOrStdout(), res)
	return nil
}

func printMatchResult(w io.Writer, res *domain.MatchResult) {
	if res.Matched {
		fmt.Fprintf(w, "Matched: %s (%d%%)\n", res.Template.Name, res.DisplayScore)
	} else {
		fmt.Fprintf(w, "No match (best %d%%)\n", res.DisplayScore)
	}

	for _, c := range res.Candidates {
		fmt.Fprintf(w, "  %-28s %6.3f\n", c.Template.Name, c.Score)
	}
}
