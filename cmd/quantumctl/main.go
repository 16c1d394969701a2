package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/audit"
	"github.com/brandrank/quantum-intel/internal/cache"
	"github.com/brandrank/quantum-intel/internal/config"
	"github.com/brandrank/quantum-intel/internal/forecast"
	"github.com/brandrank/quantum-intel/internal/metrics"
	"github.com/brandrank/quantum-intel/internal/orchestrator"
	"github.com/brandrank/quantum-intel/internal/source"
	"github.com/brandrank/quantum-intel/internal/store"
)

var (
	// Global flags
	postgresConn string
	shadowMode   bool
	timeoutMs    int
	jsonOutput   bool

	// Card flags
	cardTier string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quantumctl",
		Short: "Operator tool for the quantum brand intelligence pipeline",
		Long: `Runs pipeline operations directly against the database, bypassing the API.
Useful for spot-checking analyses, generating cards, and verifying rollout health.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&postgresConn, "postgres", os.Getenv("POSTGRES_CONN"), "Postgres connection string")
	rootCmd.PersistentFlags().BoolVar(&shadowMode, "shadow", true, "Shadow mode (compute but skip all writes)")
	rootCmd.PersistentFlags().IntVar(&timeoutMs, "timeout-ms", 5000, "Per-analysis compute deadline in milliseconds")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit raw JSON instead of a summary")

	// Subcommands
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// analyzeCmd runs one analysis for a subject and prints the result
func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <subject-id>",
		Short: "Run a single analysis for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			subjectID := args[0]

			orch, _, cleanup, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := orch.Analyze(ctx, subjectID)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}
			if result == nil {
				fmt.Printf("No result for %s (insufficient data or deadline exceeded)\n", subjectID)
				return nil
			}

			if jsonOutput {
				return printJSON(result)
			}

			state := result.State
			fmt.Printf("=== Analysis: %s ===\n", subjectID)
			fmt.Printf("Dominant category: %s (%.1f%%)\n", state.DominantCategory(), state.MaxProbability()*100)
			fmt.Printf("Uncertainty: %.3f\n", state.Uncertainty)
			fmt.Printf("Contributors: %d\n", state.ContributorCount)
			for _, cat := range api.Categories() {
				fmt.Printf("  %-10s %.3f\n", cat, state.Probabilities[cat])
			}
			if len(result.Anomalies) == 0 {
				fmt.Printf("Anomalies: none\n")
			}
			for _, a := range result.Anomalies {
				fmt.Printf("Anomaly: %s (strength %.2f, confidence %.2f)\n", a.Type, a.Strength, a.Confidence)
			}
			if c := result.Cascade; c != nil {
				fmt.Printf("Cascade: %.0f%% within %.0fh (reach ~%d)\n",
					c.Probability*100, c.TimeToEventHours, c.PredictedReach)
			}
			return nil
		},
	}
	return cmd
}

// cardCmd builds a forecast card for a subject at a tier
func cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card <subject-id>",
		Short: "Build a tiered forecast card for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			subjectID := args[0]

			if !api.ValidTier(cardTier) {
				return fmt.Errorf("tier must be %q or %q", api.TierFree, api.TierEnterprise)
			}

			orch, analysisStore, cleanup, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			builder := forecast.NewBuilder(orch, analysisStore)
			card, err := builder.Build(ctx, subjectID, cardTier)
			if err != nil {
				return fmt.Errorf("card build failed: %w", err)
			}
			if card == nil {
				fmt.Printf("No card for %s (analysis not yet available)\n", subjectID)
				return nil
			}

			return printJSON(card)
		},
	}

	cmd.Flags().StringVar(&cardTier, "tier", api.TierFree, "Card tier (free or enterprise)")
	return cmd
}

// statusCmd prints the pipeline health report
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			orch, _, cleanup, err := buildOrchestrator()
			if err != nil {
				return err
			}
			defer cleanup()

			report := orch.HealthCheck(ctx)
			if jsonOutput {
				return printJSON(report)
			}

			fmt.Printf("=== Pipeline Status ===\n")
			fmt.Printf("Status: %s\n", report.Status)
			fmt.Printf("Stored states: %d\n", report.StoredStates)
			fmt.Printf("Cache hit rate: %.1f%%\n", report.CacheHitRate*100)
			return nil
		},
	}
	return cmd
}

// buildOrchestrator wires a one-shot orchestrator from the global flags. The
// returned cleanup drains background work and closes connections.
func buildOrchestrator() (*orchestrator.Orchestrator, store.AnalysisStore, func(), error) {
	cfg := config.Default()
	cfg.Enabled = true
	cfg.ShadowMode = shadowMode
	cfg.MaxCalculationTime = time.Duration(timeoutMs) * time.Millisecond
	cfg.CacheEnabled = false
	cfg.PostgresConn = postgresConn

	if postgresConn == "" {
		return nil, nil, nil, fmt.Errorf("--postgres (or POSTGRES_CONN) is required")
	}

	analysisStore, err := store.NewPostgresStore(postgresConn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect store: %w", err)
	}
	src, err := source.ConnectPostgresSource(postgresConn)
	if err != nil {
		analysisStore.Close()
		return nil, nil, nil, fmt.Errorf("failed to connect source: %w", err)
	}

	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Responses: src,
		Related:   src,
		Cache:     cache.Disabled{},
		Store:     analysisStore,
		Auditor:   audit.NewPostgresRecorder(src.Pool()),
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	if err != nil {
		src.Close()
		analysisStore.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		orch.Close()
		src.Close()
		analysisStore.Close()
	}
	return orch, analysisStore, cleanup, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
