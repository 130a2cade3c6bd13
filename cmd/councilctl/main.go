// Command councilctl is a thin Cobra CLI driving the council engine in
// verify mode: it runs one deliberation and maps the result's Verdict to
// the exit codes of SPEC_FULL.md §6 (0 = PASS, 1 = FAIL, 2 = UNCLEAR,
// 3 = engine error).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/llm-council/engine/internal/config"
	"github.com/llm-council/engine/internal/council"
	"github.com/llm-council/engine/internal/gateway"
)

const (
	exitPass    = 0
	exitFail    = 1
	exitUnclear = 2
	exitError   = 3
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	var (
		prompt      string
		verdictType string
		threshold   float64
		mode        string
		details     bool
	)

	cmd := &cobra.Command{
		Use:   "councilctl",
		Short: "Drive the LLM council engine from the command line",
		Long:  "councilctl runs a single deliberation against a configured council and prints the result envelope, exiting with a code that reflects the verdict.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, prompt, mode, verdictType, threshold, details)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "the prompt to deliberate on (required)")
	cmd.Flags().StringVar(&mode, "mode", "consensus", "consensus or debate")
	cmd.Flags().StringVar(&verdictType, "verdict-type", "none", "none or binary")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.7, "confidence threshold for a binary verdict")
	cmd.Flags().BoolVar(&details, "details", false, "include per-model detail in the printed result")
	cmd.MarkFlagRequired("prompt")

	return cmd
}

func runVerify(cmd *cobra.Command, prompt, mode, verdictType string, threshold float64, details bool) error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "councilctl: config: %v\n", err)
		os.Exit(exitError)
	}

	var caller council.ModelCaller = gateway.NewOpenRouterCaller(cfg.Gateway.OpenRouterAPIKey, cfg.Gateway.OpenRouterAPIURL)
	caller = gateway.NewBreakerCaller(
		caller,
		cfg.Gateway.CircuitBreaker.FailureThreshold,
		cfg.Gateway.CircuitBreaker.SuccessThreshold,
		cfg.Gateway.CircuitBreaker.Timeout,
	)

	transcripts := council.NewTranscriptWriter(cfg.TranscriptDir)
	orchestrator, err := council.NewOrchestrator(cfg.Council, caller, council.WithTranscriptWriter(transcripts))
	if err != nil {
		fmt.Fprintf(os.Stderr, "councilctl: orchestrator: %v\n", err)
		os.Exit(exitError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	query := council.Query{
		Prompt:              prompt,
		Mode:                council.Mode(mode),
		VerdictType:         council.VerdictType(verdictType),
		ConfidenceThreshold: threshold,
		IncludeDetails:      details,
	}

	requestID := uuid.NewString()
	start := time.Now()
	result, err := orchestrator.Run(ctx, requestID, query)
	if err != nil {
		kind := council.ErrNetwork
		if fe, ok := err.(*council.FatalError); ok {
			kind = fe.Kind
		}
		fmt.Fprintf(os.Stderr, "councilctl: deliberation failed after %s: %s (%v)\n", time.Since(start), kind, err)
		os.Exit(exitError)
	}

	if !details {
		result.Aggregate = nil
	}
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("councilctl: encoding result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

	os.Exit(exitCodeFor(result))
	return nil
}

// exitCodeFor maps a Result's Verdict to the exit codes of SPEC_FULL.md
// §6. A nil Verdict (verdict_type=none) is treated as PASS: verify mode
// only downgrades to a nonzero code when the engine itself classified the
// deliberation as FAIL or UNCLEAR.
func exitCodeFor(result *council.Result) int {
	if result.Verdict == nil {
		return exitPass
	}
	switch *result.Verdict {
	case council.VerdictPass:
		return exitPass
	case council.VerdictFail:
		return exitFail
	case council.VerdictUnclear:
		return exitUnclear
	default:
		return exitError
	}
}
