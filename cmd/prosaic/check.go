package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/prosaic-dev/prosaic/internal/analyzer"
	"github.com/prosaic-dev/prosaic/internal/stability"
	"github.com/prosaic-dev/prosaic/internal/types"
)

var (
	checkJSON      bool
	checkStability bool
)

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Analyze a file (or stdin) once and print the issues",
	Long: `Analyze a file once and print every issue found.

With --stability, prosaic additionally waits for the idle-triggered
re-verification pass before printing, so issues exposed by the first
round of analysis are included. The pass only runs when no suggestions
are pending, so it may be skipped for text with findings.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		fieldID := "stdin"
		var data []byte
		if len(args) == 1 {
			fieldID = args[0]
			data, err = os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
		} else {
			data, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
		}

		ctx := context.Background()
		result, err := runAnalysis(ctx, eng, fieldID, string(data))
		if err != nil {
			return err
		}

		if checkStability {
			if r, ok := runStability(ctx, eng, fieldID); ok {
				result = r
			}
		}

		if checkJSON {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		printIssues(fieldID, result)
		if len(result.Issues) > 0 {
			// os.Exit would skip the deferred close; release the event log
			// explicitly before reporting the non-zero status.
			eng.close()
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the result as JSON")
	checkCmd.Flags().BoolVar(&checkStability, "stability", false, "wait for the stability pass before printing")
	rootCmd.AddCommand(checkCmd)
}

// runAnalysis performs one first-pass analysis and blocks until every
// dispatched block has resolved.
func runAnalysis(ctx context.Context, eng *engine, fieldID, text string) (*types.AnalysisResult, error) {
	done := make(chan *types.AnalysisResult, 1)
	var errs atomic.Int32
	eng.analyzer.AnalyzeText(ctx, fieldID, text, analyzer.Callbacks{
		OnBlockError: func(_, blockID string, err error) {
			errs.Add(1)
			fmt.Fprintf(os.Stderr, "warning: block analysis failed: %v\n", err)
		},
		OnAllComplete: func(_ string, result *types.AnalysisResult) {
			select {
			case done <- result:
			default:
			}
		},
	})

	select {
	case result := <-done:
		if n := errs.Load(); n > 0 {
			fmt.Fprintf(os.Stderr, "warning: %d block(s) could not be analyzed\n", n)
		}
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runStability schedules a stability pass and waits for it to finish.
// Returns ok=false when the pass was skipped (pending suggestions, or
// everything already stable).
func runStability(ctx context.Context, eng *engine, fieldID string) (*types.AnalysisResult, bool) {
	done := make(chan *types.AnalysisResult, 1)
	eng.stability.Schedule(ctx, fieldID, stability.Callbacks{
		OnPassComplete: func(_ string, result *types.AnalysisResult) {
			select {
			case done <- result:
			default:
			}
		},
	})

	// Give the idle timer time to fire, then poll for pass completion.
	deadline := time.After(eng.idleDelay() + 2*time.Minute)
	started := time.After(eng.idleDelay() + 250*time.Millisecond)
	for {
		select {
		case result := <-done:
			return result, true
		case <-started:
			// The pass may have already finished by the time the probe fires.
			select {
			case result := <-done:
				return result, true
			default:
			}
			if !eng.stability.Running(fieldID) {
				// The pass's guards declined to run it.
				return nil, false
			}
		case <-deadline:
			fmt.Fprintln(os.Stderr, "warning: stability pass timed out")
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func printIssues(fieldID string, result *types.AnalysisResult) {
	if len(result.Issues) == 0 {
		color.Green("%s: no issues", fieldID)
		return
	}
	fmt.Printf("%s: %d issue(s)\n", fieldID, len(result.Issues))
	for _, iss := range result.Issues {
		fmt.Printf("  [%d:%d] [%s] %q → %q", iss.StartOffset, iss.EndOffset, iss.Category, iss.OriginalText, iss.SuggestedText)
		if iss.Explanation != "" {
			fmt.Printf("  %s", color.New(color.Faint).Sprint(iss.Explanation))
		}
		fmt.Println()
	}
}
