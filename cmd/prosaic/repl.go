package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prosaic-dev/prosaic/internal/repl"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive analysis session",
	Long: `Start an interactive session.

Type text to analyze it; re-typing edited text only re-analyzes the
blocks that changed. Suggestions can be accepted or ignored in place,
and a stability pass re-verifies the text once it settles.

Type 'help' in the session for available commands.`,
	Run: func(cmd *cobra.Command, args []string) {
		eng, err := buildEngine()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer eng.close()

		r, err := repl.New(&repl.Config{
			Store:     eng.store,
			Analyzer:  eng.analyzer,
			Stability: eng.stability,
			Log:       eng.log,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create session: %v\n", err)
			os.Exit(1)
		}
		if err := r.Run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
}
