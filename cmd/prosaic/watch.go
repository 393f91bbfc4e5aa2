package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prosaic-dev/prosaic/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file> [file...]",
	Short: "Watch files and re-analyze changed blocks on save",
	Long: `Watch one or more text files and re-analyze them on every save.

Only blocks whose content actually changed are re-sent to the provider;
unchanged blocks keep their existing issues. After a file goes quiet,
a stability pass re-verifies the analyzed blocks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Printf("watching %d file(s), ^C to stop\n", len(args))
		w := watch.New(eng.analyzer, eng.stability, eng.log, nil)
		if err := w.Run(ctx, args); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
