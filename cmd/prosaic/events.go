package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	eventsField string
	eventsLimit int
	eventsPrune string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent analysis lifecycle events",
	Long: `Show recent events from the SQLite event log.

Recording is enabled by setting events_db in .prosaic.yaml or passing
--events-db. With --prune, events older than the given duration are
deleted instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		if eng.log == nil {
			return fmt.Errorf("no event log configured (set events_db or --events-db)")
		}

		if eventsPrune != "" {
			retention, err := time.ParseDuration(eventsPrune)
			if err != nil {
				return fmt.Errorf("invalid --prune duration: %w", err)
			}
			removed, err := eng.log.Cleanup(retention)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d event(s) older than %v\n", removed, retention)
			return nil
		}

		evs, err := eng.log.Recent(eventsField, eventsLimit)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			fmt.Println("no events")
			return nil
		}
		for _, e := range evs {
			line := fmt.Sprintf("%s  %-22s %s", e.Timestamp.Format(time.RFC3339), e.Type, e.FieldID)
			if e.BlockID != "" {
				line += "  block=" + shortID(e.BlockID)
			}
			if len(e.Data) > 0 {
				line += "  " + color.New(color.Faint).Sprint(string(e.Data))
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().StringVar(&eventsField, "field", "", "only show events for this field")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum events to show")
	eventsCmd.Flags().StringVar(&eventsPrune, "prune", "", "delete events older than this duration (e.g. 168h)")
	rootCmd.AddCommand(eventsCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
