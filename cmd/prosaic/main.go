// Command prosaic is an incremental writing checker: it segments text
// into content-addressed blocks, sends only changed blocks to an
// LLM-backed provider, and re-verifies analyzed text once it settles.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/prosaic-dev/prosaic/internal/analyzer"
	"github.com/prosaic-dev/prosaic/internal/config"
	"github.com/prosaic-dev/prosaic/internal/events"
	"github.com/prosaic-dev/prosaic/internal/provider"
	"github.com/prosaic-dev/prosaic/internal/stability"
	"github.com/prosaic-dev/prosaic/internal/state"
)

var (
	configPath   string
	providerName string
	eventsDB     string
)

var rootCmd = &cobra.Command{
	Use:   "prosaic",
	Short: "Incremental LLM-backed writing checker",
	Long: `Prosaic analyzes text for writing issues (spelling, grammar, style)
incrementally: text is split into stable blocks, and only blocks whose
content actually changed are re-sent to the analysis provider. Once the
text settles, a stability pass re-verifies analyzed blocks to catch
problems exposed by earlier corrections.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default .prosaic.yaml)")
	rootCmd.PersistentFlags().StringVar(&providerName, "provider", "", "analysis provider: anthropic or openai (overrides config)")
	rootCmd.PersistentFlags().StringVar(&eventsDB, "events-db", "", "SQLite event log path (overrides config)")
}

// engine bundles the wired-up components a command needs.
type engine struct {
	cfg       *config.Config
	store     *state.Store
	analyzer  *analyzer.BlockAnalyzer
	stability *stability.Manager
	log       *events.Log
}

func (e *engine) close() {
	if e.log != nil {
		if err := e.log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close event log: %v\n", err)
		}
	}
}

// idleDelay returns the configured stability idle delay.
func (e *engine) idleDelay() time.Duration {
	if d := e.cfg.IdleDelayDuration(); d > 0 {
		return d
	}
	return stability.DefaultIdleDelay
}

// buildEngine loads config and wires store, provider, analyzer,
// stability manager, and the optional event log.
func buildEngine() (*engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if providerName != "" {
		cfg.Provider = providerName
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if eventsDB != "" {
		cfg.EventsDB = eventsDB
	}

	p, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	var log *events.Log
	if cfg.EventsDB != "" {
		log, err = events.Open(cfg.EventsDB)
		if err != nil {
			return nil, err
		}
	}

	store := state.NewStore()
	return &engine{
		cfg:       cfg,
		store:     store,
		analyzer:  analyzer.New(store, p),
		stability: stability.New(store, p, cfg.IdleDelayDuration()),
		log:       log,
	}, nil
}

func buildProvider(cfg *config.Config) (provider.Provider, error) {
	retry := provider.DefaultRetryConfig()
	if cfg.Retry.MaxRetries > 0 {
		retry.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.TimeoutSeconds > 0 {
		retry.Timeout = time.Duration(cfg.Retry.TimeoutSeconds) * time.Second
	}
	if cfg.Retry.MaxConcurrentCalls > 0 {
		retry.MaxConcurrentCalls = cfg.Retry.MaxConcurrentCalls
	}
	if cfg.Retry.RequestsPerSecond > 0 {
		retry.RequestsPerSecond = cfg.Retry.RequestsPerSecond
	}

	switch cfg.Provider {
	case "openai":
		return provider.NewOpenAI(provider.OpenAIConfig{
			AnalyzeModel: cfg.AnalyzeModel,
			VerifyModel:  cfg.VerifyModel,
			Retry:        retry,
		})
	default:
		return provider.NewAnthropic(provider.AnthropicConfig{
			AnalyzeModel: cfg.AnalyzeModel,
			VerifyModel:  cfg.VerifyModel,
			Retry:        retry,
		})
	}
}
