// Package repl provides the interactive shell: type text, review the
// suggestions that come back, and accept or ignore them one by one.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/prosaic-dev/prosaic/internal/analyzer"
	"github.com/prosaic-dev/prosaic/internal/events"
	"github.com/prosaic-dev/prosaic/internal/stability"
	"github.com/prosaic-dev/prosaic/internal/state"
	"github.com/prosaic-dev/prosaic/internal/types"
)

// fieldID is the single logical field a REPL session edits.
const fieldID = "repl"

// analyzeTimeout bounds how long the shell waits for a full analysis.
const analyzeTimeout = 2 * time.Minute

// REPL represents the interactive shell.
type REPL struct {
	store     *state.Store
	analyzer  *analyzer.BlockAnalyzer
	stability *stability.Manager
	log       *events.Log

	ctx      context.Context
	rl       *readline.Instance
	text     string
	result   *types.AnalysisResult
	commands map[string]CommandHandler
}

// CommandHandler handles a specific command.
type CommandHandler func(args []string) error

// Config holds REPL configuration.
type Config struct {
	Store     *state.Store
	Analyzer  *analyzer.BlockAnalyzer
	Stability *stability.Manager
	Log       *events.Log // optional
}

// New creates a new REPL instance.
func New(cfg *Config) (*REPL, error) {
	if cfg.Store == nil || cfg.Analyzer == nil || cfg.Stability == nil {
		return nil, fmt.Errorf("store, analyzer, and stability manager are required")
	}
	r := &REPL{
		store:     cfg.Store,
		analyzer:  cfg.Analyzer,
		stability: cfg.Stability,
		log:       cfg.Log,
	}
	r.registerCommands()
	return r, nil
}

func (r *REPL) registerCommands() {
	r.commands = map[string]CommandHandler{
		"accept":    r.cmdAccept,
		"ignore":    r.cmdIgnore,
		"issues":    r.cmdIssues,
		"status":    r.cmdStatus,
		"stability": r.cmdStability,
		"show":      r.cmdShow,
		"clear":     r.cmdClear,
		"help":      r.cmdHelp,
	}
}

// Run starts the REPL loop. Input that is not a command is treated as
// the new field text and analyzed incrementally.
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("prosaic> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	fmt.Println("prosaic interactive session. Type text to analyze it, 'help' for commands, 'exit' to quit.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		parts := strings.Fields(line)
		if handler, ok := r.commands[parts[0]]; ok {
			if err := handler(parts[1:]); err != nil {
				color.Red("error: %v", err)
			}
			continue
		}
		if err := r.analyze(line); err != nil {
			color.Red("error: %v", err)
		}
	}
}

// analyze treats input as the field's new full text. Unchanged blocks
// are not re-sent; the session prints how much actually went out.
func (r *REPL) analyze(text string) error {
	r.stability.Cancel(fieldID)
	r.analyzer.Cancel(fieldID)
	r.text = text

	done := make(chan *types.AnalysisResult, 1)
	dispatched := 0
	r.analyzer.AnalyzeText(r.ctx, fieldID, text, analyzer.Callbacks{
		OnBlockStart: func(string, string) { dispatched++ },
		OnBlockError: func(_, blockID string, err error) {
			color.Red("block %s failed: %v", shortID(blockID), err)
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
		r.result = result
		if dispatched == 0 {
			fmt.Println("no changes; cached result:")
		} else {
			fmt.Printf("analyzed %d block(s)\n", dispatched)
		}
		r.printIssues()
		r.stability.Schedule(r.ctx, fieldID, r.stabilityCallbacks())
		return nil
	case <-time.After(analyzeTimeout):
		return fmt.Errorf("analysis timed out after %v", analyzeTimeout)
	case <-r.ctx.Done():
		return r.ctx.Err()
	}
}

func (r *REPL) stabilityCallbacks() stability.Callbacks {
	return stability.Callbacks{
		OnPassComplete: func(_ string, result *types.AnalysisResult) {
			r.result = result
			fmt.Println()
			color.Magenta("stability pass complete")
			r.printIssues()
			r.rl.Refresh()
		},
	}
}

func (r *REPL) cmdAccept(args []string) error {
	iss, err := r.issueArg(args)
	if err != nil {
		return err
	}
	newText := r.text[:iss.StartOffset] + iss.SuggestedText + r.text[iss.EndOffset:]
	if !r.store.ApplyLocalChange(fieldID, iss, newText) {
		return fmt.Errorf("could not apply issue %s", shortID(iss.ID))
	}
	r.store.RemoveIssue(fieldID, iss.ID)
	r.text = newText
	r.result = r.store.MergedResult(fieldID)
	r.recordIssue(events.EventIssueAccepted, iss)

	// The pass was verifying text that no longer exists.
	r.stability.Cancel(fieldID)
	r.stability.Schedule(r.ctx, fieldID, r.stabilityCallbacks())

	color.Green("applied: %q → %q", iss.OriginalText, iss.SuggestedText)
	fmt.Printf("text: %s\n", r.text)
	return nil
}

func (r *REPL) cmdIgnore(args []string) error {
	iss, err := r.issueArg(args)
	if err != nil {
		return err
	}
	if !r.store.RemoveIssue(fieldID, iss.ID) {
		return fmt.Errorf("could not remove issue %s", shortID(iss.ID))
	}
	r.result = r.store.MergedResult(fieldID)
	r.recordIssue(events.EventIssueIgnored, iss)

	r.stability.Cancel(fieldID)
	r.stability.Schedule(r.ctx, fieldID, r.stabilityCallbacks())

	fmt.Printf("ignored: %q\n", iss.OriginalText)
	return nil
}

func (r *REPL) cmdIssues([]string) error {
	r.printIssues()
	return nil
}

func (r *REPL) cmdShow([]string) error {
	if r.text == "" {
		fmt.Println("no text yet")
		return nil
	}
	fmt.Println(r.text)
	return nil
}

func (r *REPL) cmdClear([]string) error {
	r.stability.Cancel(fieldID)
	r.analyzer.Cancel(fieldID)
	r.store.Clear(fieldID)
	r.text = ""
	r.result = nil
	fmt.Println("cleared")
	return nil
}

func (r *REPL) cmdStatus([]string) error {
	field := r.store.Field(fieldID)
	if field == nil {
		fmt.Println("no text yet")
		return nil
	}
	fmt.Printf("version %d, %d block(s)\n", field.Version, len(field.Blocks))
	for i, b := range field.Blocks {
		state := "pending"
		switch {
		case b.IsAnalyzing:
			state = "analyzing"
		case b.IsStabilityChecking:
			state = "verifying"
		case b.IsAnalyzed:
			state = "analyzed"
		}
		fmt.Printf("  #%d [%d:%d] %s confidence=%.2f passes=%d issues=%d\n",
			i+1, b.StartOffset, b.EndOffset, state, b.Confidence, b.Passes, len(b.Issues))
	}
	return nil
}

func (r *REPL) cmdStability([]string) error {
	if r.text == "" {
		return fmt.Errorf("nothing analyzed yet")
	}
	r.stability.Schedule(r.ctx, fieldID, r.stabilityCallbacks())
	fmt.Println("stability pass scheduled; results will print when it completes")
	return nil
}

func (r *REPL) cmdHelp([]string) error {
	fmt.Print(`Commands:
  <text>       analyze the typed text (unchanged blocks are not re-sent)
  issues       list current suggestions
  accept N     apply suggestion N to the text
  ignore N     dismiss suggestion N
  stability    schedule a re-verification pass
  status       show per-block analysis state
  show         print the current text
  clear        drop all session state
  exit         leave the session
`)
	return nil
}

// issueArg resolves a 1-based issue index from the last result.
func (r *REPL) issueArg(args []string) (*types.Issue, error) {
	if r.result == nil || len(r.result.Issues) == 0 {
		return nil, fmt.Errorf("no issues to act on")
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: accept|ignore N")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(r.result.Issues) {
		return nil, fmt.Errorf("issue number must be 1..%d", len(r.result.Issues))
	}
	return r.result.Issues[n-1], nil
}

func (r *REPL) printIssues() {
	if r.result == nil || len(r.result.Issues) == 0 {
		color.Green("no issues")
		return
	}
	for i, iss := range r.result.Issues {
		fmt.Printf("  %d. [%s] %q → %q", i+1, iss.Category, iss.OriginalText, iss.SuggestedText)
		if iss.Explanation != "" {
			fmt.Printf("  %s", color.New(color.Faint).Sprint(iss.Explanation))
		}
		fmt.Println()
	}
}

func (r *REPL) recordIssue(t events.EventType, iss *types.Issue) {
	if r.log == nil {
		return
	}
	err := r.log.Record(events.Event{
		FieldID: fieldID,
		Type:    t,
		Data:    events.Payload(map[string]string{"original": iss.OriginalText, "suggested": iss.SuggestedText}),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record event: %v\n", err)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
