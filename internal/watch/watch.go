// Package watch re-analyzes files incrementally as they change on
// disk: only blocks whose content hash changed are re-sent to the
// provider, and a stability pass runs once a file goes quiet.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"

	"github.com/prosaic-dev/prosaic/internal/analyzer"
	"github.com/prosaic-dev/prosaic/internal/events"
	"github.com/prosaic-dev/prosaic/internal/stability"
	"github.com/prosaic-dev/prosaic/internal/types"
)

// debounce coalesces the burst of write events editors emit per save.
const debounce = 250 * time.Millisecond

// Watcher drives incremental analysis from filesystem events. Each
// watched file is one analysis field keyed by its absolute path.
type Watcher struct {
	analyzer  *analyzer.BlockAnalyzer
	stability *stability.Manager
	log       *events.Log
	out       io.Writer

	pending map[string]*time.Timer
}

// New creates a Watcher. log may be nil to skip event recording.
func New(a *analyzer.BlockAnalyzer, m *stability.Manager, log *events.Log, out io.Writer) *Watcher {
	if out == nil {
		out = os.Stdout
	}
	return &Watcher{
		analyzer:  a,
		stability: m,
		log:       log,
		out:       out,
		pending:   make(map[string]*time.Timer),
	}
}

// Run analyzes every path once, then watches them until ctx is done.
func (w *Watcher) Run(ctx context.Context, paths []string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	watched := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		// Watch the directory: editors that save via rename-and-replace
		// drop the watch on the file inode itself.
		if err := fsw.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", abs, err)
		}
		watched[abs] = true
		w.analyzeFile(ctx, abs)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if !watched[abs] {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReanalyze(ctx, abs)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(w.out, "watch error: %v\n", err)
		}
	}
}

func (w *Watcher) scheduleReanalyze(ctx context.Context, path string) {
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounce, func() {
		w.analyzeFile(ctx, path)
	})
}

func (w *Watcher) analyzeFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(w.out, "read %s: %v\n", path, err)
		return
	}

	// New content supersedes whatever was in flight.
	w.analyzer.Cancel(path)
	w.stability.Cancel(path)

	w.record(events.Event{FieldID: path, Type: events.EventAnalysisStarted})
	w.analyzer.AnalyzeText(ctx, path, string(data), analyzer.Callbacks{
		OnBlockComplete: func(fieldID, blockID string) {
			w.record(events.Event{FieldID: fieldID, BlockID: blockID, Type: events.EventBlockAnalyzed})
		},
		OnBlockError: func(fieldID, blockID string, err error) {
			w.record(events.Event{FieldID: fieldID, BlockID: blockID, Type: events.EventBlockFailed,
				Data: events.Payload(map[string]string{"error": err.Error()})})
			fmt.Fprintf(w.out, "%s: block analysis failed: %v\n", filepath.Base(fieldID), err)
		},
		OnAllComplete: func(fieldID string, result *types.AnalysisResult) {
			w.record(events.Event{FieldID: fieldID, Type: events.EventAnalysisCompleted,
				Data: events.Payload(map[string]int{"issues": len(result.Issues)})})
			w.printResult(fieldID, result)
			w.stability.Schedule(ctx, fieldID, w.stabilityCallbacks())
		},
	})
}

func (w *Watcher) stabilityCallbacks() stability.Callbacks {
	return stability.Callbacks{
		OnPassStart: func(fieldID string, blockIDs []string) {
			w.record(events.Event{FieldID: fieldID, Type: events.EventStabilityStarted,
				Data: events.Payload(map[string]int{"blocks": len(blockIDs)})})
		},
		OnBlockVerified: func(fieldID, blockID string) {
			w.record(events.Event{FieldID: fieldID, BlockID: blockID, Type: events.EventBlockVerified})
		},
		OnPassComplete: func(fieldID string, result *types.AnalysisResult) {
			w.record(events.Event{FieldID: fieldID, Type: events.EventStabilityCompleted,
				Data: events.Payload(map[string]int{"issues": len(result.Issues)})})
			w.printResult(fieldID, result)
		},
		OnCancelled: func(fieldID string) {
			w.record(events.Event{FieldID: fieldID, Type: events.EventStabilityCancelled})
		},
	}
}

func (w *Watcher) printResult(fieldID string, result *types.AnalysisResult) {
	name := filepath.Base(fieldID)
	if len(result.Issues) == 0 {
		fmt.Fprintf(w.out, "%s %s: no issues\n", color.GreenString("ok"), name)
		return
	}
	fmt.Fprintf(w.out, "%s %s: %d issue(s)\n", color.YellowString("!!"), name, len(result.Issues))
	for _, iss := range result.Issues {
		fmt.Fprintf(w.out, "  [%s] %q → %q  %s\n",
			iss.Category, iss.OriginalText, iss.SuggestedText, color.New(color.Faint).Sprint(iss.Explanation))
	}
}

func (w *Watcher) record(e events.Event) {
	if err := w.log.Record(e); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record event: %v\n", err)
	}
}
