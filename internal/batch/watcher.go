// Package batch feeds files from a watched input directory through the
// pseudonymization engine.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/hl7deid/hl7deid/internal/deid/engine"
	"github.com/hl7deid/hl7deid/internal/hl7"
)

const defaultRescanInterval = 30 * time.Second

// Watcher moves messages from an input directory to an output directory,
// pseudonymizing each on the way. Processed originals are parked in a done
// directory; failed files stay in the input directory so a later rescan
// retries them.
type Watcher struct {
	engine    *engine.Engine
	inputDir  string
	outputDir string
	doneDir   string
	interval  time.Duration

	queue chan string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewWatcher(eng *engine.Engine, inputDir, outputDir, doneDir string) *Watcher {
	return &Watcher{
		engine:    eng,
		inputDir:  inputDir,
		outputDir: outputDir,
		doneDir:   doneDir,
		interval:  defaultRescanInterval,
		queue:     make(chan string, 256),
		inFlight:  make(map[string]struct{}),
	}
}

// Start watches the input directory until the context is cancelled. Files are
// picked up both by filesystem notification and by a periodic rescan, which
// also sweeps in files that existed before startup.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range []string{w.inputDir, w.outputDir, w.doneDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("batch: create directory %s: %w", dir, err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("batch: start watcher: %w", err)
	}
	if err := fw.Add(w.inputDir); err != nil {
		fw.Close()
		return fmt.Errorf("batch: watch %s: %w", w.inputDir, err)
	}

	go w.worker(ctx)

	go func() {
		defer fw.Close()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		w.rescan()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
					w.enqueue(event.Name)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("input directory watch error")
			case <-ticker.C:
				w.rescan()
			}
		}
	}()

	log.Info().Str("input", w.inputDir).Str("output", w.outputDir).Msg("batch watcher started")
	return nil
}

// rescan enqueues every regular file currently in the input directory.
func (w *Watcher) rescan() {
	entries, err := os.ReadDir(w.inputDir)
	if err != nil {
		log.Error().Err(err).Str("dir", w.inputDir).Msg("input directory rescan failed")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.enqueue(filepath.Join(w.inputDir, entry.Name()))
	}
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	if _, busy := w.inFlight[path]; busy {
		w.mu.Unlock()
		return
	}
	w.inFlight[path] = struct{}{}
	w.mu.Unlock()

	select {
	case w.queue <- path:
	default:
		// Queue full; the next rescan picks the file up again.
		w.release(path)
	}
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inFlight, path)
	w.mu.Unlock()
}

// worker drains the queue one file at a time so concurrent runs never race
// on the same mappings.
func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			if err := w.ProcessFile(ctx, path); err != nil {
				log.Error().Err(err).Str("file", filepath.Base(path)).Msg("file processing failed, leaving for retry")
			}
			w.release(path)
		}
	}
}

// ProcessFile pseudonymizes a single file: the result is written to the
// output directory as <pseudo control ID>-<trigger>.hl7 and the original is
// moved to the done directory. On failure the input file is left in place.
func (w *Watcher) ProcessFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Already moved by an earlier run.
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	res, err := w.engine.ProcessMessage(ctx, raw, filepath.Base(path))
	if err != nil {
		return err
	}

	outName := res.PseudoControlID + "-" + res.Message.Trigger + ".hl7"
	outPath := filepath.Join(w.outputDir, outName)
	if err := os.WriteFile(outPath, []byte(hl7.Encode(res.Message)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	donePath := filepath.Join(w.doneDir, filepath.Base(path))
	if err := os.Rename(path, donePath); err != nil {
		return fmt.Errorf("move %s to done: %w", path, err)
	}

	log.Info().
		Str("file", filepath.Base(path)).
		Str("output", outName).
		Str("control_id", res.ControlID).
		Msg("file pseudonymized")
	return nil
}

// ProcessPath runs the pipeline once over a file or every regular file in a
// directory, without watching. Used by the process command.
func (w *Watcher) ProcessPath(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("batch: stat %s: %w", path, err)
	}
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("batch: create directory %s: %w", w.outputDir, err)
	}
	if err := os.MkdirAll(w.doneDir, 0o755); err != nil {
		return fmt.Errorf("batch: create directory %s: %w", w.doneDir, err)
	}

	if !info.IsDir() {
		return w.ProcessFile(ctx, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("batch: read %s: %w", path, err)
	}
	failed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := w.ProcessFile(ctx, filepath.Join(path, entry.Name())); err != nil {
			log.Error().Err(err).Str("file", entry.Name()).Msg("file processing failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("batch: %d file(s) failed", failed)
	}
	return nil
}
