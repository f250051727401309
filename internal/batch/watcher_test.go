package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hl7deid/hl7deid/internal/deid/engine"
	"github.com/hl7deid/hl7deid/internal/deid/identity"
	"github.com/hl7deid/hl7deid/internal/deid/names"
	"github.com/hl7deid/hl7deid/internal/deid/pseudoid"
	"github.com/hl7deid/hl7deid/internal/deid/rules"
)

const adtA01 = "MSH|^~\\&|junit||pseudo||20220201112815||ADT^A01|GyY4F6kLyC7NwHDnqAmAx252|P|2.5\r" +
	"PID||42|42||Thought^Deep||20010525|F\r" +
	"PV1||I|||||||||||||||||424242"

func testWatcher(t *testing.T) *Watcher {
	t.Helper()
	ruleSet := &rules.Set{
		ReplaceID: []rules.TerserRule{
			{Terser: "PID-2", Desc: "patient id"},
			{Terser: "PID-3(0)-1", Desc: "patient id list"},
			{Terser: "PV1-19", Desc: "visit number"},
		},
	}
	lists := &names.Lists{English: names.English{
		Male:   []string{"Arthur"},
		Female: []string{"Trillian"},
		Family: []string{"Dent"},
	}}
	eng := engine.New(
		ruleSet,
		identity.NewService(identity.NewRepoMem(), lists),
		pseudoid.NewService(pseudoid.NewRepoMem(), ruleSet),
		nil,
	)
	root := t.TempDir()
	return NewWatcher(eng,
		filepath.Join(root, "in"),
		filepath.Join(root, "out"),
		filepath.Join(root, "done"),
	)
}

func writeInput(t *testing.T, w *Watcher, name, content string) string {
	t.Helper()
	if err := os.MkdirAll(w.inputDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(w.inputDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcessFileMovesAndRenames(t *testing.T) {
	w := testWatcher(t)
	path := writeInput(t, w, "visit.hl7", adtA01)

	if err := w.ProcessPath(context.Background(), path); err != nil {
		t.Fatalf("ProcessPath: %v", err)
	}

	outputs := listDir(t, w.outputDir)
	if len(outputs) != 1 {
		t.Fatalf("outputs = %v, want exactly one", outputs)
	}
	if !strings.HasSuffix(outputs[0], "-A01.hl7") {
		t.Errorf("output name %q does not end in -A01.hl7", outputs[0])
	}
	if strings.Contains(outputs[0], "GyY4F6kLyC7NwHDnqAmAx252") {
		t.Errorf("output name %q carries the original control ID", outputs[0])
	}

	content, err := os.ReadFile(filepath.Join(w.outputDir, outputs[0]))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.Contains(string(content), "Thought") {
		t.Errorf("output still contains the original name:\n%s", content)
	}

	if got := listDir(t, w.doneDir); len(got) != 1 || got[0] != "visit.hl7" {
		t.Errorf("done dir = %v, want [visit.hl7]", got)
	}
	if got := listDir(t, w.inputDir); len(got) != 0 {
		t.Errorf("input dir not emptied: %v", got)
	}
}

func TestProcessFileFailureLeavesInput(t *testing.T) {
	w := testWatcher(t)
	path := writeInput(t, w, "broken.hl7", "this is not hl7")

	if err := w.ProcessFile(context.Background(), path); err == nil {
		t.Fatal("expected an error for an unparsable file")
	}

	if got := listDir(t, w.inputDir); len(got) != 1 || got[0] != "broken.hl7" {
		t.Errorf("input dir = %v, want the failed file kept", got)
	}
	if got := listDir(t, w.outputDir); len(got) != 0 {
		t.Errorf("output dir = %v, want empty", got)
	}
}

func TestProcessPathDirectory(t *testing.T) {
	w := testWatcher(t)
	writeInput(t, w, "a.hl7", adtA01)
	second := strings.Replace(adtA01, "GyY4F6kLyC7NwHDnqAmAx252", "AnotherControlId42", 1)
	writeInput(t, w, "b.hl7", second)
	writeInput(t, w, "broken.hl7", "garbage")

	err := w.ProcessPath(context.Background(), w.inputDir)
	if err == nil {
		t.Fatal("expected an error reporting the failed file")
	}
	if !strings.Contains(err.Error(), "1 file(s) failed") {
		t.Errorf("err = %v", err)
	}

	if got := listDir(t, w.outputDir); len(got) != 2 {
		t.Errorf("outputs = %v, want two", got)
	}
	if got := listDir(t, w.inputDir); len(got) != 1 || got[0] != "broken.hl7" {
		t.Errorf("input dir = %v, want only the failed file", got)
	}
}

func TestWatcherPicksUpExistingFiles(t *testing.T) {
	w := testWatcher(t)
	writeInput(t, w, "preexisting.hl7", adtA01)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(listDir(t, w.outputDir)) == 1 && len(listDir(t, w.doneDir)) == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("file not processed: output=%v done=%v", listDir(t, w.outputDir), listDir(t, w.doneDir))
}
