package pseudoid

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/hl7deid/hl7deid/internal/deid/rules"
)

func testRules() *rules.Set {
	return &rules.Set{
		Remove: []rules.TerserRule{{Terser: "PID-11-1", Desc: "address"}},
		Aliases: []rules.Alias{
			{From: "PID-2-1", To: "PID-2"},
			{From: "PID-2", To: "PID-3(0)-1"},
		},
	}
}

func TestGetOrCreateIsDeterministic(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepoMem(), testRules())

	first, err := svc.GetOrCreate(ctx, "PV1-19-1", "424242")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := svc.GetOrCreate(ctx, "PV1-19-1", "424242")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first != second {
		t.Errorf("substitute not stable: %q then %q", first, second)
	}
}

func TestNumericSubstitutePreservesDigitCount(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepoMem(), testRules())

	for _, original := range []string{"7", "42", "424242", "99999999999999999999999999"} {
		got, err := svc.GetOrCreate(ctx, "PV1-19-1", original)
		if err != nil {
			t.Fatalf("GetOrCreate(%q): %v", original, err)
		}
		if len(got) != len(original) {
			t.Errorf("substitute for %q has %d digits, want %d", original, len(got), len(original))
		}
		if !isDigits(got) {
			t.Errorf("substitute for %q is not numeric: %q", original, got)
		}
		if got == original {
			t.Errorf("substitute equals original %q", original)
		}
		if got[0] == '0' {
			t.Errorf("substitute %q has a leading zero", got)
		}
	}
}

func TestNonNumericSubstituteIsOpaque(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepoMem(), testRules())

	got, err := svc.GetOrCreate(ctx, "PID-3(0)-1", "CASE-17B")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("substitute %q is not a UUID: %v", got, err)
	}
}

func TestSubstituteUniquePerPath(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMem()
	svc := NewService(repo, testRules())

	seen := map[string]string{}
	for _, original := range []string{"10", "11", "12", "13", "14", "15", "16", "17", "18"} {
		got, err := svc.GetOrCreate(ctx, "PV1-19-1", original)
		if err != nil {
			t.Fatalf("GetOrCreate(%q): %v", original, err)
		}
		if prev, dup := seen[got]; dup {
			t.Errorf("substitute %q issued for both %q and %q", got, prev, original)
		}
		seen[got] = original
	}
}

func TestAliasedPathsShareMapping(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepoMem(), testRules())

	// PID-2-1 chains through PID-2 to PID-3(0)-1; all three spellings (and
	// the root-marker form) must share one stored substitute.
	first, err := svc.GetOrCreate(ctx, "PID-2-1", "4711")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	for _, path := range []string{"PID-2", "PID-3(0)-1", "/.PID-2-1"} {
		got, err := svc.GetOrCreate(ctx, path, "4711")
		if err != nil {
			t.Fatalf("GetOrCreate(%q): %v", path, err)
		}
		if got != first {
			t.Errorf("path %q got %q, want shared substitute %q", path, got, first)
		}
	}
}

func TestControlIDIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepoMem(), testRules())

	first, err := svc.GetOrCreateControlID(ctx, "GyY4F6kLyC7NwHDnqAmAx252")
	if err != nil {
		t.Fatalf("GetOrCreateControlID: %v", err)
	}
	second, err := svc.GetOrCreateControlID(ctx, "GyY4F6kLyC7NwHDnqAmAx252")
	if err != nil {
		t.Fatalf("GetOrCreateControlID: %v", err)
	}
	if first != second {
		t.Errorf("control-id substitute not stable: %q then %q", first, second)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("control-id substitute %q is not a UUID: %v", first, err)
	}

	other, err := svc.GetOrCreateControlID(ctx, "DIFFERENT")
	if err != nil {
		t.Fatalf("GetOrCreateControlID: %v", err)
	}
	if other == first {
		t.Errorf("distinct control IDs share substitute %q", first)
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewRepoMem(), testRules())

	const workers = 16
	const perWorker = 25
	results := make([][]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			vals := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				original := strconv.Itoa(100000 + w*perWorker + i)
				got, err := svc.GetOrCreate(ctx, "PV1-19-1", original)
				if err != nil {
					t.Errorf("GetOrCreate(%s): %v", original, err)
					return
				}
				vals = append(vals, got)
			}
			results[w] = vals
		}(w)
	}
	wg.Wait()

	seen := make(map[string]int)
	for w, vals := range results {
		for i, got := range vals {
			if len(got) != 6 {
				t.Errorf("substitute %q does not keep the digit count", got)
			}
			seen[got]++

			original := strconv.Itoa(100000 + w*perWorker + i)
			again, err := svc.GetOrCreate(ctx, "PV1-19-1", original)
			if err != nil {
				t.Fatalf("GetOrCreate(%s): %v", original, err)
			}
			if again != got {
				t.Errorf("substitute for %s changed from %q to %q", original, got, again)
			}
		}
	}
	for v, n := range seen {
		if n > 1 {
			t.Errorf("substitute %q issued for %d different originals", v, n)
		}
	}
}
