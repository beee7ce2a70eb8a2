package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"twostream/ml"
)

func sampleState(v float64) ml.StateDict {
	return ml.StateDict{
		"fc.weight": {Rows: 1, Cols: 3, Data: []float64{v, -v, 0.1 + v}},
		"fc.bias":   {Rows: 1, Cols: 1, Data: []float64{v / 3}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, cacheSize := range []int{0, 4} {
		store, err := NewStore(t.TempDir(), cacheSize)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		saved := sampleState(1.0 / 7)
		if err := store.Save(2, saved); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		loaded, err := store.Load(2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !loaded.Equal(saved) {
			t.Fatalf("cache=%d: loaded state differs from saved", cacheSize)
		}

		// mutating the returned dict must not leak into the slot
		loaded["fc.bias"].Data[0] = 42
		again, err := store.Load(2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !again.Equal(saved) {
			t.Fatalf("cache=%d: slot changed through a returned copy", cacheSize)
		}
	}
}

func TestSaveOverwrites(t *testing.T) {
	store, err := NewStore(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Save(0, sampleState(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Save(0, sampleState(2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// evict slot 0 from the single-entry cache to force a disk read
	if err := store.Save(1, sampleState(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, err := store.Load(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !loaded.Equal(sampleState(2)) {
		t.Fatal("expected the latest save to win")
	}
	if _, err := os.Stat(filepath.Join(store.dir, "params0.json")); err != nil {
		t.Fatalf("expected slot file params0.json: %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = store.Load(5)
	if !errors.Is(err, ErrMissingState) {
		t.Fatalf("expected ErrMissingState, got %v", err)
	}
	var missing *MissingStateError
	if !errors.As(err, &missing) || missing.ID != 5 || missing.Path != store.Path(5) {
		t.Fatalf("expected MissingStateError naming slot 5, got %v", err)
	}
}
