package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/FL-Penly/mobile-terminal/internal/db"
)

// Property: any value written under any key reads back unchanged, and the last
// write to a key wins.
func TestPreferenceRoundTripProperty(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "prefs_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	testDB, err := db.Open(context.Background(), filepath.Join(tmpDir, "state", "ttydm.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer testDB.Close()

	repo := NewPreferenceRepository(testDB)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	key := gen.AlphaString().SuchThat(func(s string) bool { return len(s) > 0 && len(s) <= 40 })
	value := gen.AnyString().SuchThat(func(s string) bool { return !strings.ContainsRune(s, 0) })

	properties.Property("set then get returns the last value", prop.ForAll(
		func(k, first, second string) bool {
			if err := repo.Set(ctx, k, first); err != nil {
				t.Logf("set failed: %v", err)
				return false
			}
			if err := repo.Set(ctx, k, second); err != nil {
				t.Logf("overwrite failed: %v", err)
				return false
			}
			got, err := repo.Get(ctx, k)
			if err != nil || got != second {
				t.Logf("got %q, %v; want %q", got, err, second)
				return false
			}
			all, err := repo.All(ctx)
			if err != nil || all[k] != second {
				return false
			}
			if err := repo.Delete(ctx, k); err != nil {
				return false
			}
			_, err = repo.Get(ctx, k)
			return errors.Is(err, ErrPreferenceNotFound)
		},
		key,
		value,
		value,
	))

	properties.TestingRun(t)
}

func TestPreferenceRepository_MissingKey(t *testing.T) {
	testDB, err := db.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	defer testDB.Close()

	repo := NewPreferenceRepository(testDB)
	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrPreferenceNotFound) {
		t.Errorf("expected ErrPreferenceNotFound, got %v", err)
	}
	if err := repo.Delete(context.Background(), "nope"); err != nil {
		t.Errorf("deleting a missing key failed: %v", err)
	}
}
