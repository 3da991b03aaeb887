package prefs

import (
	"context"
	"errors"
	"testing"

	"github.com/FL-Penly/mobile-terminal/internal/db"
	"github.com/FL-Penly/mobile-terminal/internal/repository"
)

func openStore(t *testing.T) (*Store, *repository.PreferenceRepository) {
	t.Helper()
	testDB, err := db.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	repo := repository.NewPreferenceRepository(testDB)
	s, err := Open(context.Background(), repo)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s, repo
}

func TestStore_Defaults(t *testing.T) {
	s, _ := openStore(t)

	got := s.Get()
	if got.LastSession != "" || got.PredictiveEcho || got.DisplayScale != 1.0 {
		t.Errorf("unexpected defaults %+v", got)
	}
}

func TestStore_WritesReachDatabase(t *testing.T) {
	s, repo := openStore(t)
	ctx := context.Background()

	s.SetLastSession("main")
	s.SetPredictiveEcho(true)
	if err := s.SetDisplayScale(1.25); err != nil {
		t.Fatalf("SetDisplayScale: %v", err)
	}
	if s.DisplayScale() != 1.25 {
		t.Error("display scale not updated synchronously")
	}
	if s.LastSession() != "main" {
		t.Error("in-memory value not updated synchronously")
	}
	s.Flush()

	for key, want := range map[string]string{
		KeyLastSession:    "main",
		KeyPredictiveEcho: "true",
		KeyDisplayScale:   "1.25",
	} {
		got, err := repo.Get(ctx, key)
		if err != nil || got != want {
			t.Errorf("%s = %q, %v; want %q", key, got, err, want)
		}
	}

	s.ClearLastSession()
	s.Flush()
	if _, err := repo.Get(ctx, KeyLastSession); !errors.Is(err, repository.ErrPreferenceNotFound) {
		t.Errorf("expected cleared key to be deleted, got %v", err)
	}
}

func TestStore_LoadsStoredValues(t *testing.T) {
	testDB, err := db.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	defer testDB.Close()

	repo := repository.NewPreferenceRepository(testDB)
	ctx := context.Background()
	repo.Set(ctx, KeyLastSession, "work")
	repo.Set(ctx, KeyPredictiveEcho, "true")
	repo.Set(ctx, KeyDisplayScale, "garbage")

	s, err := Open(ctx, repo)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	got := s.Get()
	if got.LastSession != "work" || !got.PredictiveEcho {
		t.Errorf("stored values not loaded: %+v", got)
	}
	if got.DisplayScale != 1.0 {
		t.Errorf("malformed scale should fall back to default, got %v", got.DisplayScale)
	}
}

func TestStore_RejectsScaleOutOfRange(t *testing.T) {
	s, _ := openStore(t)

	if err := s.SetDisplayScale(10); err == nil {
		t.Error("expected error for scale 10")
	}
	if s.Get().DisplayScale != 1.0 {
		t.Error("rejected scale must not be applied")
	}
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s, _ := openStore(t)

	s.Close()
	s.Close()
	s.SetPredictiveEcho(true)
	s.Flush()
	if !s.Get().PredictiveEcho {
		t.Error("in-memory value should still update after close")
	}
}
