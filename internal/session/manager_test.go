package session

import (
	"context"
	"errors"
	"testing"

	"github.com/lokutor-ai/transcribe-gateway/internal/apperrors"
	"github.com/lokutor-ai/transcribe-gateway/internal/model"
)

type fakePipeline struct {
	stopped bool
}

func (f *fakePipeline) Stop() { f.stopped = true }

func TestValidStreamID(t *testing.T) {
	cases := map[string]bool{
		"abc-XYZ_01": true,
		"abc/def":    false,
		"":           false,
		"abc def":    false,
	}
	for id, want := range cases {
		if got := ValidStreamID(id); got != want {
			t.Errorf("ValidStreamID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestManager_CreateDuplicateRejected(t *testing.T) {
	m := New(10)

	if _, err := m.Create("s1", "http://x", model.StreamOptions{}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := m.Create("s1", "http://x", model.StreamOptions{}); !errors.Is(err, apperrors.ErrAlreadyExists) {
		t.Errorf("second Create: got %v, want ErrAlreadyExists", err)
	}
}

func TestManager_CapacityBoundary(t *testing.T) {
	m := New(2)

	if _, err := m.Create("s1", "http://x", model.StreamOptions{}); err != nil {
		t.Fatalf("Create s1: %v", err)
	}
	if _, err := m.Create("s2", "http://x", model.StreamOptions{}); err != nil {
		t.Fatalf("Create s2: %v", err)
	}
	if _, err := m.Create("s3", "http://x", model.StreamOptions{}); !errors.Is(err, apperrors.ErrAtCapacity) {
		t.Errorf("Create s3 over cap: got %v, want ErrAtCapacity", err)
	}

	m.Remove("s1")
	if _, err := m.Create("s3", "http://x", model.StreamOptions{}); err != nil {
		t.Errorf("Create s3 after freeing a slot: %v", err)
	}
}

func TestManager_InvalidStreamIDRejected(t *testing.T) {
	m := New(10)
	if _, err := m.Create("bad id", "http://x", model.StreamOptions{}); !errors.Is(err, apperrors.ErrInvalidStreamID) {
		t.Errorf("got %v, want ErrInvalidStreamID", err)
	}
}

func TestManager_RemoveIdempotent(t *testing.T) {
	m := New(10)
	m.Create("s1", "http://x", model.StreamOptions{})
	p := &fakePipeline{}
	m.AttachPipeline("s1", p)

	if !m.Remove("s1") {
		t.Fatal("first Remove should report true")
	}
	if m.Remove("s1") {
		t.Error("second Remove should report false (no-op)")
	}
	if !p.stopped {
		t.Error("attached pipeline was not stopped")
	}
	if m.Get("s1") != nil {
		t.Error("session should be gone after Remove")
	}
}

func TestManager_SetStatusMonotonic(t *testing.T) {
	m := New(10)
	m.Create("s1", "http://x", model.StreamOptions{})

	m.SetStatus("s1", model.StatusActive, "")
	m.SetStatus("s1", model.StatusStarting, "") // backward, rejected

	got := m.Get("s1")
	if got.Status != model.StatusActive {
		t.Errorf("status = %v, want %v (backward transition must be rejected)", got.Status, model.StatusActive)
	}
}

func TestManager_ListSorted(t *testing.T) {
	m := New(10)
	m.Create("zebra", "http://x", model.StreamOptions{})
	m.Create("alpha", "http://x", model.StreamOptions{})

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("got %d sessions, want 2", len(list))
	}
	if list[0].UniqueID != "alpha" || list[1].UniqueID != "zebra" {
		t.Errorf("list not sorted by unique_id: %+v", list)
	}
}

func TestManager_Shutdown(t *testing.T) {
	m := New(10)
	m.Create("s1", "http://x", model.StreamOptions{})
	m.Create("s2", "http://x", model.StreamOptions{})
	p1, p2 := &fakePipeline{}, &fakePipeline{}
	m.AttachPipeline("s1", p1)
	m.AttachPipeline("s2", p2)

	m.Shutdown(context.Background())

	if !p1.stopped || !p2.stopped {
		t.Error("Shutdown must stop every attached pipeline")
	}
	if len(m.List()) != 0 {
		t.Errorf("got %d sessions after Shutdown, want 0", len(m.List()))
	}
}
