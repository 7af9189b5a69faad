package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ReOpsIL/forge-sub000/internal/model"
)

func TestSnapshot_SaveLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, _, err := s.Load(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}

	b1 := model.Block{BlockID: "b1", Name: "Core", TodoList: model.NewTodoList(
		model.Task{TaskID: "z", Description: "z first"},
		model.Task{TaskID: "a", Status: "[COMPLETED]"},
	)}
	b2 := model.Block{BlockID: "b2", Name: "UI"}
	at := time.UnixMilli(1_700_000_000_000)

	if err := s.Save(ctx, []model.Block{b2, b1}, at); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, when, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !when.Equal(at) {
		t.Fatalf("fetched at: got %v want %v", when, at)
	}
	if len(got) != 2 || got[0].BlockID != "b2" || got[1].BlockID != "b1" {
		t.Fatalf("unexpected blocks: %#v", got)
	}
	if keys := got[1].TodoList.Keys(); len(keys) != 2 || keys[0] != "z" || keys[1] != "a" {
		t.Fatalf("todo_list order not kept: %v", keys)
	}

	// Saving again replaces, not appends.
	if err := s.Save(ctx, []model.Block{b1}, at.Add(time.Minute)); err != nil {
		t.Fatalf("Save (2): %v", err)
	}
	got, _, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load (2): %v", err)
	}
	if len(got) != 1 || got[0].BlockID != "b1" {
		t.Fatalf("unexpected blocks after replace: %#v", got)
	}
}

func TestSnapshot_SaveEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, err := Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Save(ctx, nil, time.Now()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no blocks, got %d", len(got))
	}
}
