package format

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ReOpsIL/forge-sub000/internal/model"
)

func TestWrite_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, map[string]int{"a": 1}, "json", false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := buf.String(); got != "{\"a\":1}\n" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestWrite_YAMLKeepsTodoListOrder(t *testing.T) {
	t.Parallel()

	b := model.Block{BlockID: "b1", Name: "Core", TodoList: model.NewTodoList(
		model.Task{TaskID: "z", Status: "123"},
		model.Task{TaskID: "a"},
	)}
	var buf bytes.Buffer
	if err := Write(&buf, b, "yaml", false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "{") {
		t.Fatalf("expected block style, got:\n%s", out)
	}
	zi, ai := strings.Index(out, "\n  z:"), strings.Index(out, "\n  a:")
	if zi < 0 || ai < 0 || zi > ai {
		t.Fatalf("todo_list order lost:\n%s", out)
	}
	// Numeric-looking strings stay strings.
	if !strings.Contains(out, `status: "123"`) {
		t.Fatalf("expected quoted status, got:\n%s", out)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	t.Parallel()

	if err := Write(&bytes.Buffer{}, 1, "edn", false); err == nil {
		t.Fatalf("expected error")
	}
}
