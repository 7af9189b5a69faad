package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedBlock is returned when a block fetched from the server cannot be
// used as a keyed task collection.
var ErrMalformedBlock = errors.New("malformed block")

type BlockConnection struct {
	Name        string `json:"name"`
	CType       string `json:"ctype"`
	Description string `json:"description"`
}

type InputConnection struct {
	FromModule string `json:"from_module"`
	OutputType string `json:"output_type"`
	InputID    string `json:"input_id"`
}

type OutputConnection struct {
	ToModule  string `json:"to_module"`
	InputType string `json:"input_type"`
	OutputID  string `json:"output_id"`
}

type Connections struct {
	InputConnections  []InputConnection  `json:"input_connections"`
	OutputConnections []OutputConnection `json:"output_connections"`
}

// Block is a named unit of work. TodoList order is the server's wire order, which
// is not stable across fetches; display order is derived in internal/order.
type Block struct {
	Name        string            `json:"name"`
	BlockID     string            `json:"block_id"`
	Description string            `json:"description"`
	Inputs      []BlockConnection `json:"inputs"`
	Outputs     []BlockConnection `json:"outputs"`
	Connections Connections       `json:"connections"`
	TodoList    TodoList          `json:"todo_list"`
}

type Task struct {
	TaskID              string   `json:"task_id"`
	TaskName            string   `json:"task_name"`
	Description         string   `json:"description"`
	AcceptanceCriteria  []string `json:"acceptance_criteria"`
	Dependencies        []string `json:"dependencies"`
	EstimatedEffort     string   `json:"estimated_effort"`
	FilesAffected       []string `json:"files_affected"`
	FunctionSignatures  []string `json:"function_signatures"`
	TestingRequirements []string `json:"testing_requirements"`
	Log                 string   `json:"log"`
	CommitID            string   `json:"commit_id"`
	Status              string   `json:"status"`
}

// State translates the server's free-form status text into a Status.
func (t Task) State() Status { return ParseStatus(t.Status) }

// DisplayName returns the task name, falling back to the first line of the description.
func (t Task) DisplayName() string {
	if n := strings.TrimSpace(t.TaskName); n != "" {
		return n
	}
	d := strings.TrimSpace(t.Description)
	if i := strings.IndexByte(d, '\n'); i >= 0 {
		d = strings.TrimSpace(d[:i])
	}
	if d == "" {
		return "(untitled task)"
	}
	return d
}

// Validate checks the invariants the client relies on: a non-empty block id and
// a todo_list whose keys are non-empty and agree with the embedded task ids.
func (b Block) Validate() error {
	if strings.TrimSpace(b.BlockID) == "" {
		return fmt.Errorf("%w: missing block_id (name %q)", ErrMalformedBlock, b.Name)
	}
	for _, k := range b.TodoList.keys {
		t := b.TodoList.tasks[k]
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: block %s has a task with an empty key", ErrMalformedBlock, b.BlockID)
		}
		if t.TaskID != "" && t.TaskID != k {
			return fmt.Errorf("%w: block %s task key %q does not match task_id %q", ErrMalformedBlock, b.BlockID, k, t.TaskID)
		}
	}
	return nil
}

// Clone returns a copy whose TodoList can be mutated without touching b.
func (b Block) Clone() Block {
	out := b
	out.TodoList = b.TodoList.Clone()
	return out
}

// TaskDependency is one row of the server's block dependency report.
type TaskDependency struct {
	TaskID       string   `json:"task_id"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
}
