package taskmd

import (
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/ReOpsIL/forge-sub000/internal/model"
)

func fixture() (model.Block, []model.Task) {
	b := model.Block{BlockID: "b1", Name: "Core Engine", Description: "Parses configs and runs jobs."}
	tasks := []model.Task{
		{
			TaskID:              "t9",
			TaskName:            "Parse config",
			Description:         "Read the YAML config file.\nReject unknown keys.",
			Status:              "[COMPLETED]",
			EstimatedEffort:     "2h",
			CommitID:            "abc123",
			AcceptanceCriteria:  []string{"Unknown keys are rejected", "Defaults applied"},
			FilesAffected:       []string{"internal/config/config.go"},
			TestingRequirements: []string{"Table tests for each key"},
		},
		{
			TaskID:             "t1",
			TaskName:           "Run jobs",
			Description:        "Execute queued jobs in order.",
			Dependencies:       []string{"t9"},
			FunctionSignatures: []string{"func Run(ctx context.Context) error"},
		},
	}
	return b, tasks
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
}

func TestExport_Golden(t *testing.T) {
	b, tasks := fixture()
	golden(t).Assert(t, "export_core", Export(b, tasks))
}

func TestPrompt_Golden(t *testing.T) {
	_, tasks := fixture()
	golden(t).Assert(t, "prompt_parse_config", []byte(Prompt(tasks[0])))
}

func TestImport_RoundTrip(t *testing.T) {
	t.Parallel()

	b, tasks := fixture()
	doc, err := Import(Export(b, tasks))
	require.NoError(t, err)
	require.Equal(t, "Core Engine", doc.Title)
	require.Equal(t, "Parses configs and runs jobs.", doc.Description)
	require.Equal(t, tasks, doc.Tasks)
}

func TestImport_HandWritten(t *testing.T) {
	t.Parallel()

	src := []byte(`# Storage

Persistence layer.

## Add cache

Cache hot rows.

- keep it small

### Acceptance Criteria

1. Hits are served from memory
2. Misses fall through

### Notes

Nothing yet.

## Evict

- Status: pending
`)
	doc, err := Import(src)
	require.NoError(t, err)
	require.Len(t, doc.Tasks, 2)

	add := doc.Tasks[0]
	require.Equal(t, "Add cache", add.TaskName)
	require.Empty(t, add.TaskID)
	require.Equal(t, "Cache hot rows.\n\n- keep it small\n\n### Notes\n\nNothing yet.", add.Description)
	require.Equal(t, []string{"Hits are served from memory", "Misses fall through"}, add.AcceptanceCriteria)

	evict := doc.Tasks[1]
	require.Equal(t, "Evict", evict.TaskName)
	require.Equal(t, "pending", evict.Status)
	require.Empty(t, evict.Description)
}

func TestImport_NoTasks(t *testing.T) {
	t.Parallel()

	_, err := Import([]byte("# Only a title\n\nSome prose.\n"))
	if !errors.Is(err, ErrNoTasks) {
		t.Fatalf("expected ErrNoTasks, got %v", err)
	}
}
