package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ReOpsIL/forge-sub000/internal/model"
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsNotFound reports whether err is an HTTPError with status 404.
func IsNotFound(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}

type ExecuteRequest struct {
	BlockID             string `json:"block_id"`
	TaskID              string `json:"task_id"`
	TaskDescription     string `json:"task_description"`
	ResolveDependencies bool   `json:"resolve_dependencies"`
	ForceCompleted      bool   `json:"force_completed"`
}

type ExecuteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type SpecResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Blocks  []model.Block `json:"blocks"`
}

type JiraProject struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type JiraSyncMode string

const (
	JiraImport        JiraSyncMode = "import"
	JiraExport        JiraSyncMode = "export"
	JiraBidirectional JiraSyncMode = "bidirectional"
)

type JiraSyncRequest struct {
	JiraProject              string       `json:"jira_project"`
	SyncMode                 JiraSyncMode `json:"sync_mode"`
	CreateBlocksFromProjects *bool        `json:"create_blocks_from_projects,omitempty"`
	CreateTasksFromIssues    *bool        `json:"create_tasks_from_issues,omitempty"`
	IncludeEpics             *bool        `json:"include_epics,omitempty"`
	IncludeStories           *bool        `json:"include_stories,omitempty"`
	IncludeTasks             *bool        `json:"include_tasks,omitempty"`
	IncludeBugs              *bool        `json:"include_bugs,omitempty"`
	// StatusFilter is one of all|open|closed.
	StatusFilter string `json:"status_filter,omitempty"`
	// AssigneeFilter is one of all|me|unassigned.
	AssigneeFilter string `json:"assignee_filter,omitempty"`
}

func (r JiraSyncRequest) Validate() error {
	if strings.TrimSpace(r.JiraProject) == "" {
		return errors.New("jira sync: missing project")
	}
	switch r.SyncMode {
	case JiraImport, JiraExport, JiraBidirectional:
	default:
		return fmt.Errorf("jira sync: invalid mode %q (want import|export|bidirectional)", r.SyncMode)
	}
	return nil
}

type JiraSyncResponse struct {
	Success       bool     `json:"success"`
	Message       string   `json:"message"`
	BlocksCreated uint32   `json:"blocks_created"`
	TasksCreated  uint32   `json:"tasks_created"`
	TasksUpdated  uint32   `json:"tasks_updated"`
	IssuesCreated uint32   `json:"issues_created"`
	IssuesUpdated uint32   `json:"issues_updated"`
	Errors        []string `json:"errors"`
}
