package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ReOpsIL/forge-sub000/internal/api"
	"github.com/ReOpsIL/forge-sub000/internal/model"
)

// fakeServer serves a fixed set of blocks. Executed tasks complete after a few
// block fetches.
type fakeServer struct {
	mu        sync.Mutex
	blocks    []model.Block
	running   map[string]int
	executed  []api.ExecuteRequest
	branches  []string
	completed string
}

func newFakeServer(t *testing.T, blocks ...model.Block) (*fakeServer, string) {
	t.Helper()
	f := &fakeServer{blocks: blocks, running: map[string]int{}, branches: []string{"main", "dev"}, completed: "[COMPLETED]"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/blocks", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		for key, n := range f.running {
			if n > 0 {
				f.running[key] = n - 1
				continue
			}
			f.setStatus(key, f.completed)
			delete(f.running, key)
		}
		_ = json.NewEncoder(w).Encode(f.blocks)
	})
	mux.HandleFunc("PUT /api/blocks", func(w http.ResponseWriter, r *http.Request) {
		var b model.Block
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		i := f.index(b.BlockID)
		if i < 0 {
			http.NotFound(w, r)
			return
		}
		f.blocks[i] = b
	})
	mux.HandleFunc("POST /api/blocks/{id}/task", func(w http.ResponseWriter, r *http.Request) {
		var task model.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		i := f.index(r.PathValue("id"))
		if i < 0 {
			http.NotFound(w, r)
			return
		}
		f.blocks[i].TodoList.Set(task.TaskID, task)
		_ = json.NewEncoder(w).Encode(map[string]string{"task_id": task.TaskID})
	})
	mux.HandleFunc("POST /api/blocks/execute-task", func(w http.ResponseWriter, r *http.Request) {
		var req api.ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.executed = append(f.executed, req)
		key := req.BlockID + "/" + req.TaskID
		f.setStatus(key, "[IN_PROGRESS]")
		f.running[key] = 1
		_ = json.NewEncoder(w).Encode(api.ExecuteResponse{Success: true, Message: "queued"})
	})
	mux.HandleFunc("GET /api/git/branches", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "branches": f.branches})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func (f *fakeServer) index(blockID string) int {
	for i, b := range f.blocks {
		if b.BlockID == blockID {
			return i
		}
	}
	return -1
}

func (f *fakeServer) setStatus(key, status string) {
	blockID, taskID, _ := strings.Cut(key, "/")
	i := f.index(blockID)
	if i < 0 {
		return
	}
	if t, ok := f.blocks[i].TodoList.Get(taskID); ok {
		t.Status = status
		f.blocks[i].TodoList.Set(taskID, t)
	}
}

func (f *fakeServer) task(blockID, taskID string) model.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, _ := f.blocks[f.index(blockID)].TodoList.Get(taskID)
	return t
}

// useServer points the CLI at url through a config file in a fresh config dir
// with fast polling.
func useServer(t *testing.T, url string) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FORGE_CONFIG_DIR", dir)
	t.Setenv("FORGE_CONFIG", "")
	t.Setenv("FORGE_SERVER", "")
	t.Setenv("FORGE_FORMAT", "")
	cfg := "server: " + url + "\npollInterval: 20ms\npollTimeout: 5s\nrequestTimeout: 5s\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}
