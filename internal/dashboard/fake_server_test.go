package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ReOpsIL/forge-sub000/internal/api"
	"github.com/ReOpsIL/forge-sub000/internal/model"
	"github.com/ReOpsIL/forge-sub000/internal/poll"
)

// fakeServer is an in-memory stand-in for the block server.
type fakeServer struct {
	t *testing.T

	mu        sync.Mutex
	blocks    []model.Block
	raw       string
	remaining map[poll.Key]int
	// completeAfter is how many block fetches a running task survives.
	completeAfter int
	nextID        int
	executed      []api.ExecuteRequest
	// failList makes block fetches answer 500.
	failList bool
	// hold, when set, delays the next block fetch until it is closed. The
	// response is the state from when the fetch arrived.
	hold  chan struct{}
	lists int
}

func newFakeServer(t *testing.T, blocks ...model.Block) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{t: t, blocks: blocks, remaining: map[poll.Key]int{}, completeAfter: 2}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/blocks", f.list)
	mux.HandleFunc("POST /api/blocks", f.create)
	mux.HandleFunc("PUT /api/blocks", f.update)
	mux.HandleFunc("DELETE /api/blocks/{id}", f.deleteBlock)
	mux.HandleFunc("POST /api/blocks/{id}/task", f.addTask)
	mux.HandleFunc("DELETE /api/blocks/{id}/delete/{task}", f.deleteTask)
	mux.HandleFunc("POST /api/blocks/execute-task", f.execute)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) client(srv *httptest.Server) *api.Client {
	return api.New(srv.URL, api.WithHTTPClient(&http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}))
}

func (f *fakeServer) setTodo(blockID string, tasks ...model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(blockID)
	f.blocks[i].TodoList = model.NewTodoList(tasks...)
}

func (f *fakeServer) setRaw(s string) {
	f.mu.Lock()
	f.raw = s
	f.mu.Unlock()
}

func (f *fakeServer) index(blockID string) int {
	for i, b := range f.blocks {
		if b.BlockID == blockID {
			return i
		}
	}
	return -1
}

func (f *fakeServer) setFailList(fail bool) {
	f.mu.Lock()
	f.failList = fail
	f.mu.Unlock()
}

// holdNextList delays the next block fetch until the returned channel is
// closed.
func (f *fakeServer) holdNextList() chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeServer) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeServer) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.lists++
	hold := f.hold
	f.hold = nil
	if f.failList {
		f.mu.Unlock()
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	body, err := f.listBody()
	f.mu.Unlock()
	if hold != nil {
		<-hold
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}

func (f *fakeServer) listBody() ([]byte, error) {
	if f.raw != "" {
		return []byte(f.raw), nil
	}
	for k, n := range f.remaining {
		if n > 0 {
			f.remaining[k] = n - 1
			continue
		}
		i := f.index(k.BlockID)
		if i < 0 {
			continue
		}
		if t, ok := f.blocks[i].TodoList.Get(k.TaskID); ok {
			t.Status = "[COMPLETED]"
			f.blocks[i].TodoList.Set(k.TaskID, t)
		}
		delete(f.remaining, k)
	}
	return json.Marshal(f.blocks)
}

func (f *fakeServer) create(w http.ResponseWriter, r *http.Request) {
	var b model.Block
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.BlockID == "" {
		f.nextID++
		b.BlockID = fmt.Sprintf("gen%d", f.nextID)
	}
	f.blocks = append(f.blocks, b)
}

func (f *fakeServer) update(w http.ResponseWriter, r *http.Request) {
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
}

func (f *fakeServer) deleteBlock(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(r.PathValue("id"))
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
}

func (f *fakeServer) addTask(w http.ResponseWriter, r *http.Request) {
	var t model.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(r.PathValue("id"))
	if i < 0 || t.TaskID == "" {
		http.Error(w, "bad task", http.StatusBadRequest)
		return
	}
	f.blocks[i].TodoList.Set(t.TaskID, t)
	_ = json.NewEncoder(w).Encode(map[string]string{"task_id": t.TaskID})
}

func (f *fakeServer) deleteTask(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.index(r.PathValue("id"))
	if i < 0 {
		http.NotFound(w, r)
		return
	}
	f.blocks[i].TodoList.Delete(r.PathValue("task"))
}

func (f *fakeServer) execute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req)
	i := f.index(req.BlockID)
	t, ok := model.Task{}, false
	if i >= 0 {
		t, ok = f.blocks[i].TodoList.Get(req.TaskID)
	}
	if !ok {
		_ = json.NewEncoder(w).Encode(api.ExecuteResponse{Success: false, Message: "task not found"})
		return
	}
	t.Status = "[IN_PROGRESS]"
	f.blocks[i].TodoList.Set(req.TaskID, t)
	f.remaining[poll.Key{BlockID: req.BlockID, TaskID: req.TaskID}] = f.completeAfter
	_ = json.NewEncoder(w).Encode(api.ExecuteResponse{Success: true, Message: "queued"})
}
