package dashboard

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ReOpsIL/forge-sub000/internal/model"
	"github.com/ReOpsIL/forge-sub000/internal/poll"
	"github.com/ReOpsIL/forge-sub000/internal/snapshot"
)

var fastPoll = poll.Config{Interval: 5 * time.Millisecond, Timeout: 5 * time.Second}

func task(id string) model.Task {
	return model.Task{TaskID: id, TaskName: "task " + id, Description: "do " + id}
}

func coreBlock(ids ...string) model.Block {
	ts := make([]model.Task, len(ids))
	for i, id := range ids {
		ts[i] = task(id)
	}
	return model.Block{BlockID: "b1", Name: "Core", TodoList: model.NewTodoList(ts...)}
}

func taskIDs(t *testing.T, s *Session, blockID string) []string {
	t.Helper()
	ts, err := s.Tasks(blockID)
	require.NoError(t, err)
	out := make([]string, len(ts))
	for i, tk := range ts {
		out[i] = tk.TaskID
	}
	return out
}

func TestSession_StableOrderAcrossRefresh(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a", "b", "c"))
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx))
	require.Equal(t, []string{"a", "b", "c"}, taskIDs(t, s, "b1"))

	// b removed, d added, survivors reshuffled by the server.
	f.setTodo("b1", task("c"), task("d"), task("a"))
	require.NoError(t, s.Refresh(ctx))
	require.Equal(t, []string{"a", "c", "d"}, taskIDs(t, s, "b1"))

	// b comes back: it is new again and goes last.
	f.setTodo("b1", task("b"), task("c"), task("d"), task("a"))
	require.NoError(t, s.Refresh(ctx))
	require.Equal(t, []string{"a", "c", "d", "b"}, taskIDs(t, s, "b1"))

	require.NoError(t, s.RefreshAll(ctx))
	require.Equal(t, []string{"b", "c", "d", "a"}, taskIDs(t, s, "b1"))
}

func TestSession_MalformedResponseKeepsState(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a", "b"))
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Refresh(ctx))

	f.setRaw(`[{"block_id":"b1","name":"Core","todo_list":{"a":{"task_id":"a"},"a":{"task_id":"a"}}}]`)
	require.Error(t, s.Refresh(ctx))
	require.Equal(t, []string{"a", "b"}, taskIDs(t, s, "b1"))

	f.setRaw(`[{"block_id":"b1","name":"Core","todo_list":[]}]`)
	require.Error(t, s.Refresh(ctx))
	require.Equal(t, []string{"a", "b"}, taskIDs(t, s, "b1"))
}

func TestSession_ExecuteWatchesUntilCompleted(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a", "b"))
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	stopped := make(chan Event, 1)
	s.OnChange(func(ev Event) {
		if ev.Kind == EventTaskStopped {
			stopped <- ev
		}
	})

	require.NoError(t, s.Execute(ctx, "b1", "a", ExecOptions{ResolveDependencies: true}))
	require.True(t, s.UI("b1", "a").Running)
	require.ErrorIs(t, s.Execute(ctx, "b1", "a", ExecOptions{}), ErrAlreadyRunning)

	select {
	case ev := <-stopped:
		require.Equal(t, "a", ev.TaskID)
		require.Equal(t, poll.StopCompleted, ev.Result.Reason)
	case <-time.After(3 * time.Second):
		t.Fatal("task watch did not finish")
	}

	st := s.UI("b1", "a")
	require.False(t, st.Running)
	require.Equal(t, "completed", st.LastStop)

	got, err := s.Task("b1", "a")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, got.State())
	require.Equal(t, []string{"a", "b"}, taskIDs(t, s, "b1"))

	f.mu.Lock()
	require.Len(t, f.executed, 1)
	require.True(t, f.executed[0].ResolveDependencies)
	require.Equal(t, "do a", f.executed[0].TaskDescription)
	f.mu.Unlock()
}

func TestSession_StopClearsRunning(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a"))
	f.completeAfter = 1 << 30
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	require.NoError(t, s.Execute(ctx, "b1", "a", ExecOptions{}))
	require.Equal(t, 1, s.Running())

	require.True(t, s.Stop("b1", "a"))
	st := s.UI("b1", "a")
	require.False(t, st.Running)
	require.Equal(t, "cancelled", st.LastStop)
	require.Eventually(t, func() bool { return s.Running() == 0 }, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, s.Execute(ctx, "b1", "missing", ExecOptions{}), ErrUnknownTask)
}

func TestSession_RestartIgnoresStaleStopCallback(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a"))
	f.completeAfter = 1 << 30
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	key := poll.Key{BlockID: "b1", TaskID: "a"}
	require.NoError(t, s.Execute(ctx, "b1", "a", ExecOptions{}))
	first, ok := s.pollers.Current(key)
	require.True(t, ok)

	require.True(t, s.Stop("b1", "a"))
	require.NoError(t, s.Execute(ctx, "b1", "a", ExecOptions{}))

	// The first run's callback arriving now must leave the second run alone.
	s.onStop(key, poll.Result{Reason: poll.StopCancelled, Run: first})
	require.True(t, s.UI("b1", "a").Running)
	require.Equal(t, 1, s.Running())
	require.ErrorIs(t, s.Execute(ctx, "b1", "a", ExecOptions{}), ErrAlreadyRunning)
}

func TestSession_ServerErrorEndsWatch(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a"))
	f.completeAfter = 1 << 30
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	stopped := make(chan Event, 1)
	s.OnChange(func(ev Event) {
		if ev.Kind == EventTaskStopped {
			stopped <- ev
		}
	})
	require.NoError(t, s.Execute(ctx, "b1", "a", ExecOptions{}))
	f.setFailList(true)

	select {
	case ev := <-stopped:
		require.Equal(t, poll.StopError, ev.Result.Reason)
		require.Error(t, ev.Result.Err)
	case <-time.After(3 * time.Second):
		t.Fatal("task watch did not end")
	}
	st := s.UI("b1", "a")
	require.False(t, st.Running)
	require.True(t, strings.HasPrefix(st.LastStop, "error"), st.LastStop)
	require.Equal(t, 0, s.Running())
}

func TestSession_TaskRemovedServerSideEndsWatch(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a", "b"))
	f.completeAfter = 1 << 30
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	stopped := make(chan Event, 1)
	s.OnChange(func(ev Event) {
		if ev.Kind == EventTaskStopped {
			select {
			case stopped <- ev:
			default:
			}
		}
	})
	require.NoError(t, s.Execute(ctx, "b1", "a", ExecOptions{}))

	f.setTodo("b1", task("b"))
	require.NoError(t, s.Refresh(ctx))

	select {
	case ev := <-stopped:
		require.Equal(t, "a", ev.TaskID)
		require.ErrorIs(t, ev.Result.Err, ErrUnknownTask)
	case <-time.After(3 * time.Second):
		t.Fatal("task watch did not end")
	}
	require.Eventually(t, func() bool { return s.Running() == 0 && !s.pollers.Running(poll.Key{BlockID: "b1", TaskID: "a"}) },
		time.Second, 5*time.Millisecond)
	require.Equal(t, TaskUIState{}, s.UI("b1", "a"))
	require.Equal(t, []string{"b"}, taskIDs(t, s, "b1"))
}

func TestSession_WriteIsNotHiddenByOlderFetch(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a"))
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	hold := f.holdNextList()
	released := false
	defer func() {
		if !released {
			close(hold)
		}
	}()
	older := make(chan error, 1)
	go func() { older <- s.Refresh(ctx) }()
	require.Eventually(t, func() bool { return f.listCount() == 2 }, time.Second, 5*time.Millisecond)

	added := make(chan string, 1)
	go func() {
		id, err := s.AddTask(ctx, "b1", model.Task{TaskName: "new"})
		assert.NoError(t, err)
		added <- id
	}()
	var id string
	select {
	case id = <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh after a write waited on an older fetch")
	}
	require.Equal(t, []string{"a", id}, taskIDs(t, s, "b1"))

	close(hold)
	released = true
	require.NoError(t, <-older)
	require.Equal(t, []string{"a", id}, taskIDs(t, s, "b1"), "older fetch must not roll back the write")
}

func TestSession_TaskMutations(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a", "b"))
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	id, err := s.AddTask(ctx, "b1", model.Task{TaskName: "new", Description: "fresh"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, []string{"a", "b", id}, taskIDs(t, s, "b1"))

	upd := task("a")
	upd.TaskName = "renamed"
	require.NoError(t, s.UpdateTask(ctx, "b1", upd))
	got, err := s.Task("b1", "a")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.TaskName)
	require.Equal(t, []string{"a", "b", id}, taskIDs(t, s, "b1"), "attribute change keeps position")

	require.ErrorIs(t, s.UpdateTask(ctx, "b1", task("zz")), ErrUnknownTask)

	require.NoError(t, s.DeleteTask(ctx, "b1", "b"))
	require.Equal(t, []string{"a", id}, taskIDs(t, s, "b1"))
	require.ErrorIs(t, s.DeleteTask(ctx, "b1", "b"), ErrUnknownTask)

	_, err = s.AddTask(ctx, "nope", task("x"))
	require.ErrorIs(t, err, ErrUnknownBlock)
}

func TestSession_BlockLifecycle(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a"))
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	created, err := s.CreateBlock(ctx, model.Block{Name: "UI"})
	require.NoError(t, err)
	require.Equal(t, "gen1", created.BlockID)

	blocks := s.Blocks()
	require.Len(t, blocks, 2)
	require.Equal(t, "b1", blocks[0].BlockID)
	require.Equal(t, "gen1", blocks[1].BlockID)

	require.True(t, s.ToggleExpanded("b1", "a"))
	require.NoError(t, s.DeleteBlock(ctx, "b1"))
	require.Len(t, s.Blocks(), 1)
	require.Equal(t, TaskUIState{}, s.UI("b1", "a"))
	_, err = s.Tasks("b1")
	require.ErrorIs(t, err, ErrUnknownBlock)
}

func TestSession_MarkdownImportExport(t *testing.T) {
	t.Parallel()

	f, srv := newFakeServer(t, coreBlock("a", "b"))
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	md, err := s.ExportMarkdown("b1")
	require.NoError(t, err)
	require.Contains(t, string(md), "## task a")

	src := []byte("# Core\n\n## task a\n\n- ID: `a`\n\nrewritten\n\n## Brand new\n\nfrom markdown\n")
	res, err := s.ImportMarkdown(ctx, "b1", src, false)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, res.Updated)
	require.Len(t, res.Added, 1)

	got, err := s.Task("b1", "a")
	require.NoError(t, err)
	require.Equal(t, "rewritten", got.Description)
	require.Equal(t, []string{"a", "b", res.Added[0]}, taskIDs(t, s, "b1"))
}

func TestSession_OfflineServesSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	f, srv := newFakeServer(t, coreBlock("z", "a"))
	snap, err := snapshot.Open(ctx, dir)
	require.NoError(t, err)
	online := New(Options{Client: f.client(srv), Snapshot: snap, Poll: fastPoll})
	require.NoError(t, online.Refresh(ctx))
	online.Close()

	offline := New(Options{Snapshot: snap, Offline: true})
	defer offline.Close()
	require.NoError(t, offline.Refresh(ctx))
	require.Equal(t, []string{"z", "a"}, taskIDs(t, offline, "b1"))

	_, err = offline.AddTask(ctx, "b1", task("x"))
	require.ErrorIs(t, err, ErrOffline)
	require.NoError(t, snap.Close())
}

func TestSession_SnapshotKeepsDisplayOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f, srv := newFakeServer(t, coreBlock("a", "b", "c"))
	snap, err := snapshot.Open(ctx, t.TempDir())
	require.NoError(t, err)
	defer snap.Close()

	online := New(Options{Client: f.client(srv), Snapshot: snap, Poll: fastPoll})
	require.NoError(t, online.Refresh(ctx))
	f.setTodo("b1", task("c"), task("b"), task("a"))
	require.NoError(t, online.Refresh(ctx))
	require.Equal(t, []string{"a", "b", "c"}, taskIDs(t, online, "b1"))
	online.Close()

	seeded := New(Options{Snapshot: snap, Offline: true})
	defer seeded.Close()
	require.NoError(t, seeded.Seed(ctx))
	require.Equal(t, []string{"a", "b", "c"}, taskIDs(t, seeded, "b1"))
}

func TestSession_CloseStopsWatchesSilently(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	f, srv := newFakeServer(t, coreBlock("a", "b"))
	f.completeAfter = 1 << 30
	s := New(Options{Client: f.client(srv), Poll: fastPoll})
	ctx := context.Background()
	require.NoError(t, s.Refresh(ctx))

	var stops atomic.Int32
	s.OnChange(func(ev Event) {
		if ev.Kind == EventTaskStopped {
			stops.Add(1)
		}
	})
	require.NoError(t, s.Execute(ctx, "b1", "a", ExecOptions{}))
	require.NoError(t, s.Execute(ctx, "b1", "b", ExecOptions{}))

	s.Close()
	require.Equal(t, int32(0), stops.Load())
	require.Equal(t, 0, s.Running())
	require.ErrorIs(t, s.Execute(ctx, "b1", "a", ExecOptions{}), ErrClosed)
	srv.Close()
}
