package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ReOpsIL/forge-sub000/internal/api"
	"github.com/ReOpsIL/forge-sub000/internal/model"
	"github.com/ReOpsIL/forge-sub000/internal/order"
	"github.com/ReOpsIL/forge-sub000/internal/poll"
	"github.com/ReOpsIL/forge-sub000/internal/snapshot"
	"github.com/ReOpsIL/forge-sub000/internal/taskmd"
)

var (
	ErrUnknownBlock   = errors.New("unknown block")
	ErrUnknownTask    = errors.New("unknown task")
	ErrAlreadyRunning = errors.New("task is already running")
	ErrOffline        = errors.New("offline: server mutations are disabled")
	ErrClosed         = errors.New("session closed")
)

// blocksParent is the single parent under which the block list itself is ordered.
const blocksParent = "blocks"

// TaskUIState is the local, never persisted state of one task row.
type TaskUIState struct {
	Expanded bool
	Running  bool
	// LastStop describes how the most recent execution watch ended.
	LastStop string
}

type EventKind int

const (
	EventRefreshed EventKind = iota
	EventTaskStarted
	EventTaskStopped
)

// Event is delivered to OnChange listeners. Listeners run on the goroutine
// that caused the change and must not block.
type Event struct {
	Kind    EventKind
	BlockID string
	TaskID  string
	Result  poll.Result
}

type Options struct {
	Client   *api.Client
	Snapshot *snapshot.Store
	Poll     poll.Config
	Logger   *zap.Logger
	// Offline serves the last snapshot and rejects mutations.
	Offline bool
}

// ExecOptions are forwarded to the server's execute endpoint.
type ExecOptions struct {
	ResolveDependencies bool
	ForceCompleted      bool
}

// Session is the dashboard's view of the server: blocks and their tasks in a
// stable display order, per-task UI state, and the pollers watching running
// tasks.
type Session struct {
	client  *api.Client
	snap    *snapshot.Store
	log     *zap.Logger
	offline bool

	ctx    context.Context
	cancel context.CancelFunc

	blockView *order.View[model.Block]
	taskView  *order.View[model.Task]
	ui        *order.Selection[TaskUIState]
	pollers   *poll.Group

	applyMu sync.Mutex
	// fetchSeq numbers fetches as they start; applied is the newest one
	// applied. An older fetch finishing late is dropped.
	fetchSeq atomic.Uint64
	applied  uint64

	// runMu orders run bookkeeping against stop callbacks: a callback from a
	// run that is no longer current changes nothing.
	runMu sync.Mutex
	runs  map[poll.Key]poll.RunID

	mu        sync.RWMutex
	blocks    []model.Block
	tasks     map[string][]model.Task
	fetchedAt time.Time

	lmu       sync.Mutex
	listeners []func(Event)
}

func New(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		client:    opts.Client,
		snap:      opts.Snapshot,
		log:       log,
		offline:   opts.Offline || opts.Client == nil,
		ctx:       ctx,
		cancel:    cancel,
		blockView: order.NewView[model.Block](order.WithLogger[model.Block](log.Named("blocks"))),
		taskView:  order.NewView[model.Task](order.WithLogger[model.Task](log.Named("tasks"))),
		ui:        order.NewSelection[TaskUIState](),
		pollers:   poll.NewGroup(opts.Poll, log.Named("poll")),
		tasks:     map[string][]model.Task{},
		runs:      map[poll.Key]poll.RunID{},
	}
}

// OnChange registers fn for every subsequent Event.
func (s *Session) OnChange(fn func(Event)) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, fn)
	s.lmu.Unlock()
}

func (s *Session) emit(ev Event) {
	s.lmu.Lock()
	ls := append([]func(Event){}, s.listeners...)
	s.lmu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}

func (s *Session) Offline() bool { return s.offline }

// Refresh fetches the collection and reconciles it into the current order.
// On error the previous state is kept.
func (s *Session) Refresh(ctx context.Context) error {
	if s.offline {
		return s.loadSnapshot(ctx)
	}
	seq := s.fetchSeq.Add(1)
	blocks, err := s.client.ListBlocks(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	fresh, err := s.apply(blocks, now, seq)
	if err != nil || !fresh {
		return err
	}
	if s.snap != nil {
		if err := s.snap.Save(ctx, s.displayBlocks(), now); err != nil {
			s.log.Warn("saving snapshot", zap.Error(err))
		}
	}
	return nil
}

// displayBlocks returns the blocks with their todo_lists rebuilt in display
// order, so a snapshot replays the order the user saw.
func (s *Session) displayBlocks() []model.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Block, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = b.Clone()
		out[i].TodoList = model.NewTodoList(s.tasks[b.BlockID]...)
	}
	return out
}

// RefreshAll forgets the accumulated order and adopts the server's order from
// a fresh fetch. Rows may move.
func (s *Session) RefreshAll(ctx context.Context) error {
	s.blockView.RefreshAll()
	s.taskView.RefreshAll()
	return s.Refresh(ctx)
}

// Seed loads the last snapshot, if any, so a view can render before the first
// fetch returns. A missing snapshot is not an error.
func (s *Session) Seed(ctx context.Context) error {
	err := s.loadSnapshot(ctx)
	if errors.Is(err, snapshot.ErrEmpty) {
		return nil
	}
	return err
}

func (s *Session) loadSnapshot(ctx context.Context) error {
	if s.snap == nil {
		return snapshot.ErrEmpty
	}
	blocks, at, err := s.snap.Load(ctx)
	if err != nil {
		return err
	}
	_, err = s.apply(blocks, at, 0)
	return err
}

// apply reconciles blocks into the display order. seq is the fetch number, or
// zero for a snapshot load; it reports false when a newer fetch was already
// applied and blocks were dropped.
func (s *Session) apply(blocks []model.Block, at time.Time, seq uint64) (bool, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if seq != 0 && seq < s.applied {
		s.log.Debug("dropping stale fetch", zap.Uint64("seq", seq), zap.Uint64("applied", s.applied))
		return false, nil
	}

	blockEntries := make([]order.Entry[model.Block], len(blocks))
	for i, b := range blocks {
		blockEntries[i] = order.Entry[model.Block]{Key: b.BlockID, Value: b}
	}
	if err := order.Validate(blockEntries); err != nil {
		return false, err
	}
	for _, b := range blocks {
		if err := b.Validate(); err != nil {
			return false, err
		}
	}

	orderedBlocks, err := s.blockView.Ordered(blocksParent, blockEntries)
	if err != nil {
		return false, err
	}

	ids := order.Keys(orderedBlocks)
	tasks := make(map[string][]model.Task, len(blocks))
	for _, e := range orderedBlocks {
		b := e.Value
		entries := make([]order.Entry[model.Task], 0, b.TodoList.Len())
		for _, k := range b.TodoList.Keys() {
			t, _ := b.TodoList.Get(k)
			entries = append(entries, order.Entry[model.Task]{Key: k, Value: t})
		}
		ordered, err := s.taskView.Ordered(b.BlockID, entries)
		if err != nil {
			return false, fmt.Errorf("block %s: %w", b.BlockID, err)
		}
		tasks[b.BlockID] = order.Values(ordered)

		for _, gone := range s.ui.Sync(b.BlockID, order.Keys(ordered)) {
			s.endWatch(poll.Key{BlockID: b.BlockID, TaskID: gone}, fmt.Errorf("%w: %s/%s", ErrUnknownTask, b.BlockID, gone))
		}
	}

	if seq != 0 {
		s.applied = seq
	}
	s.mu.Lock()
	prev := s.blocks
	s.blocks = order.Values(orderedBlocks)
	s.tasks = tasks
	s.fetchedAt = at
	s.mu.Unlock()

	s.taskView.Retain(ids)
	s.ui.RetainParents(ids)
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	for _, b := range prev {
		if _, ok := present[b.BlockID]; !ok {
			s.endBlockWatches(b.BlockID, fmt.Errorf("%w: %s", ErrUnknownBlock, b.BlockID))
		}
	}

	s.emit(Event{Kind: EventRefreshed})
	return true, nil
}

// Blocks returns the blocks in stable display order.
func (s *Session) Blocks() []model.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Block, len(s.blocks))
	for i, b := range s.blocks {
		out[i] = b.Clone()
	}
	return out
}

func (s *Session) Block(blockID string) (model.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.blocks {
		if b.BlockID == blockID {
			return b.Clone(), nil
		}
	}
	return model.Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, blockID)
}

// Tasks returns the tasks of blockID in stable display order.
func (s *Session) Tasks(blockID string) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.tasks[blockID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, blockID)
	}
	return append([]model.Task(nil), ts...), nil
}

func (s *Session) Task(blockID, taskID string) (model.Task, error) {
	ts, err := s.Tasks(blockID)
	if err != nil {
		return model.Task{}, err
	}
	for _, t := range ts {
		if t.TaskID == taskID {
			return t, nil
		}
	}
	return model.Task{}, fmt.Errorf("%w: %s/%s", ErrUnknownTask, blockID, taskID)
}

func (s *Session) FetchedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchedAt
}

// UI returns the local state of a task row.
func (s *Session) UI(blockID, taskID string) TaskUIState {
	st, _ := s.ui.Get(blockID, taskID)
	return st
}

func (s *Session) ToggleExpanded(blockID, taskID string) bool {
	return s.ui.Update(blockID, taskID, func(st TaskUIState) TaskUIState {
		st.Expanded = !st.Expanded
		return st
	}).Expanded
}

// Execute asks the server to run a task and watches it until it completes,
// fails, errors or times out. The row is marked running meanwhile.
func (s *Session) Execute(ctx context.Context, blockID, taskID string, opts ExecOptions) error {
	if err := s.mutable(); err != nil {
		return err
	}
	t, err := s.Task(blockID, taskID)
	if err != nil {
		return err
	}
	key := poll.Key{BlockID: blockID, TaskID: taskID}
	if s.watching(key) {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyRunning, blockID, taskID)
	}

	if _, err := s.client.ExecuteTask(ctx, api.ExecuteRequest{
		BlockID:             blockID,
		TaskID:              taskID,
		TaskDescription:     t.Description,
		ResolveDependencies: opts.ResolveDependencies,
		ForceCompleted:      opts.ForceCompleted,
	}); err != nil {
		return err
	}

	s.runMu.Lock()
	if _, ok := s.runs[key]; ok {
		s.runMu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrAlreadyRunning, blockID, taskID)
	}
	run := s.pollers.Start(key, s.checkTask(blockID, taskID), s.onStop)
	if run == 0 {
		s.runMu.Unlock()
		return ErrClosed
	}
	s.runs[key] = run
	s.ui.Update(blockID, taskID, func(st TaskUIState) TaskUIState {
		st.Running = true
		st.LastStop = ""
		return st
	})
	s.runMu.Unlock()

	s.log.Info("task started", zap.String("block", blockID), zap.String("task", taskID), zap.Uint64("run", uint64(run)))
	s.emit(Event{Kind: EventTaskStarted, BlockID: blockID, TaskID: taskID})
	return nil
}

func (s *Session) watching(key poll.Key) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	_, ok := s.runs[key]
	return ok
}

func (s *Session) checkTask(blockID, taskID string) poll.Check {
	return func(ctx context.Context) (model.Status, error) {
		b, err := s.client.GetBlock(ctx, blockID)
		if err != nil {
			return "", err
		}
		t, ok := b.TodoList.Get(taskID)
		if !ok {
			return "", fmt.Errorf("%w: %s/%s", ErrUnknownTask, blockID, taskID)
		}
		return t.State(), nil
	}
}

func (s *Session) onStop(key poll.Key, res poll.Result) {
	s.runMu.Lock()
	if s.runs[key] != res.Run {
		// Stopped explicitly, possibly restarted since; whoever stopped it
		// already reported the stop.
		s.runMu.Unlock()
		return
	}
	delete(s.runs, key)
	s.clearRunning(key, stopMessage(res))
	s.runMu.Unlock()

	if res.Err != nil {
		s.log.Warn("task watch ended with error",
			zap.String("block", key.BlockID), zap.String("task", key.TaskID), zap.Error(res.Err))
	}
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	if err := s.Refresh(ctx); err != nil && s.ctx.Err() == nil {
		s.log.Warn("refresh after task stop", zap.Error(err))
	}
	cancel()
	s.emit(Event{Kind: EventTaskStopped, BlockID: key.BlockID, TaskID: key.TaskID, Result: res})
}

func stopMessage(res poll.Result) string {
	if res.Err != nil {
		return res.Reason.String() + ": " + res.Err.Error()
	}
	return res.Reason.String()
}

func (s *Session) clearRunning(key poll.Key, lastStop string) {
	s.ui.UpdateExisting(key.BlockID, key.TaskID, func(st TaskUIState) TaskUIState {
		st.Running = false
		st.LastStop = lastStop
		return st
	})
}

// endWatch stops the current run of key, if any, and reports it as cancelled.
func (s *Session) endWatch(key poll.Key, cause error) bool {
	s.runMu.Lock()
	run, ok := s.runs[key]
	if !ok {
		s.runMu.Unlock()
		return false
	}
	delete(s.runs, key)
	s.pollers.Stop(key)
	res := poll.Result{Reason: poll.StopCancelled, Err: cause, Run: run}
	s.clearRunning(key, stopMessage(res))
	s.runMu.Unlock()

	s.emit(Event{Kind: EventTaskStopped, BlockID: key.BlockID, TaskID: key.TaskID, Result: res})
	return true
}

func (s *Session) endBlockWatches(blockID string, cause error) {
	s.runMu.Lock()
	var keys []poll.Key
	for k := range s.runs {
		if k.BlockID == blockID {
			keys = append(keys, k)
		}
	}
	s.runMu.Unlock()
	for _, k := range keys {
		s.endWatch(k, cause)
	}
}

// Stop stops watching a task. The server-side execution is not cancelled.
func (s *Session) Stop(blockID, taskID string) bool {
	return s.endWatch(poll.Key{BlockID: blockID, TaskID: taskID}, nil)
}

// Running reports how many tasks are being watched.
func (s *Session) Running() int {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return len(s.runs)
}

// AddTask creates a task and returns the id the server stored it under.
func (s *Session) AddTask(ctx context.Context, blockID string, t model.Task) (string, error) {
	if err := s.mutable(); err != nil {
		return "", err
	}
	if _, err := s.Block(blockID); err != nil {
		return "", err
	}
	id, err := s.client.AddTask(ctx, blockID, t)
	if err != nil {
		return "", err
	}
	return id, s.Refresh(ctx)
}

// UpdateTask replaces a task's attributes. The server has no task endpoint, so
// the block is re-fetched, modified and written back whole.
func (s *Session) UpdateTask(ctx context.Context, blockID string, t model.Task) error {
	if err := s.mutable(); err != nil {
		return err
	}
	b, err := s.fetchBlock(ctx, blockID)
	if err != nil {
		return err
	}
	if _, ok := b.TodoList.Get(t.TaskID); !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownTask, blockID, t.TaskID)
	}
	b.TodoList.Set(t.TaskID, t)
	if err := s.client.UpdateBlock(ctx, b); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Session) DeleteTask(ctx context.Context, blockID, taskID string) error {
	if err := s.mutable(); err != nil {
		return err
	}
	if _, err := s.Task(blockID, taskID); err != nil {
		return err
	}
	s.endWatch(poll.Key{BlockID: blockID, TaskID: taskID}, nil)
	if err := s.client.DeleteTask(ctx, blockID, taskID); err != nil {
		return err
	}
	s.ui.Delete(blockID, taskID)
	return s.Refresh(ctx)
}

// CreateBlock creates a block and returns it as stored (the server assigns the
// id when b has none; names are unique).
func (s *Session) CreateBlock(ctx context.Context, b model.Block) (model.Block, error) {
	if err := s.mutable(); err != nil {
		return model.Block{}, err
	}
	if err := s.client.CreateBlock(ctx, b); err != nil {
		return model.Block{}, err
	}
	if err := s.Refresh(ctx); err != nil {
		return model.Block{}, err
	}
	for _, got := range s.Blocks() {
		if (b.BlockID != "" && got.BlockID == b.BlockID) || (b.BlockID == "" && got.Name == b.Name) {
			return got, nil
		}
	}
	return model.Block{}, fmt.Errorf("%w: created block %q not returned by server", ErrUnknownBlock, b.Name)
}

func (s *Session) UpdateBlock(ctx context.Context, b model.Block) error {
	if err := s.mutable(); err != nil {
		return err
	}
	if _, err := s.Block(b.BlockID); err != nil {
		return err
	}
	if err := s.client.UpdateBlock(ctx, b); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// DeleteBlock deletes a block and drops its order store, UI state and pollers.
func (s *Session) DeleteBlock(ctx context.Context, blockID string) error {
	if err := s.mutable(); err != nil {
		return err
	}
	if _, err := s.Block(blockID); err != nil {
		return err
	}
	s.endBlockWatches(blockID, nil)
	if err := s.client.DeleteBlock(ctx, blockID); err != nil {
		return err
	}
	s.taskView.Forget(blockID)
	s.ui.ForgetParent(blockID)
	return s.Refresh(ctx)
}

func (s *Session) Enhance(ctx context.Context, blockID string) error {
	return s.blockAction(ctx, blockID, s.client.EnhanceBlock)
}

func (s *Session) GenerateTasks(ctx context.Context, blockID string) error {
	return s.blockAction(ctx, blockID, s.client.GenerateTasks)
}

func (s *Session) blockAction(ctx context.Context, blockID string, fn func(context.Context, model.Block) error) error {
	if err := s.mutable(); err != nil {
		return err
	}
	b, err := s.Block(blockID)
	if err != nil {
		return err
	}
	if err := fn(ctx, b); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Session) AutoComplete(ctx context.Context, text string) (string, error) {
	if err := s.mutable(); err != nil {
		return "", err
	}
	return s.client.AutoComplete(ctx, text)
}

func (s *Session) Dependencies(ctx context.Context, blockID string) ([]model.TaskDependency, error) {
	if err := s.mutable(); err != nil {
		return nil, err
	}
	return s.client.BlockDependencies(ctx, blockID)
}

// ExportMarkdown renders a block with its tasks in display order.
func (s *Session) ExportMarkdown(blockID string) ([]byte, error) {
	b, err := s.Block(blockID)
	if err != nil {
		return nil, err
	}
	ts, err := s.Tasks(blockID)
	if err != nil {
		return nil, err
	}
	return taskmd.Export(b, ts), nil
}

type ImportResult struct {
	Added   []string `json:"added"`
	Updated []string `json:"updated"`
	// Message is set for server-side imports.
	Message string `json:"message,omitempty"`
}

// ImportMarkdown adds the tasks of a markdown document to blockID. Tasks whose
// id already exists in the block replace it. With serverSide the document is
// handed to the server's LLM-backed markdown processor instead.
func (s *Session) ImportMarkdown(ctx context.Context, blockID string, src []byte, serverSide bool) (ImportResult, error) {
	if err := s.mutable(); err != nil {
		return ImportResult{}, err
	}
	if serverSide {
		resp, err := s.client.ProcessMarkdown(ctx, blockID, string(src))
		if err != nil {
			return ImportResult{}, err
		}
		return ImportResult{Message: resp.Message}, s.Refresh(ctx)
	}

	doc, err := taskmd.Import(src)
	if err != nil {
		return ImportResult{}, err
	}
	b, err := s.fetchBlock(ctx, blockID)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	for _, t := range doc.Tasks {
		if t.TaskID != "" {
			if _, ok := b.TodoList.Get(t.TaskID); ok {
				b.TodoList.Set(t.TaskID, t)
				res.Updated = append(res.Updated, t.TaskID)
				continue
			}
		}
		id, err := s.client.AddTask(ctx, blockID, t)
		if err != nil {
			return res, err
		}
		res.Added = append(res.Added, id)
	}
	if len(res.Updated) > 0 {
		// Keep tasks added above: re-read, then overlay the updates.
		fresh, err := s.fetchBlock(ctx, blockID)
		if err != nil {
			return res, err
		}
		for _, id := range res.Updated {
			t, _ := b.TodoList.Get(id)
			fresh.TodoList.Set(id, t)
		}
		if err := s.client.UpdateBlock(ctx, fresh); err != nil {
			return res, err
		}
	}
	return res, s.Refresh(ctx)
}

func (s *Session) SyncJira(ctx context.Context, req api.JiraSyncRequest) (api.JiraSyncResponse, error) {
	if err := s.mutable(); err != nil {
		return api.JiraSyncResponse{}, err
	}
	resp, err := s.client.JiraSync(ctx, req)
	if err != nil {
		return resp, err
	}
	return resp, s.Refresh(ctx)
}

func (s *Session) fetchBlock(ctx context.Context, blockID string) (model.Block, error) {
	b, err := s.client.GetBlock(ctx, blockID)
	if api.IsNotFound(err) {
		return model.Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, blockID)
	}
	return b, err
}

func (s *Session) mutable() error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if s.offline {
		return ErrOffline
	}
	return nil
}

// Close stops every poller and waits for them. No listener fires afterwards
// for a poller that had not already finished.
func (s *Session) Close() {
	s.cancel()
	s.pollers.Close()
	s.runMu.Lock()
	clear(s.runs)
	s.runMu.Unlock()
}
