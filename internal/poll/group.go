package poll

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Key identifies a watched task.
type Key struct {
	BlockID string
	TaskID  string
}

// RunID tells apart successive pollers of the same Key. It is never zero for a
// started poller.
type RunID uint64

// Group runs at most one poller per Key.
//
// OnStop callbacks run on the poller's goroutine, exactly once per started
// poller, unless the group has been closed: after Close no callback fires, so
// nothing updates state owned by a torn-down view. A callback may arrive after
// its key was stopped and started again; Result.Run identifies the run it
// belongs to.
type Group struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	pollers map[Key]*handle
	lastRun RunID
	closed  bool
	wg      sync.WaitGroup
}

type handle struct {
	id     RunID
	cancel context.CancelFunc
}

func NewGroup(cfg Config, log *zap.Logger) *Group {
	if log == nil {
		log = zap.NewNop()
	}
	return &Group{
		cfg:     cfg.withDefaults(),
		log:     log,
		pollers: map[Key]*handle{},
	}
}

// Start begins watching key and returns the new run's id. It returns zero if
// key is already watched or the group is closed.
func (g *Group) Start(key Key, check Check, onStop func(Key, Result)) RunID {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0
	}
	if _, ok := g.pollers[key]; ok {
		return 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.lastRun++
	h := &handle{id: g.lastRun, cancel: cancel}
	g.pollers[key] = h
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()
		defer cancel()

		res := Run(ctx, g.cfg, check)
		res.Run = h.id

		g.mu.Lock()
		if g.pollers[key] == h {
			delete(g.pollers, key)
		}
		closed := g.closed
		g.mu.Unlock()

		g.log.Debug("poller stopped",
			zap.String("block", key.BlockID),
			zap.String("task", key.TaskID),
			zap.Uint64("run", uint64(h.id)),
			zap.Stringer("reason", res.Reason),
			zap.Int("polls", res.Polls),
			zap.Error(res.Err),
		)
		if !closed && onStop != nil {
			onStop(key, res)
		}
	}()
	return h.id
}

// Stop cancels the poller for key. Its OnStop sees StopCancelled.
func (g *Group) Stop(key Key) bool {
	g.mu.Lock()
	h, ok := g.pollers[key]
	if ok {
		delete(g.pollers, key)
	}
	g.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// StopBlock cancels every poller watching a task of blockID.
func (g *Group) StopBlock(blockID string) int {
	g.mu.Lock()
	var hs []*handle
	for k, h := range g.pollers {
		if k.BlockID == blockID {
			hs = append(hs, h)
			delete(g.pollers, k)
		}
	}
	g.mu.Unlock()
	for _, h := range hs {
		h.cancel()
	}
	return len(hs)
}

func (g *Group) Running(key Key) bool {
	_, ok := g.Current(key)
	return ok
}

// Current returns the run watching key, if any.
func (g *Group) Current(key Key) (RunID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.pollers[key]
	if !ok {
		return 0, false
	}
	return h.id, true
}

func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pollers)
}

// Close stops every poller, suppresses pending callbacks and waits for all
// goroutines to exit.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	hs := make([]*handle, 0, len(g.pollers))
	for k, h := range g.pollers {
		hs = append(hs, h)
		delete(g.pollers, k)
	}
	g.mu.Unlock()
	for _, h := range hs {
		h.cancel()
	}
	g.wg.Wait()
}

// Wait blocks until every started poller has exited.
func (g *Group) Wait() { g.wg.Wait() }
