package rbac

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/odyssey-erp/stockdesk/internal/modules"
	"github.com/odyssey-erp/stockdesk/internal/permstore"
	"github.com/odyssey-erp/stockdesk/internal/session"
)

// Inputs drive a Guard evaluation.
type Inputs struct {
	User   *session.User
	Module modules.Key
}

// Transition describes a state change observed by a Guard.
type Transition struct {
	From   State
	To     State
	Module modules.Key
}

// trigger is the tuple whose change causes re-evaluation.
type trigger struct {
	userID string
	roleID string
	module modules.Key
}

// Guard is the access state machine of one mounted view. It re-evaluates
// only when user id, role id or module key change, and applies only the
// result of its most recent evaluation. Checks in flight are never
// cancelled; their results are discarded when superseded or after Close.
type Guard struct {
	checker  *Checker
	store    *permstore.Store
	onChange func(Transition)
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	module modules.Key
	gen    uint64
	last   *trigger
	closed bool
	// pending is closed when the current evaluation settles.
	pending chan struct{}

	discarded atomic.Int64
}

// NewGuard constructs a Guard in StateInitial. onChange may be nil.
func NewGuard(checker *Checker, store *permstore.Store, onChange func(Transition)) *Guard {
	return &Guard{checker: checker, store: store, onChange: onChange, logger: checker.logger, state: StateInitial}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Update feeds new inputs. A missing user settles on StateUnauthenticated
// immediately without any backend call. Unchanged inputs are a no-op.
func (g *Guard) Update(ctx context.Context, in Inputs) {
	trig := trigger{module: in.Module}
	if in.User != nil {
		trig.userID = in.User.ID
		trig.roleID = g.checker.RoleHint(ctx, in.User, g.store)
	}

	g.mu.Lock()
	if g.closed || (g.last != nil && *g.last == trig) {
		g.mu.Unlock()
		return
	}
	g.last = &trig
	g.gen++
	gen := g.gen
	g.module = in.Module
	if g.pending != nil {
		close(g.pending)
		g.pending = nil
	}

	if in.User == nil {
		t := g.setLocked(StateUnauthenticated)
		g.mu.Unlock()
		g.notify(t)
		return
	}

	t := g.setLocked(StateChecking)
	g.pending = make(chan struct{})
	g.mu.Unlock()
	g.notify(t)

	go func() {
		state := g.checker.Check(ctx, in.User, g.store, in.Module)
		g.apply(gen, in.Module, state)
	}()
}

// Wait blocks until the current evaluation settles or ctx ends.
func (g *Guard) Wait(ctx context.Context) (State, error) {
	for {
		g.mu.Lock()
		pending := g.pending
		state := g.state
		g.mu.Unlock()
		if pending == nil {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return g.State(), ctx.Err()
		case <-pending:
		}
	}
}

// Close detaches the guard. Results arriving afterwards are discarded.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.gen++
	if g.pending != nil {
		close(g.pending)
		g.pending = nil
	}
}

func (g *Guard) apply(gen uint64, module modules.Key, state State) {
	g.mu.Lock()
	if g.closed || gen != g.gen {
		g.mu.Unlock()
		g.discarded.Add(1)
		g.logger.Debug("discard stale access result",
			slog.String("module", string(module)),
			slog.String("state", state.String()))
		return
	}
	t := g.setLocked(state)
	if g.pending != nil {
		close(g.pending)
		g.pending = nil
	}
	g.mu.Unlock()
	g.notify(t)
}

func (g *Guard) setLocked(state State) *Transition {
	if g.state == state {
		return nil
	}
	t := &Transition{From: g.state, To: state, Module: g.module}
	g.state = state
	return t
}

func (g *Guard) notify(t *Transition) {
	if t == nil || g.onChange == nil {
		return
	}
	g.onChange(*t)
}
