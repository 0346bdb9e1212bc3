// SPDX-License-Identifier: MPL-2.0

package lifecycle

import (
	"context"
	"slices"
)

type (
	// token identifies one goroutine's chain of nested installs.
	token struct{ _ byte }

	// chain is the list of artifacts being installed above the current call.
	chain struct {
		tok   *token
		names []string
	}

	chainKey struct{}
)

func chainFrom(ctx context.Context) chain {
	if c, ok := ctx.Value(chainKey{}).(chain); ok {
		return c
	}
	return chain{tok: new(token)}
}

func (c chain) has(name string) bool {
	return slices.Contains(c.names, name)
}

func (c chain) with(name string) chain {
	return chain{tok: c.tok, names: append(slices.Clone(c.names), name)}
}

// fork starts a new chain for a concurrent child that inherits the names above it.
func (c chain) fork() chain {
	return chain{tok: new(token), names: c.names}
}

func withChain(ctx context.Context, c chain) context.Context {
	return context.WithValue(ctx, chainKey{}, c)
}

// acquire takes the per-artifact lock for name on behalf of tok. It
// returns false instead of blocking when waiting would close a cycle of
// chains waiting on each other.
func (o *Orchestrator) acquire(tok *token, name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		holder, busy := o.owner[name]
		if !busy {
			o.owner[name] = tok
			return true
		}
		if o.wouldDeadlock(tok, holder) {
			return false
		}
		o.waiting[tok] = name
		o.cond.Wait()
		delete(o.waiting, tok)
	}
}

// release frees name and publishes a's status for Snapshot.
func (o *Orchestrator) release(a *Artifact) {
	o.mu.Lock()
	if a.HasStatus() {
		o.published[a.Name] = a.Status().Snapshot()
	}
	delete(o.owner, a.Name)
	o.mu.Unlock()
	o.cond.Broadcast()
}

// join records that parent is blocked until every child chain finished.
// It must be called before any child starts.
func (o *Orchestrator) join(parent *token, children []chain) {
	toks := make([]*token, len(children))
	for i, c := range children {
		toks[i] = c.tok
	}
	o.mu.Lock()
	o.joining[parent] = toks
	o.mu.Unlock()
}

func (o *Orchestrator) unjoin(parent *token) {
	o.mu.Lock()
	delete(o.joining, parent)
	o.mu.Unlock()
}

// wouldDeadlock reports whether tok is reachable from holder in the
// wait-for graph. A token waiting on a lock points at the lock's owner; a
// token joining its forked children points at each child.
func (o *Orchestrator) wouldDeadlock(tok, holder *token) bool {
	seen := map[*token]bool{}
	stack := []*token{holder}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t == tok {
			return true
		}
		if t == nil || seen[t] {
			continue
		}
		seen[t] = true
		if name, waiting := o.waiting[t]; waiting {
			stack = append(stack, o.owner[name])
		}
		stack = append(stack, o.joining[t]...)
	}
	return false
}
