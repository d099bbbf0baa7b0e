// Package graph is a small dependency-ordered action executor. Actions run
// concurrently once all of their dependencies have succeeded; aliases name
// groups of actions that can be requested as targets.
package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-testorch/metrics"
)

// AllTargets selects every declared action
const AllTargets = "."

// Action is the work attached to a graph node. A returned error marks the node as failed.
type Action func(ctx context.Context) error

var (
	ErrDuplicate = errors.New("duplicate node")
	ErrUnknown   = errors.New("unknown target")
	ErrCycle     = errors.New("dependency cycle")
	ErrFrozen    = errors.New("graph is executing")
)

type node struct {
	name   string
	action Action
	deps   []string
}

// Graph holds declared actions, their dependency edges and aliases
type Graph struct {
	mu      sync.Mutex
	log     log.Logger
	tracer  trace.Tracer
	nodes   map[string]*node
	order   []string
	aliases map[string][]string
	frozen  bool
}

// New creates an empty graph
func New(logger log.Logger) *Graph {
	if logger == nil {
		logger = log.New()
	}
	return &Graph{
		log:     logger,
		tracer:  otel.Tracer("build graph"),
		nodes:   make(map[string]*node),
		aliases: make(map[string][]string),
	}
}

// AddAction declares a node. deps may name actions or aliases declared later.
func (g *Graph) AddAction(name string, action Action, deps ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	if name == "" || name == AllTargets {
		return fmt.Errorf("invalid node name %q", name)
	}
	if _, ok := g.nodes[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	if _, ok := g.aliases[name]; ok {
		return fmt.Errorf("%w: %s is already an alias", ErrDuplicate, name)
	}
	if action == nil {
		action = func(context.Context) error { return nil }
	}
	n := &node{name: name, action: action}
	n.deps = appendUnique(n.deps, deps...)
	g.nodes[name] = n
	g.order = append(g.order, name)
	return nil
}

// Depends attaches extra dependency edges to an already declared action
func (g *Graph) Depends(name string, deps ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	n, ok := g.nodes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	n.deps = appendUnique(n.deps, deps...)
	return nil
}

// Alias adds members to a named group. Repeated calls accumulate members.
func (g *Graph) Alias(name string, members ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	if name == "" || name == AllTargets {
		return fmt.Errorf("invalid alias name %q", name)
	}
	if _, ok := g.nodes[name]; ok {
		return fmt.Errorf("%w: %s is already an action", ErrDuplicate, name)
	}
	g.aliases[name] = appendUnique(g.aliases[name], members...)
	return nil
}

// HasAction reports whether an action with the given name exists
func (g *Graph) HasAction(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.nodes[name]
	return ok
}

// IsAlias reports whether name is a declared alias
func (g *Graph) IsAlias(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.aliases[name]
	return ok
}

// Resolve expands targets into the full set of actions to run, dependencies first.
func (g *Graph) Resolve(targets []string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, _, err := g.resolveLocked(targets)
	return order, err
}

// resolveLocked returns the topological order and the alias-expanded deps of every node in it
func (g *Graph) resolveLocked(targets []string) ([]string, map[string][]string, error) {
	roots, err := g.expandAll(targets)
	if err != nil {
		return nil, nil, err
	}

	var order []string
	deps := make(map[string][]string)
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		if inStack[name] {
			return fmt.Errorf("%w: %v -> %s", ErrCycle, path, name)
		}
		if visited[name] {
			return nil
		}
		n := g.nodes[name]
		expanded, err := g.expandAll(n.deps)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		inStack[name] = true
		for _, dep := range expanded {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		inStack[name] = false
		visited[name] = true
		deps[name] = expanded
		order = append(order, name)
		return nil
	}

	for _, root := range roots {
		if err := visit(root, nil); err != nil {
			return nil, nil, err
		}
	}
	return order, deps, nil
}

// expandAll turns a list of targets into action names, expanding aliases and "."
func (g *Graph) expandAll(targets []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, target := range targets {
		names, err := g.expand(target, make(map[string]bool))
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out, nil
}

func (g *Graph) expand(target string, expanding map[string]bool) ([]string, error) {
	if target == AllTargets {
		return append([]string(nil), g.order...), nil
	}
	if _, ok := g.nodes[target]; ok {
		return []string{target}, nil
	}
	members, ok := g.aliases[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, target)
	}
	if expanding[target] {
		return nil, fmt.Errorf("%w: alias %s contains itself", ErrCycle, target)
	}
	expanding[target] = true
	defer delete(expanding, target)

	var out []string
	for _, member := range members {
		names, err := g.expand(member, expanding)
		if err != nil {
			return nil, err
		}
		out = append(out, names...)
	}
	return out, nil
}

// Failure is an action that returned an error
type Failure struct {
	Node string
	Err  error
}

// Result describes one execution of the graph
type Result struct {
	Succeeded []string
	Failures  []Failure
	Skipped   []string // not run because a dependency failed or the context ended
}

// OK reports whether every requested action succeeded
func (r *Result) OK() bool {
	return len(r.Failures) == 0 && len(r.Skipped) == 0
}

// Failed reports whether the named action failed
func (r *Result) Failed(name string) bool {
	for _, f := range r.Failures {
		if f.Node == name {
			return true
		}
	}
	return false
}

type nodeState int

const (
	statePending nodeState = iota
	stateSucceeded
	stateFailed
	stateSkipped
)

// Execute runs every action needed for targets. Independent actions keep running
// after a failure; dependents of a failed action are skipped. At most jobs actions
// run at once, jobs <= 0 uses the number of CPUs. The returned error is only set
// when the targets cannot be resolved.
func (g *Graph) Execute(ctx context.Context, targets []string, jobs int) (*Result, error) {
	g.mu.Lock()
	order, deps, err := g.resolveLocked(targets)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	actions := make(map[string]Action, len(order))
	for _, name := range order {
		actions[name] = g.nodes[name].action
	}
	g.frozen = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.frozen = false
		g.mu.Unlock()
	}()

	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	g.log.Debug("Executing build graph", "targets", targets, "actions", len(order), "jobs", jobs)

	slots := semaphore.NewWeighted(int64(jobs))
	done := make(map[string]chan struct{}, len(order))
	for _, name := range order {
		done[name] = make(chan struct{})
	}

	var (
		mu     sync.Mutex
		states = make(map[string]nodeState, len(order))
		errs   = make(map[string]error)
	)
	finish := func(name string, state nodeState, err error) {
		mu.Lock()
		states[name] = state
		if err != nil {
			errs[name] = err
		}
		mu.Unlock()
		close(done[name])
	}
	depsOK := func(name string) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, dep := range deps[name] {
			if states[dep] != stateSucceeded {
				return false
			}
		}
		return true
	}

	p := pool.New().WithContext(ctx)
	for _, name := range order {
		p.Go(func(ctx context.Context) error {
			for _, dep := range deps[name] {
				<-done[dep]
			}
			if !depsOK(name) {
				g.log.Debug("Skipping action, dependency not built", "action", name)
				finish(name, stateSkipped, nil)
				return nil
			}
			if err := slots.Acquire(ctx, 1); err != nil {
				finish(name, stateSkipped, nil)
				return nil
			}
			err := g.run(ctx, name, actions[name])
			slots.Release(1)

			metrics.RecordGraphAction(err == nil)
			if err != nil {
				g.log.Error("Action failed", "action", name, "err", err)
				finish(name, stateFailed, err)
				return nil
			}
			finish(name, stateSucceeded, nil)
			return nil
		})
	}
	_ = p.Wait()

	result := &Result{}
	for _, name := range order {
		switch states[name] {
		case stateSucceeded:
			result.Succeeded = append(result.Succeeded, name)
		case stateFailed:
			result.Failures = append(result.Failures, Failure{Node: name, Err: errs[name]})
		default:
			result.Skipped = append(result.Skipped, name)
		}
	}
	return result, nil
}

// run invokes one action, converting a panic into an error
func (g *Graph) run(ctx context.Context, name string, action Action) (err error) {
	ctx, span := g.tracer.Start(ctx, fmt.Sprintf("action %s", name))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in action %s: %v", name, rec)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	return action(ctx)
}

// Names returns every declared action in declaration order
func (g *Graph) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

// Aliases returns the declared alias names, sorted
func (g *Graph) Aliases() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.aliases))
	for name := range g.aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		dup := false
		for _, existing := range list {
			if existing == item {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, item)
		}
	}
	return list
}
