// Package graph implements the directed agent graph: named nodes, plain and
// conditional edges, and a per-run sequential executor with retry and
// progress publication.
package graph

import (
	"context"
	"time"

	"minerva/internal/agents/state"
	"minerva/internal/progress"
	"minerva/pkg/errors"
)

// Node names reserved by the engine.
const (
	Start = "START"
	End   = "END"
)

// NodeFunc mutates the shared state. Nodes are invoked one at a time per run.
type NodeFunc func(ctx context.Context, st *state.State) error

// RouterFunc picks the next node from an immutable state snapshot. Routers
// must be pure: replay over the same snapshots is deterministic.
type RouterFunc func(snap state.Snapshot) string

// Node is a registered graph vertex.
type Node struct {
	Name    string
	Stage   progress.Stage
	Label   string
	Percent float64
	Timeout time.Duration
	Run     NodeFunc
}

// Graph holds the node set and edge relation.
type Graph struct {
	nodes   map[string]Node
	edges   map[string]string
	routers map[string]RouterFunc
	entry   string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:   make(map[string]Node),
		edges:   make(map[string]string),
		routers: make(map[string]RouterFunc),
	}
}

// AddNode registers a vertex. Names must be unique and not reserved.
func (g *Graph) AddNode(n Node) error {
	if n.Name == "" || n.Name == Start || n.Name == End {
		return errors.Wrapf(errors.ErrInvalidInput, "invalid node name %q", n.Name)
	}
	if n.Run == nil {
		return errors.Wrapf(errors.ErrInvalidInput, "node %q has no body", n.Name)
	}
	if _, exists := g.nodes[n.Name]; exists {
		return errors.Wrapf(errors.ErrAlreadyExists, "node %q", n.Name)
	}
	if n.Label == "" {
		n.Label = n.Name
	}
	g.nodes[n.Name] = n
	return nil
}

// AddEdge registers an unconditional transition. An edge from Start sets the
// entry node.
func (g *Graph) AddEdge(from, to string) error {
	if err := g.checkEndpoint(from, to); err != nil {
		return err
	}

	if from == Start {
		g.entry = to
		return nil
	}

	if _, dup := g.edges[from]; dup {
		return errors.Wrapf(errors.ErrAlreadyExists, "edge from %q", from)
	}
	if _, dup := g.routers[from]; dup {
		return errors.Wrapf(errors.ErrAlreadyExists, "conditional edge from %q", from)
	}

	g.edges[from] = to
	return nil
}

// AddConditionalEdge registers a router deciding the successor of from.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc) error {
	if _, ok := g.nodes[from]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "node %q", from)
	}
	if router == nil {
		return errors.Wrapf(errors.ErrInvalidInput, "nil router for %q", from)
	}
	if _, dup := g.edges[from]; dup {
		return errors.Wrapf(errors.ErrAlreadyExists, "edge from %q", from)
	}
	if _, dup := g.routers[from]; dup {
		return errors.Wrapf(errors.ErrAlreadyExists, "conditional edge from %q", from)
	}

	g.routers[from] = router
	return nil
}

func (g *Graph) checkEndpoint(from, to string) error {
	if from != Start {
		if _, ok := g.nodes[from]; !ok {
			return errors.Wrapf(errors.ErrNotFound, "node %q", from)
		}
	}
	if to != End {
		if _, ok := g.nodes[to]; !ok {
			return errors.Wrapf(errors.ErrNotFound, "node %q", to)
		}
	}
	return nil
}

// Validate checks that the graph is runnable: an entry exists and every node
// has exactly one outgoing edge or router.
func (g *Graph) Validate() error {
	if g.entry == "" {
		return errors.Wrap(errors.ErrInvalidInput, "graph has no entry edge from START")
	}

	for name := range g.nodes {
		_, hasEdge := g.edges[name]
		_, hasRouter := g.routers[name]
		if !hasEdge && !hasRouter {
			return errors.Wrapf(errors.ErrInvalidInput, "node %q has no outgoing edge", name)
		}
	}

	return nil
}

// next resolves the successor of name for the given snapshot.
func (g *Graph) next(name string, snap state.Snapshot) (string, error) {
	if to, ok := g.edges[name]; ok {
		return to, nil
	}
	if router, ok := g.routers[name]; ok {
		to := router(snap)
		if to != End {
			if _, known := g.nodes[to]; !known {
				return "", errors.Wrapf(errors.ErrInternal, "router for %q chose unknown node %q", name, to)
			}
		}
		return to, nil
	}
	return "", errors.Wrapf(errors.ErrInternal, "node %q has no successor", name)
}
