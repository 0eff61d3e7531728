// Package graph implements the read-only context traversal engine: a
// bounded breadth-first walk over persisted relations used to answer
// "what relates to X" queries.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/loam/internal/apperr"
	"github.com/starford/loam/internal/store"
)

// Traversal bounds. Depth is clamped so a hostile or cyclic graph cannot
// blow up a query; the visited set guarantees termination regardless.
const (
	DefaultDepth      = 2
	MaxDepth          = 5
	DefaultMaxRelated = 50
)

// Options bound a context build.
type Options struct {
	Depth      int
	Timeframe  time.Duration // only include entities updated within this window; 0 disables
	MaxRelated int           // cap on related nodes, before pagination
	Offset     int
	Limit      int // page size over related nodes; 0 means everything
}

// Node is one entity in a snapshot, annotated with its hop distance from
// the root set.
type Node struct {
	Entity       store.Entity        `json:"entity"`
	Depth        int                 `json:"depth"`
	Observations []store.Observation `json:"observations,omitempty"`
}

// Snapshot is the result of a context build: the resolved roots, the
// related nodes discovered by the walk, and every edge touched along the
// way (dangling edges included).
type Snapshot struct {
	Roots   []Node           `json:"roots"`
	Related []Node           `json:"related"`
	Edges   []store.Relation `json:"edges"`
	Total   int              `json:"total"` // related count before pagination
}

// Engine walks the knowledge graph. It only reads; sync can run
// concurrently and the walk observes the most recently committed state.
type Engine struct {
	store *store.Store
}

// NewEngine creates a traversal engine over the given store.
func NewEngine(s *store.Store) *Engine {
	return &Engine{store: s}
}

// Build resolves ref (permalink, title, or folder-glob pattern) within the
// project and walks relations breadth-first in both directions up to the
// configured depth. A visited set keyed by entity id guarantees
// termination on cyclic graphs.
func (e *Engine) Build(ctx context.Context, projectID int64, ref string, opts Options) (*Snapshot, error) {
	if opts.Depth <= 0 {
		opts.Depth = DefaultDepth
	}
	if opts.Depth > MaxDepth {
		opts.Depth = MaxDepth
	}
	if opts.MaxRelated <= 0 {
		opts.MaxRelated = DefaultMaxRelated
	}

	roots, err := e.store.ResolveRef(projectID, ref)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("graph: resolve %q: %w", ref, apperr.ErrNotFound)
	}

	var cutoff time.Time
	if opts.Timeframe > 0 {
		cutoff = time.Now().Add(-opts.Timeframe)
	}

	type queueItem struct {
		id    int64
		depth int
	}

	snap := &Snapshot{}
	visited := make(map[int64]struct{}, len(roots))
	seenEdges := make(map[int64]struct{})
	var queue []queueItem

	for _, r := range roots {
		if _, dup := visited[r.ID]; dup {
			continue
		}
		visited[r.ID] = struct{}{}
		node, err := e.node(r, 0)
		if err != nil {
			return nil, err
		}
		snap.Roots = append(snap.Roots, node)
		queue = append(queue, queueItem{id: r.ID, depth: 0})
	}

	var related []Node
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= opts.Depth {
			continue
		}

		rels, err := e.store.RelationsOf(cur.id)
		if err != nil {
			return nil, err
		}
		for _, rel := range rels {
			if _, dup := seenEdges[rel.ID]; !dup {
				seenEdges[rel.ID] = struct{}{}
				snap.Edges = append(snap.Edges, rel)
			}
			if rel.ToID == nil {
				continue // dangling: edge reported, nothing to walk to
			}
			otherID := *rel.ToID
			if otherID == cur.id {
				otherID = rel.FromID
			}
			if _, dup := visited[otherID]; dup {
				continue
			}
			visited[otherID] = struct{}{}

			ent, err := e.store.GetEntity(projectID, otherID)
			if err != nil {
				// Deleted between queries; skip.
				continue
			}
			if !cutoff.IsZero() && ent.UpdatedAt.Before(cutoff) {
				continue
			}

			depth := cur.depth + 1
			node, err := e.node(*ent, depth)
			if err != nil {
				return nil, err
			}
			related = append(related, node)
			if len(related) >= opts.MaxRelated {
				queue = nil
				break
			}
			queue = append(queue, queueItem{id: otherID, depth: depth})
		}
	}

	snap.Total = len(related)
	snap.Related = paginate(related, opts.Offset, opts.Limit)
	return snap, nil
}

func (e *Engine) node(ent store.Entity, depth int) (Node, error) {
	obs, err := e.store.ObservationsFor(ent.ID)
	if err != nil {
		return Node{}, err
	}
	return Node{Entity: ent, Depth: depth, Observations: obs}, nil
}

func paginate(nodes []Node, offset, limit int) []Node {
	if offset >= len(nodes) {
		return nil
	}
	nodes = nodes[offset:]
	if limit > 0 && limit < len(nodes) {
		nodes = nodes[:limit]
	}
	return nodes
}
