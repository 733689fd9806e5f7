package osm

import (
	"log/slog"
	"sync"
)

// Store is the in-memory element index backing rendering and hit-testing.
// It is safe for concurrent use; downloads index into it from worker
// goroutines while the session layer resolves objects out of it.
type Store struct {
	mu        sync.RWMutex
	nodes     map[int64]*Node
	ways      map[int64]*Way
	relations map[int64]*Relation
	logger    *slog.Logger
}

// NewStore returns an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		nodes:     make(map[int64]*Node),
		ways:      make(map[int64]*Way),
		relations: make(map[int64]*Relation),
		logger:    logger,
	}
}

// Index merges a decoded batch into the store. Re-indexing an element that
// is already present replaces it; overlapping downloads therefore converge
// on the most recently decoded copy.
func (s *Store) Index(nodes []*Node, ways []*Way, relations []*Relation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	for _, w := range ways {
		s.ways[w.ID] = w
	}
	for _, r := range relations {
		s.relations[r.ID] = r
	}
}

// IndexElement merges a single element, dispatching on its concrete type.
func (s *Store) IndexElement(e Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch v := e.(type) {
	case *Node:
		s.nodes[v.ID] = v
	case *Way:
		s.ways[v.ID] = v
	case *Relation:
		s.relations[v.ID] = v
	}
}

// Node returns the indexed node with the given id.
func (s *Store) Node(id int64) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Way returns the indexed way with the given id.
func (s *Store) Way(id int64) (*Way, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.ways[id]
	return w, ok
}

// Relation returns the indexed relation with the given id.
func (s *Store) Relation(id int64) (*Relation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relations[id]
	return r, ok
}

// Resolve looks up an element by type-qualified reference.
func (s *Store) Resolve(ref Ref) (Element, bool) {
	switch ref.Type.WireType() {
	case TypeNode:
		if n, ok := s.Node(ref.ID); ok {
			return n, true
		}
	case TypeWay:
		if w, ok := s.Way(ref.ID); ok {
			return w, true
		}
	case TypeRelation:
		if r, ok := s.Relation(ref.ID); ok {
			return r, true
		}
	}
	return nil, false
}

// ResolveWayNodes returns the node sequence for a way, skipping references
// that are not indexed. Partial downloads routinely truncate ways at the
// envelope edge, so a missing node is logged and dropped rather than
// failing the whole geometry.
func (s *Store) ResolveWayNodes(w *Way) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(w.Refs))
	for _, ref := range w.Refs {
		n, ok := s.nodes[ref.Ref]
		if !ok {
			s.logger.Warn("way references unindexed node",
				"way", w.ID,
				"node", ref.Ref)
			continue
		}
		out = append(out, n)
	}
	return out
}

// Remove drops an element from the index if present.
func (s *Store) Remove(ref Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ref.Type.WireType() {
	case TypeNode:
		delete(s.nodes, ref.ID)
	case TypeWay:
		delete(s.ways, ref.ID)
	case TypeRelation:
		delete(s.relations, ref.ID)
	}
}

// Len reports the total number of indexed elements.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes) + len(s.ways) + len(s.relations)
}

// Ways returns a snapshot of every indexed way.
func (s *Store) Ways() []*Way {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Way, 0, len(s.ways))
	for _, w := range s.ways {
		out = append(out, w)
	}
	return out
}

// Nodes returns a snapshot of every indexed node.
func (s *Store) Nodes() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out
}

// Relations returns a snapshot of every indexed relation.
func (s *Store) Relations() []*Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Relation, 0, len(s.relations))
	for _, r := range s.relations {
		out = append(out, r)
	}
	return out
}

// Clear empties the index.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[int64]*Node)
	s.ways = make(map[int64]*Way)
	s.relations = make(map[int64]*Relation)
}
