// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package extaxonomy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

// Snapshot is an immutable copy of the external taxonomy tree with its
// lookup indexes. Indexes are built once when the snapshot is created.
type Snapshot struct {
	CachedAt time.Time
	Source   string

	nodes  []types.TaxonomyNode
	byID   map[string]int
	byPath map[string]int
	byLeaf map[string][]int
	byTok  map[string][]int
}

// persisted is the JSON form of a snapshot.
type persisted struct {
	CachedAt time.Time            `json:"cached_at"`
	Source   string               `json:"source,omitempty"`
	Nodes    []types.TaxonomyNode `json:"nodes"`
}

// NewSnapshot validates nodes and indexes them.
func NewSnapshot(nodes []types.TaxonomyNode, cachedAt time.Time, source string) (*Snapshot, error) {
	if err := Validate(nodes); err != nil {
		return nil, err
	}
	s := &Snapshot{
		CachedAt: cachedAt.UTC(),
		Source:   source,
		nodes:    make([]types.TaxonomyNode, len(nodes)),
		byID:     make(map[string]int, len(nodes)),
		byPath:   make(map[string]int, len(nodes)),
		byLeaf:   make(map[string][]int),
		byTok:    make(map[string][]int),
	}
	copy(s.nodes, nodes)

	for i, n := range s.nodes {
		s.byID[n.ID] = i
		s.byPath[types.NormalizeKey(n.FullName())] = i
		leaf := types.NormalizeKey(n.Name)
		s.byLeaf[leaf] = append(s.byLeaf[leaf], i)
		seen := map[string]bool{}
		for _, tok := range Tokenize(n.FullName()) {
			if !seen[tok] {
				seen[tok] = true
				s.byTok[tok] = append(s.byTok[tok], i)
			}
		}
	}
	return s, nil
}

// Validate checks that a fetched or loaded tree is usable: non-empty, every
// node has an id and a path ending in its name, and ids are unique.
func Validate(nodes []types.TaxonomyNode) error {
	if len(nodes) == 0 {
		return fmt.Errorf("taxonomy has no nodes")
	}
	ids := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("node %d: empty id", i)
		}
		if len(n.Path) == 0 {
			return fmt.Errorf("node %s: empty path", n.ID)
		}
		if n.Path[len(n.Path)-1] != n.Name {
			return fmt.Errorf("node %s: name %q does not end path %q", n.ID, n.Name, n.FullName())
		}
		if ids[n.ID] {
			return fmt.Errorf("node %s: duplicate id", n.ID)
		}
		ids[n.ID] = true
	}
	return nil
}

// Len returns the number of nodes.
func (s *Snapshot) Len() int { return len(s.nodes) }

// Nodes returns a copy of the nodes in source order.
func (s *Snapshot) Nodes() []types.TaxonomyNode {
	out := make([]types.TaxonomyNode, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// Node returns the node with the given id.
func (s *Snapshot) Node(id string) (types.TaxonomyNode, bool) {
	i, ok := s.byID[id]
	if !ok {
		return types.TaxonomyNode{}, false
	}
	return s.nodes[i], true
}

// ByPath returns the node whose full path matches path after normalization.
func (s *Snapshot) ByPath(path string) (types.TaxonomyNode, bool) {
	i, ok := s.byPath[types.NormalizeKey(path)]
	if !ok {
		return types.TaxonomyNode{}, false
	}
	return s.nodes[i], true
}

// ByLeafName returns every node whose own name equals name, ignoring case
// and extra whitespace.
func (s *Snapshot) ByLeafName(name string) []types.TaxonomyNode {
	return s.pick(s.byLeaf[types.NormalizeKey(name)])
}

// NameContains returns nodes whose name contains term, shortest full path first.
func (s *Snapshot) NameContains(term string) []types.TaxonomyNode {
	term = types.NormalizeKey(term)
	if term == "" {
		return nil
	}
	var idx []int
	for i, n := range s.nodes {
		if strings.Contains(strings.ToLower(n.Name), term) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return len(s.nodes[idx[a]].FullName()) < len(s.nodes[idx[b]].FullName())
	})
	return s.pick(idx)
}

// KeywordMatch ranks nodes by how many of the keyword tokens of text appear
// in their full path. Ties go to the shorter path. Nodes matching no token
// are omitted.
func (s *Snapshot) KeywordMatch(text string) []types.TaxonomyNode {
	counts := make(map[int]int)
	for _, tok := range uniq(Tokenize(text)) {
		for _, i := range s.byTok[tok] {
			counts[i]++
		}
	}
	idx := make([]int, 0, len(counts))
	for i := range counts {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool {
		ca, cb := counts[idx[a]], counts[idx[b]]
		if ca != cb {
			return ca > cb
		}
		la, lb := len(s.nodes[idx[a]].Path), len(s.nodes[idx[b]].Path)
		if la != lb {
			return la < lb
		}
		return idx[a] < idx[b]
	})
	return s.pick(idx)
}

func (s *Snapshot) pick(idx []int) []types.TaxonomyNode {
	if len(idx) == 0 {
		return nil
	}
	out := make([]types.TaxonomyNode, len(idx))
	for j, i := range idx {
		out[j] = s.nodes[i]
	}
	return out
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CachedAt)
}

// MarshalJSON writes the persisted form.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(persisted{CachedAt: s.CachedAt, Source: s.Source, Nodes: s.nodes})
}

// decodeSnapshot parses and validates a persisted snapshot.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.CachedAt.IsZero() {
		return nil, fmt.Errorf("missing cached_at")
	}
	return NewSnapshot(p.Nodes, p.CachedAt, p.Source)
}

// stopWords are dropped from keyword tokens.
var stopWords = map[string]bool{
	"and": true, "the": true, "for": true, "with": true, "from": true,
	"other": true, "accessories": true, "supplies": true, "products": true,
	"equipment": true, "misc": true,
}

// Tokenize splits s into lowercased keyword tokens. Tokens of two characters
// or fewer and stop words are dropped.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) <= 2 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func uniq(toks []string) []string {
	seen := make(map[string]bool, len(toks))
	out := toks[:0:0]
	for _, t := range toks {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
