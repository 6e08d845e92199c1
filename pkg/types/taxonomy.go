// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"strings"
	"time"
)

// CategoryPath is an internal Department > Category > Subcategory path.
type CategoryPath struct {
	Department  string `json:"department" yaml:"department"`
	Category    string `json:"category" yaml:"category"`
	Subcategory string `json:"subcategory" yaml:"subcategory"`
}

// ParseCategoryPath splits "A > B > C" into a CategoryPath. Missing levels
// are left empty; levels beyond the third are joined into the subcategory.
func ParseCategoryPath(s string) CategoryPath {
	parts := strings.Split(s, ">")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	var p CategoryPath
	if len(parts) > 0 {
		p.Department = parts[0]
	}
	if len(parts) > 1 {
		p.Category = parts[1]
	}
	if len(parts) > 2 {
		p.Subcategory = strings.Join(parts[2:], " > ")
	}
	return p
}

// Segments returns the non-empty levels from department down.
func (p CategoryPath) Segments() []string {
	var out []string
	for _, s := range []string{p.Department, p.Category, p.Subcategory} {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Leaf returns the most specific non-empty level.
func (p CategoryPath) Leaf() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// IsZero reports whether no level is set.
func (p CategoryPath) IsZero() bool {
	return len(p.Segments()) == 0
}

func (p CategoryPath) String() string {
	return strings.Join(p.Segments(), " > ")
}

// Key returns the normalized form used to key the resolution cache:
// lowercased, with runs of whitespace collapsed to one space. All three
// levels keep their position, so {A, "", C} and {A, C, ""} differ, and a ">"
// inside a level is escaped so it cannot pass for a level boundary.
func (p CategoryPath) Key() string {
	levels := p.levels()
	for i, l := range levels {
		levels[i] = strings.ReplaceAll(NormalizeKey(l), ">", `\>`)
	}
	return NormalizeKey(strings.Join(levels, " > "))
}

// Within reports whether p lies under q: every level q sets matches the level
// of p at the same position, ignoring case and whitespace.
func (p CategoryPath) Within(q CategoryPath) bool {
	if q.IsZero() {
		return false
	}
	pl, ql := p.levels(), q.levels()
	for i := range ql {
		if ql[i] != "" && NormalizeKey(ql[i]) != NormalizeKey(pl[i]) {
			return false
		}
	}
	return true
}

func (p CategoryPath) levels() []string {
	return []string{p.Department, p.Category, p.Subcategory}
}

// NormalizeKey lowercases s and collapses whitespace runs.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// TaxonomyNode is one category of the external taxonomy tree.
type TaxonomyNode struct {
	ID   string   `json:"id" yaml:"id"`
	Name string   `json:"name" yaml:"name"`
	Path []string `json:"path" yaml:"path"`
	Leaf bool     `json:"leaf" yaml:"leaf"`
}

// FullName returns the node's path joined with " > ".
func (n TaxonomyNode) FullName() string {
	return strings.Join(n.Path, " > ")
}

// Confidence is the three-tier confidence level shared by resolutions and
// weight estimates.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank orders confidence levels; unknown values rank below low.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// AtLeast reports whether c meets the threshold min.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.Rank() >= min.Rank()
}

// ParseConfidence accepts high, medium, or low in any case.
func ParseConfidence(s string) (Confidence, error) {
	c := Confidence(strings.ToLower(strings.TrimSpace(s)))
	if c.Rank() == 0 {
		return "", fmt.Errorf("invalid confidence %q: want high, medium, or low", s)
	}
	return c, nil
}

// ResolutionEntry is the mapping of one internal category path to an
// external taxonomy id. A nil ExternalID means no confident match was found.
type ResolutionEntry struct {
	Path         CategoryPath `json:"path" yaml:"path"`
	ExternalID   *string      `json:"external_id" yaml:"external_id"`
	ExternalName string       `json:"external_name,omitempty" yaml:"external_name,omitempty"`
	Confidence   Confidence   `json:"confidence" yaml:"confidence"`
	Strategy     string       `json:"strategy" yaml:"strategy"`
	ResolvedAt   time.Time    `json:"resolved_at" yaml:"resolved_at"`
}

// Resolved reports whether the entry carries an external id.
func (e ResolutionEntry) Resolved() bool {
	return e.ExternalID != nil && *e.ExternalID != ""
}

// ID returns the external id or "" when unresolved.
func (e ResolutionEntry) ID() string {
	if e.ExternalID == nil {
		return ""
	}
	return *e.ExternalID
}
