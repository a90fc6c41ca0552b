// Package flavor implements Conary's flavor specification language: build
// variations like toolchain, optional features, and architecture, in the
// original Conary syntax "[ssl, !debug, ~vmware, ~!xen, is: x86_64]".
package flavor

import (
	"fmt"
	"sort"
	"strings"
)

// Op is a flavor item's operator.
type Op int

const (
	// Required: the system must have this feature (no prefix).
	Required Op = iota
	// Not: the system must NOT have this feature (! prefix).
	Not
	// Prefers: soft preference, scores higher if present (~ prefix).
	Prefers
	// PrefersNot: soft preference, scores higher if absent (~! prefix).
	PrefersNot
)

// Prefix returns the syntax prefix for op.
func (op Op) Prefix() string {
	switch op {
	case Not:
		return "!"
	case Prefers:
		return "~"
	case PrefersNot:
		return "~!"
	default:
		return ""
	}
}

// ParseOpWithName splits a flavor item string into its operator and bare
// feature name. Longer operators are checked first so "~!x" is not
// misparsed as Prefers with name "!x".
func ParseOpWithName(s string) (Op, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, "", fmt.Errorf("empty flavor item")
	}

	switch {
	case strings.HasPrefix(s, "~!"):
		name := strings.TrimSpace(s[2:])
		if name == "" {
			return 0, "", fmt.Errorf("missing name after ~! operator")
		}
		return PrefersNot, name, nil
	case strings.HasPrefix(s, "~"):
		name := strings.TrimSpace(s[1:])
		if name == "" {
			return 0, "", fmt.Errorf("missing name after ~ operator")
		}
		return Prefers, name, nil
	case strings.HasPrefix(s, "!"):
		name := strings.TrimSpace(s[1:])
		if name == "" {
			return 0, "", fmt.Errorf("missing name after ! operator")
		}
		return Not, name, nil
	default:
		return Required, s, nil
	}
}

// Item is a single flavor element, e.g. "!debug" or "~vmware".
type Item struct {
	Op   Op
	Name string
}

// ParseItem parses one flavor item.
func ParseItem(s string) (Item, error) {
	op, name, err := ParseOpWithName(s)
	if err != nil {
		return Item{}, err
	}
	return Item{Op: op, Name: name}, nil
}

func (it Item) String() string { return it.Op.Prefix() + it.Name }

// ArchSpec is the "is: x86 x86_64" architecture filter.
type ArchSpec struct {
	Architectures []string
}

// Contains reports whether arch is among the spec's architectures.
func (a ArchSpec) Contains(arch string) bool {
	for _, x := range a.Architectures {
		if x == arch {
			return true
		}
	}
	return false
}

func (a ArchSpec) String() string {
	return "is: " + strings.Join(a.Architectures, " ")
}

// Spec is a complete flavor specification, e.g. "[ssl, !debug, is: x86_64]".
type Spec struct {
	Items []Item
	Arch  *ArchSpec
}

// Empty returns the empty flavor spec (matches anything, scores 0).
func Empty() Spec { return Spec{} }

// New builds a Spec and canonicalizes it.
func New(items []Item, arch *ArchSpec) Spec {
	s := Spec{Items: items, Arch: arch}
	s.Canonicalize()
	return s
}

// IsEmpty reports whether the spec has no items and no architecture filter.
func (s Spec) IsEmpty() bool {
	return len(s.Items) == 0 && s.Arch == nil
}

// Canonicalize sorts items by name and sorts+dedupes architectures, so two
// specs built from differently-ordered input compare and store identically.
// Must be called before persisting a spec.
func (s *Spec) Canonicalize() {
	sort.Slice(s.Items, func(i, j int) bool { return s.Items[i].Name < s.Items[j].Name })

	if s.Arch != nil {
		archs := append([]string(nil), s.Arch.Architectures...)
		sort.Strings(archs)
		archs = dedupeSorted(archs)
		s.Arch.Architectures = archs
	}
}

func dedupeSorted(s []string) []string {
	if len(s) == 0 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// Parse parses a flavor specification, with or without the enclosing
// brackets: "[ssl, !debug, is: x86_64]", "ssl, !debug", "[]", or
// "[is: x86 x86_64]".
func Parse(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Empty(), nil
	}

	inner := s
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		inner = s[1 : len(s)-1]
	}
	inner = strings.TrimSpace(inner)
	if inner == "" {
		return Empty(), nil
	}

	var items []Item
	var arch *ArchSpec

	remaining := inner
	for remaining != "" {
		remaining = strings.TrimSpace(remaining)
		if remaining == "" {
			break
		}

		if strings.HasPrefix(remaining, "is:") {
			end := strings.IndexByte(remaining, ',')
			if end < 0 {
				end = len(remaining)
			}
			archStr := strings.TrimSpace(remaining[3:end])
			archs := strings.Fields(archStr)
			if len(archs) == 0 {
				return Spec{}, fmt.Errorf("empty architecture specification after 'is:'")
			}
			arch = &ArchSpec{Architectures: archs}

			if end < len(remaining) {
				remaining = remaining[end+1:]
			} else {
				break
			}
			continue
		}

		end := strings.IndexByte(remaining, ',')
		if end < 0 {
			end = len(remaining)
		}
		itemStr := strings.TrimSpace(remaining[:end])
		if itemStr != "" {
			item, err := ParseItem(itemStr)
			if err != nil {
				return Spec{}, err
			}
			items = append(items, item)
		}

		if end < len(remaining) {
			remaining = remaining[end+1:]
		} else {
			break
		}
	}

	spec := Spec{Items: items, Arch: arch}
	spec.Canonicalize()
	return spec, nil
}

// System describes the flavor capabilities of the target system a candidate
// trove is being matched against.
type System struct {
	Features     map[string]struct{}
	Architecture string
}

// NewSystem creates a System with no features set.
func NewSystem(architecture string) System {
	return System{Features: map[string]struct{}{}, Architecture: architecture}
}

// WithFeature returns a copy of sys with feature added.
func (sys System) WithFeature(feature string) System {
	next := System{Features: make(map[string]struct{}, len(sys.Features)+1), Architecture: sys.Architecture}
	for f := range sys.Features {
		next.Features[f] = struct{}{}
	}
	next.Features[feature] = struct{}{}
	return next
}

// WithFeatures returns a copy of sys with all of features added.
func (sys System) WithFeatures(features ...string) System {
	next := sys
	for _, f := range features {
		next = next.WithFeature(f)
	}
	return next
}

func (sys System) has(feature string) bool {
	_, ok := sys.Features[feature]
	return ok
}

// Matches reports whether the spec is satisfiable on sys, and a score used
// to rank candidates that all match (higher is a better fit). Architecture
// and Required/Not items are hard filters (mismatch returns matches=false);
// Prefers/PrefersNot items only ever add to the score.
func (s Spec) Matches(sys System) (matches bool, score int) {
	if s.Arch != nil {
		if !s.Arch.Contains(sys.Architecture) {
			return false, 0
		}
		score += 10
	}

	for _, item := range s.Items {
		systemHas := sys.has(item.Name)
		switch item.Op {
		case Required:
			if !systemHas {
				return false, 0
			}
			score += 10
		case Not:
			if systemHas {
				return false, 0
			}
			score += 10
		case Prefers:
			if systemHas {
				score += 5
			}
		case PrefersNot:
			if !systemHas {
				score += 5
			}
		}
	}

	return true, score
}

// SelectBest returns the item among candidates whose Spec matches sys with
// the highest score, or ok=false if none match.
func SelectBest[T any](candidates []Candidate[T], sys System) (best T, ok bool) {
	bestScore := -1
	for _, c := range candidates {
		matches, score := c.Spec.Matches(sys)
		if !matches {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = c.Value
			ok = true
		}
	}
	return best, ok
}

// Candidate pairs a flavor Spec with the value it describes, for SelectBest.
type Candidate[T any] struct {
	Spec  Spec
	Value T
}

func (s Spec) String() string {
	if s.IsEmpty() {
		return ""
	}
	parts := make([]string, 0, len(s.Items)+1)
	for _, item := range s.Items {
		parts = append(parts, item.String())
	}
	if s.Arch != nil {
		parts = append(parts, s.Arch.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
