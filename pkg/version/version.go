// Package version implements RPM-style version parsing and comparison
// (epoch:version-release) and the constraint language the resolver uses to
// evaluate whether a candidate trove satisfies a dependency.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// RPMVersion is a parsed [epoch:]version[-release] string.
//
// Examples:
//   - "1.2.3"        -> epoch=0, version="1.2.3", release=""
//   - "2:1.2.3"      -> epoch=2, version="1.2.3", release=""
//   - "1.2.3-4.el8"  -> epoch=0, version="1.2.3", release="4.el8"
//   - "1:2.3.4-5.el8" -> epoch=1, version="2.3.4", release="5.el8"
type RPMVersion struct {
	Epoch   uint64
	Version string
	// Release is empty when the string had no "-release" suffix. Use
	// HasRelease to distinguish that from an explicit empty release.
	Release    string
	HasRelease bool
}

// Parse parses an RPM-style version string.
func Parse(s string) (RPMVersion, error) {
	epochStr, rest, hasColon := strings.Cut(s, ":")
	if !hasColon {
		rest = s
		epochStr = "0"
	}

	var epoch uint64
	if epochStr != "" {
		e, err := strconv.ParseUint(epochStr, 10, 64)
		if err != nil {
			return RPMVersion{}, fmt.Errorf("invalid epoch in version %q: %w", s, err)
		}
		epoch = e
	}

	v, release, hasRelease := strings.Cut(rest, "-")
	if v == "" {
		return RPMVersion{}, fmt.Errorf("empty version component in %q", s)
	}

	return RPMVersion{Epoch: epoch, Version: v, Release: release, HasRelease: hasRelease}, nil
}

// MustParse is Parse but panics on error; for constants in tests/config.
func MustParse(s string) RPMVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v RPMVersion) String() string {
	var b strings.Builder
	if v.Epoch > 0 {
		fmt.Fprintf(&b, "%d:", v.Epoch)
	}
	b.WriteString(v.Version)
	if v.HasRelease {
		b.WriteByte('-')
		b.WriteString(v.Release)
	}
	return b.String()
}

// semverTriple extracts a best-effort (major, minor, patch) from a
// dot-separated version string. Missing components default to 0, matching
// the fallback behavior for version strings that are not semver-compliant.
func semverTriple(s string) (major, minor, patch uint64) {
	parts := strings.Split(s, ".")
	get := func(i int) uint64 {
		if i >= len(parts) {
			return 0
		}
		n, err := strconv.ParseUint(parts[i], 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return get(0), get(1), get(2)
}

func compareTriple(a, b RPMVersion) int {
	aMaj, aMin, aPat := semverTriple(a.Version)
	bMaj, bMin, bPat := semverTriple(b.Version)
	if aMaj != bMaj {
		return cmpUint(aMaj, bMaj)
	}
	if aMin != bMin {
		return cmpUint(aMin, bMin)
	}
	if aPat != bPat {
		return cmpUint(aPat, bPat)
	}
	return 0
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Compare orders two versions: epoch, then numeric version triple (falling
// back to a 0-for-missing/unparseable componentwise comparison), then
// release string lexicographically.
func (v RPMVersion) Compare(other RPMVersion) int {
	if v.Epoch != other.Epoch {
		return cmpUint(v.Epoch, other.Epoch)
	}
	if c := compareTriple(v, other); c != 0 {
		return c
	}
	// Numeric triples tied; fall back to a raw string compare of the
	// version text itself so non-numeric suffixes ("1.2.3a" vs "1.2.3b")
	// still order deterministically.
	if v.Version != other.Version {
		return strings.Compare(v.Version, other.Version)
	}
	return strings.Compare(v.Release, other.Release)
}

func (v RPMVersion) Equal(other RPMVersion) bool { return v.Compare(other) == 0 }
func (v RPMVersion) Less(other RPMVersion) bool  { return v.Compare(other) < 0 }

// Constraint is a version requirement a candidate trove must satisfy.
type Constraint struct {
	op    constraintOp
	value RPMVersion
	left  *Constraint
	right *Constraint
}

type constraintOp int

const (
	opAny constraintOp = iota
	opExact
	opGreaterThan
	opGreaterOrEqual
	opLessThan
	opLessOrEqual
	opNotEqual
	opAnd
)

// Any matches every version.
var Any = Constraint{op: opAny}

// ParseConstraint parses a version constraint string: "", "*", "= V",
// "> V", ">= V", "< V", "<= V", "!= V", a bare "V" (exact match), or a
// two-part conjunction "C1, C2" (e.g. ">= 1.0, < 2.0").
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return Any, nil
	}

	if strings.Contains(s, ",") {
		parts := strings.SplitN(s, ",", 2)
		if len(parts) == 2 {
			left, err := ParseConstraint(parts[0])
			if err != nil {
				return Constraint{}, err
			}
			right, err := ParseConstraint(parts[1])
			if err != nil {
				return Constraint{}, err
			}
			return Constraint{op: opAnd, left: &left, right: &right}, nil
		}
	}

	parse := func(op constraintOp, rest string) (Constraint, error) {
		v, err := Parse(strings.TrimSpace(rest))
		if err != nil {
			return Constraint{}, err
		}
		return Constraint{op: op, value: v}, nil
	}

	switch {
	case strings.HasPrefix(s, ">="):
		return parse(opGreaterOrEqual, s[2:])
	case strings.HasPrefix(s, "<="):
		return parse(opLessOrEqual, s[2:])
	case strings.HasPrefix(s, "!="):
		return parse(opNotEqual, s[2:])
	case strings.HasPrefix(s, ">"):
		return parse(opGreaterThan, s[1:])
	case strings.HasPrefix(s, "<"):
		return parse(opLessThan, s[1:])
	case strings.HasPrefix(s, "="):
		return parse(opExact, s[1:])
	default:
		return parse(opExact, s)
	}
}

// Satisfies reports whether v meets the constraint.
func (c Constraint) Satisfies(v RPMVersion) bool {
	switch c.op {
	case opAny:
		return true
	case opExact:
		return v.Equal(c.value)
	case opGreaterThan:
		return v.Compare(c.value) > 0
	case opGreaterOrEqual:
		return v.Compare(c.value) >= 0
	case opLessThan:
		return v.Compare(c.value) < 0
	case opLessOrEqual:
		return v.Compare(c.value) <= 0
	case opNotEqual:
		return !v.Equal(c.value)
	case opAnd:
		return c.left.Satisfies(v) && c.right.Satisfies(v)
	default:
		return false
	}
}

// IsCompatibleWith is a conservative check for whether two constraints could
// both be satisfied by some version. Any version is compatible with
// anything; two Exact constraints are compatible only if equal; anything
// else is assumed compatible (a full range-intersection check is not worth
// the complexity the resolver would need to carry this far).
func (c Constraint) IsCompatibleWith(other Constraint) bool {
	if c.op == opAny || other.op == opAny {
		return true
	}
	if c.op == opExact && other.op == opExact {
		return c.value.Equal(other.value)
	}
	return true
}

func (c Constraint) String() string {
	switch c.op {
	case opAny:
		return "*"
	case opExact:
		return "= " + c.value.String()
	case opGreaterThan:
		return "> " + c.value.String()
	case opGreaterOrEqual:
		return ">= " + c.value.String()
	case opLessThan:
		return "< " + c.value.String()
	case opLessOrEqual:
		return "<= " + c.value.String()
	case opNotEqual:
		return "!= " + c.value.String()
	case opAnd:
		return c.left.String() + ", " + c.right.String()
	default:
		return ""
	}
}
