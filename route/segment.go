// Package route is the ordered route matcher from spec §4.4: it matches
// an incoming request against an ordered list of patterns (method, path
// segments with wildcards and captures, query predicates, header
// predicates, an optional body predicate) and returns the first one whose
// handler does not decline with ErrUnhandled.
//
// Grounded on the teacher's highlevel/server.go findHandler/pattern
// approach (sequential scan, first match wins, named parameters) but
// generalized from regexp-compiled patterns to the explicit
// segment/wildcard/capture model spec §3 requires, the way
// searchktools-fast-server/core/router/radix.go splits path segments into
// literal/wildcard/param nodes.
package route

import "strings"

// SegmentKind classifies one path segment of a compiled Route.
type SegmentKind int

const (
	SegmentLiteral SegmentKind = iota
	SegmentWildcardOne
	SegmentWildcardRest
	SegmentCapture
)

// Segment is one path element of a parsed route pattern.
type Segment struct {
	Kind    SegmentKind
	Literal string // for SegmentLiteral
	Name    string // for SegmentCapture
}

// ParsePath splits a route pattern's path into Segments. A bare "*" is a
// SegmentWildcardRest only when it is the final segment of the pattern
// (spec §8: "Trailing wildcard /hello/* matches /hello/a/b/c"); everywhere
// else it matches exactly one segment (spec §8: "/hello/*/world matches
// /hello/fish/world, does not match /hello/fish/sea"). A ":name" segment
// is a capture, the convention the teacher's server.go uses for named
// parameters.
func ParsePath(pattern string) []Segment {
	pattern = strings.TrimPrefix(pattern, "/")
	if pattern == "" {
		return nil
	}
	parts := strings.Split(pattern, "/")
	segs := make([]Segment, len(parts))
	for i, p := range parts {
		last := i == len(parts)-1
		switch {
		case p == "*" && last:
			segs[i] = Segment{Kind: SegmentWildcardRest}
		case p == "*":
			segs[i] = Segment{Kind: SegmentWildcardOne}
		case strings.HasPrefix(p, ":") && len(p) > 1:
			segs[i] = Segment{Kind: SegmentCapture, Name: p[1:]}
		default:
			segs[i] = Segment{Kind: SegmentLiteral, Literal: p}
		}
	}
	return segs
}

// MatchPath checks requestPath's segments against pattern segments,
// returning the captured name->value bindings on success.
func MatchPath(segs []Segment, requestPath string) (map[string]string, bool) {
	requestPath = strings.TrimPrefix(requestPath, "/")
	var parts []string
	if requestPath != "" {
		parts = strings.Split(requestPath, "/")
	}

	var captures map[string]string
	pi := 0
	for _, seg := range segs {
		switch seg.Kind {
		case SegmentWildcardRest:
			return captures, true // matches zero or more remaining segments; must be final (enforced by ParsePath)
		case SegmentWildcardOne:
			if pi >= len(parts) {
				return nil, false
			}
			pi++
		case SegmentCapture:
			if pi >= len(parts) {
				return nil, false
			}
			if captures == nil {
				captures = make(map[string]string)
			}
			captures[seg.Name] = parts[pi]
			pi++
		case SegmentLiteral:
			if pi >= len(parts) || parts[pi] != seg.Literal {
				return nil, false
			}
			pi++
		}
	}
	if pi != len(parts) {
		return nil, false
	}
	return captures, true
}
