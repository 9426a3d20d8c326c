package stage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/feedvault/feedvault/domain/schema"
)

// Route declares where documents of one type live in the repository. A
// pattern is an ordered list of segments mixing literal text, free indices
// {0}..{9} bound by callers, and the {session} slot qualified per writer.
// Literal braces are escaped as {{ and }}.
type Route struct {
	Type    *schema.Type
	Pattern []string
}

// placeholder names a parameter slot inside one segment.
type placeholder struct {
	index   int  // free index number, or -1
	session bool // the {session} slot
}

var placeholderPattern = regexp.MustCompile(`\{\{|\}\}|\{(\d|session)\}`)

// parseSegment splits a pattern segment into literal runs and placeholders.
// A nil placeholder entry means the run at the same position is literal.
func parseSegment(seg string) (literals []string, holes []placeholder, err error) {
	last := 0
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(seg, -1) {
		lit := seg[last:m[0]]
		token := seg[m[0]:m[1]]
		switch token {
		case "{{":
			last = m[1]
			literals = append(literals, lit+"{")
			holes = append(holes, placeholder{index: -1})
			continue
		case "}}":
			last = m[1]
			literals = append(literals, lit+"}")
			holes = append(holes, placeholder{index: -1})
			continue
		}
		param := seg[m[2]:m[3]]
		literals = append(literals, lit)
		if param == "session" {
			holes = append(holes, placeholder{index: -1, session: true})
		} else {
			n, _ := strconv.Atoi(param)
			holes = append(holes, placeholder{index: n})
		}
		last = m[1]
	}
	literals = append(literals, seg[last:])
	holes = append(holes, placeholder{index: -1})
	return literals, holes, nil
}

// expandSegment substitutes bound indices and the session identifier.
// It fails when the segment still contains an unbound index.
func expandSegment(seg string, indices []string, sessionID string) (string, error) {
	literals, holes, err := parseSegment(seg)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, lit := range literals {
		b.WriteString(lit)
		h := holes[i]
		switch {
		case h.session:
			b.WriteString(sessionID)
		case h.index >= 0:
			if h.index >= len(indices) {
				return "", fmt.Errorf("stage: segment %q: index {%d} is unbound", seg, h.index)
			}
			b.WriteString(indices[h.index])
		}
	}
	return b.String(), nil
}

// segmentMatcher matches repository entries against one pattern segment and
// extracts the parameter values, compiled once per segment.
type segmentMatcher struct {
	re    *regexp.Regexp
	holes []placeholder // only parameter holes, in group order
}

// compileSegment builds the matcher for a segment: literal runs are quoted,
// each parameter becomes a non-greedy capture group.
func compileSegment(seg string) (*segmentMatcher, error) {
	literals, holes, err := parseSegment(seg)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("^")
	m := &segmentMatcher{}
	for i, lit := range literals {
		b.WriteString(regexp.QuoteMeta(lit))
		h := holes[i]
		if h.session || h.index >= 0 {
			b.WriteString("(.*?)")
			m.holes = append(m.holes, h)
		}
	}
	b.WriteString("$")
	m.re, err = regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return m, nil
}

// match extracts parameter values from an entry; ok is false when the entry
// does not fit the segment.
func (m *segmentMatcher) match(entry string) (values []string, ok bool) {
	groups := m.re.FindStringSubmatch(entry)
	if groups == nil {
		return nil, false
	}
	return groups[1:], true
}

// indexValue extracts the value bound to one free index, when present.
func (m *segmentMatcher) indexValue(entry string, index int) (string, bool) {
	values, ok := m.match(entry)
	if !ok {
		return "", false
	}
	for i, h := range m.holes {
		if h.index == index {
			return values[i], true
		}
	}
	return "", false
}

// freeIndices returns the distinct free index numbers of the route, sorted.
func (r Route) freeIndices() []int {
	seen := map[int]bool{}
	for _, seg := range r.Pattern {
		_, holes, _ := parseSegment(seg)
		for _, h := range holes {
			if h.index >= 0 {
				seen[h.index] = true
			}
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// resolve expands every segment into a concrete repository key.
func (r Route) resolve(indices []string, sessionID string) ([]string, error) {
	key := make([]string, len(r.Pattern))
	for i, seg := range r.Pattern {
		expanded, err := expandSegment(seg, indices, sessionID)
		if err != nil {
			return nil, err
		}
		key[i] = expanded
	}
	return key, nil
}

// Directory is the lazy indexed view a route resolves to while free indices
// remain unbound. It lists, reads, and writes documents one more index at a
// time.
type Directory struct {
	stage *Stage
	route Route
	bound []string
}

// Directory opens a view over a route with the given leading indices bound.
func (s *Stage) Directory(r Route, bound ...string) *Directory {
	return &Directory{stage: s, route: r, bound: bound}
}

// nextSegment locates the pattern segment carrying the next unbound index.
func (d *Directory) nextSegment() (pos int, index int, err error) {
	index = len(d.bound)
	for i, seg := range d.route.Pattern {
		_, holes, _ := parseSegment(seg)
		for _, h := range holes {
			if h.index == index {
				return i, index, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("stage: route has no unbound index beyond %d", index-1)
}

// Keys lists the distinct values of the next unbound index present in the
// repository. A missing parent key lists as empty: absence means an empty
// directory, not an error.
func (d *Directory) Keys(ctx context.Context) ([]string, error) {
	pos, index, err := d.nextSegment()
	if err != nil {
		return nil, err
	}
	prefix := make([]string, pos)
	for i := 0; i < pos; i++ {
		prefix[i], err = expandSegment(d.route.Pattern[i], d.bound, d.stage.session.Identifier())
		if err != nil {
			return nil, err
		}
	}
	entries, err := d.stage.list(ctx, prefix)
	if err != nil {
		return nil, err
	}
	matcher, err := compileSegment(d.route.Pattern[pos])
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var keys []string
	for _, entry := range entries {
		if v, ok := matcher.indexValue(entry, index); ok && !seen[v] {
			seen[v] = true
			keys = append(keys, v)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Sub binds one more index and returns the nested view.
func (d *Directory) Sub(index string) *Directory {
	bound := append(append([]string(nil), d.bound...), index)
	return &Directory{stage: d.stage, route: d.route, bound: bound}
}

// Get binds one more index and reads the document, which requires that no
// further indices remain free.
func (d *Directory) Get(ctx context.Context, index string) (*schema.Element, error) {
	bound := append(append([]string(nil), d.bound...), index)
	return d.stage.Read(ctx, d.route, bound...)
}

// Put binds one more index and writes the document at the fully-bound key.
func (d *Directory) Put(ctx context.Context, index string, doc *schema.Element) error {
	bound := append(append([]string(nil), d.bound...), index)
	return d.stage.Write(ctx, d.route, doc, bound...)
}
