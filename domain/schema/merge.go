package schema

import (
	"reflect"
	"time"
)

// Equal reports field-by-field equality of two elements of the same type.
// Both sides are fully materialized first.
func Equal(a, b *Element) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.typ != b.typ {
		return false
	}
	a.pull(func() bool { return false })
	b.pull(func() bool { return false })
	if a.typ.ContentBinding() != nil && a.Content() != b.Content() {
		return false
	}
	for _, d := range a.typ.order {
		av, aok := a.fields[d.Name]
		bv, bok := b.fields[d.Name]
		if d.Kind == KindAttr {
			if !aok {
				av = d.Default
			}
			if !bok {
				bv = d.Default
			}
		}
		switch d.Kind {
		case KindChild:
			if d.Multiple {
				ac, _ := av.([]*Element)
				bc, _ := bv.([]*Element)
				if len(ac) != len(bc) {
					return false
				}
				for i := range ac {
					if !Equal(ac[i], bc[i]) {
						return false
					}
				}
			} else {
				ae, _ := av.(*Element)
				be, _ := bv.(*Element)
				if !Equal(ae, be) {
					return false
				}
			}
		default:
			if !valueEqual(av, bv) {
				return false
			}
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

// MergeElements structurally merges two elements of the same type, newer
// taking precedence field by field. Types may override the whole resolution
// via their Merge hook; otherwise repeated children are unioned by domain
// identity (EntityID) and matched pairs merge recursively. The merge is
// total: it always produces a result.
func MergeElements(newer, older *Element) *Element {
	if newer == nil {
		return older
	}
	if older == nil {
		return newer
	}
	if newer.typ != older.typ {
		return newer
	}
	if hook := newer.typ.merge; hook != nil {
		return hook(newer, older)
	}
	return MergeFields(newer, older)
}

// MergeFields is the default structural merge. Merge hooks that only adjust
// a few fields call it first and patch the result.
func MergeFields(newer, older *Element) *Element {
	newer.pull(func() bool { return false })
	older.pull(func() bool { return false })
	merged := NewElement(newer.typ)
	for _, d := range newer.typ.order {
		nv, nok := newer.fields[d.Name]
		ov, ook := older.fields[d.Name]
		switch {
		case d.Kind == KindChild && d.Multiple:
			nc, _ := nv.([]*Element)
			oc, _ := ov.([]*Element)
			if list := mergeChildLists(nc, oc); list != nil {
				for _, c := range list {
					c.parent = merged
				}
				merged.fields[d.Name] = list
			}
		case d.Kind == KindChild:
			ne, _ := nv.(*Element)
			oe, _ := ov.(*Element)
			if m := MergeElements(ne, oe); m != nil {
				m.parent = merged
				merged.fields[d.Name] = m
			}
		default:
			if nok {
				merged.fields[d.Name] = nv
			} else if ook {
				merged.fields[d.Name] = ov
			}
		}
	}
	if newer.typ.ContentBinding() != nil {
		if newer.content != nil {
			merged.content = newer.content
		} else {
			merged.content = older.content
		}
	}
	return merged
}

// mergeChildLists unions two repeated-child lists with set semantics:
// membership is domain identity, a child present on only one side is
// preserved, and matched pairs merge recursively with the newer side first.
func mergeChildLists(newer, older []*Element) []*Element {
	merged := make([]*Element, len(older))
	copy(merged, older)
	index := make(map[string]int, len(older))
	for i, c := range older {
		index[c.typ.EntityID(c)] = i
	}
	for _, nc := range newer {
		id := nc.typ.EntityID(nc)
		if i, ok := index[id]; ok && id != "" {
			oc := merged[i]
			merged = append(merged[:i], merged[i+1:]...)
			for k, j := range index {
				if j > i {
					index[k] = j - 1
				}
			}
			nc = MergeElements(nc, oc)
		}
		index[id] = len(merged)
		merged = append(merged, nc)
	}
	return merged
}
