package schema

import (
	"errors"
	"io"
)

// rootAttrSink captures the first start element and stops.
type rootAttrSink struct {
	name  Name
	attrs map[Name]string
	done  bool
}

func (s *rootAttrSink) startElement(n Name, attrs []attrPair) error {
	if s.done {
		return nil
	}
	s.name = n
	s.attrs = make(map[Name]string, len(attrs))
	for _, a := range attrs {
		s.attrs[a.name] = a.value
	}
	s.done = true
	return nil
}

func (s *rootAttrSink) charData(string) error { return nil }
func (s *rootAttrSink) endElement(Name) error { return nil }

// RootAttrs reads only the head of a document: it consumes chunks until the
// root start tag is observed and returns its name and raw attributes. The
// source is deliberately left unconsumed past that point, so revision stamps
// can be inspected without parsing whole documents.
func RootAttrs(src ChunkSource) (Name, map[Name]string, error) {
	sink := &rootAttrSink{}
	tok := newTokenizer(sink)
	for !sink.done {
		chunk, err := src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Name{}, nil, syntaxErrorf(Name{}, "document has no root element")
			}
			return Name{}, nil, err
		}
		if err := tok.feed(chunk); err != nil {
			return Name{}, nil, err
		}
	}
	return sink.name, sink.attrs, nil
}
