package schema

import "io"

// ChunkSource produces the byte chunks of one document. Next returns io.EOF
// when the source is exhausted. Chunk boundaries may fall anywhere,
// including mid-tag.
type ChunkSource interface {
	Next() ([]byte, error)
}

type sliceSource struct {
	chunks [][]byte
	pos    int
}

func (s *sliceSource) Next() ([]byte, error) {
	if s.pos >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// Chunks builds a ChunkSource from literal string chunks. Handy in tests and
// for documents already held in memory.
func Chunks(chunks ...string) ChunkSource {
	bs := make([][]byte, len(chunks))
	for i, c := range chunks {
		bs[i] = []byte(c)
	}
	return &sliceSource{chunks: bs}
}

// Bytes builds a single-chunk ChunkSource.
func Bytes(data []byte) ChunkSource {
	return &sliceSource{chunks: [][]byte{data}}
}

type readerSource struct {
	r    io.Reader
	size int
	done bool
}

func (s *readerSource) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	buf := make([]byte, s.size)
	n, err := s.r.Read(buf)
	if n > 0 {
		if err == io.EOF {
			s.done = true
		}
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	s.done = true
	if err != io.EOF {
		return nil, err
	}
	return nil, io.EOF
}

// ReaderSource adapts an io.Reader into a ChunkSource reading up to size
// bytes per chunk.
func ReaderSource(r io.Reader, size int) ChunkSource {
	if size <= 0 {
		size = 4096
	}
	return &readerSource{r: r, size: size}
}
