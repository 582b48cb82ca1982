package link

import (
	"errors"
	"io"
)

// Source is the interface all byte sources must implement. The serial port
// is the real one; the demo and reader sources replay synthetic or captured
// streams through the same path.
type Source interface {
	// Name returns the human-readable name of this source.
	Name() string
	// Connect opens the underlying device.
	Connect() error
	// Close releases the device. It also unblocks a pending ReadByte.
	Close() error
	// ReadByte blocks for the next byte, up to the source's read timeout.
	// It returns ErrTimeout when nothing arrived in time and io.EOF when
	// the stream has ended.
	io.ByteReader
}

var (
	// ErrTimeout is returned by ReadByte when the link stayed silent for a
	// whole read timeout.
	ErrTimeout = errors.New("link: read timeout")
	// ErrNotConnected is returned by ReadByte before Connect succeeds.
	ErrNotConnected = errors.New("link: not connected")
)

// ReaderSource adapts an io.Reader, e.g. a captured dump, into a Source.
type ReaderSource struct {
	name string
	r    io.Reader
	buf  []byte
	pos  int
	n    int
}

// NewReaderSource wraps r. Reads are buffered in chunks of up to 64 bytes.
func NewReaderSource(name string, r io.Reader) *ReaderSource {
	return &ReaderSource{name: name, r: r, buf: make([]byte, 64)}
}

func (s *ReaderSource) Name() string   { return s.name }
func (s *ReaderSource) Connect() error { return nil }

func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *ReaderSource) ReadByte() (byte, error) {
	for s.pos >= s.n {
		n, err := s.r.Read(s.buf)
		s.pos, s.n = 0, n
		if n > 0 {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	b := s.buf[s.pos]
	s.pos++
	return b, nil
}
