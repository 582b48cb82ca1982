package link

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate is the rate the display broadcasts at.
	DefaultBaudRate = 1200
	// DefaultReadTimeout is how long the link may stay silent before a read
	// gives up. The display sends several frames per second.
	DefaultReadTimeout = 30 * time.Second
)

// SerialConfig holds connection configuration for the serial source.
type SerialConfig struct {
	PortPath    string        `yaml:"port_path" json:"portPath"`
	BaudRate    int           `yaml:"baud_rate" json:"baudRate"`
	ReadTimeout time.Duration `yaml:"read_timeout" json:"readTimeout"`
}

// port is the part of serial.Port the source uses.
type port interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

type openFunc func(path string, mode *serial.Mode) (port, error)

func openSerial(path string, mode *serial.Mode) (port, error) {
	return serial.Open(path, mode)
}

// SerialSource reads the display's UART line, listening only. The display
// never expects a reply.
type SerialSource struct {
	portPath    string
	baudRate    int
	readTimeout time.Duration
	open        openFunc
	log         *zap.Logger

	mu   sync.Mutex
	port port

	buf []byte
	pos int
	n   int
}

// NewSerial creates a new serial source. Zero values take the defaults.
func NewSerial(cfg SerialConfig, log *zap.Logger) *SerialSource {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SerialSource{
		portPath:    cfg.PortPath,
		baudRate:    cfg.BaudRate,
		readTimeout: cfg.ReadTimeout,
		open:        openSerial,
		log:         log,
		buf:         make([]byte, 64),
	}
}

func (s *SerialSource) Name() string { return "serial " + s.portPath }

// Connect opens the port 8N1 and drops anything buffered before the open,
// so decoding starts on fresh bytes.
func (s *SerialSource) Connect() error {
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := s.open(s.portPath, mode)
	if err != nil {
		return fmt.Errorf("serial: failed to open %s: %w", s.portPath, err)
	}
	if err := p.SetReadTimeout(s.readTimeout); err != nil {
		p.Close()
		return fmt.Errorf("serial: failed to set timeout: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		s.log.Warn("reset input buffer failed", zap.String("port", s.portPath), zap.Error(err))
	}

	s.mu.Lock()
	s.port = p
	s.pos, s.n = 0, 0
	s.mu.Unlock()

	s.log.Info("serial connected",
		zap.String("port", s.portPath),
		zap.Int("baud", s.baudRate),
		zap.Duration("read_timeout", s.readTimeout))
	return nil
}

func (s *SerialSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}

// ReadByte returns the next byte from the line. Bytes are read in chunks
// and handed out one at a time. A read that returns nothing within the read
// timeout is reported as ErrTimeout.
func (s *SerialSource) ReadByte() (byte, error) {
	if s.pos < s.n {
		b := s.buf[s.pos]
		s.pos++
		return b, nil
	}

	s.mu.Lock()
	p := s.port
	s.mu.Unlock()
	if p == nil {
		return 0, ErrNotConnected
	}

	n, err := p.Read(s.buf)
	if n == 0 {
		if err != nil {
			return 0, fmt.Errorf("serial: read %s: %w", s.portPath, err)
		}
		return 0, ErrTimeout
	}
	s.pos, s.n = 1, n
	return s.buf[0], nil
}
