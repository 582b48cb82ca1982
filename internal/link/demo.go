package link

import (
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/lcdsniff/internal/lcd"
)

// DemoSource simulates the display's broadcast for development without
// hardware: a first frame with sequence 2, then an incrementing counter,
// power and EABS sweeping, flags toggling, and every corruptEvery-th frame
// sent with a broken checksum.
type DemoSource struct {
	period       time.Duration
	corruptEvery int

	mu      sync.Mutex
	rng     *rand.Rand
	t       float64 // virtual time accumulator
	seq     uint8
	count   int
	pending []byte
	closed  chan struct{}
}

// DemoConfig holds configuration for the demo source.
type DemoConfig struct {
	Period       time.Duration // gap between frames, 0 for as fast as possible
	CorruptEvery int           // 0 disables corruption
	Seed         int64
}

func NewDemoSource(cfg DemoConfig) *DemoSource {
	return &DemoSource{
		period:       cfg.Period,
		corruptEvery: cfg.CorruptEvery,
		rng:          rand.New(rand.NewSource(cfg.Seed)),
		seq:          lcd.InitialSequence,
		closed:       make(chan struct{}),
	}
}

func (d *DemoSource) Name() string   { return "demo (simulated display)" }
func (d *DemoSource) Connect() error { return nil }

func (d *DemoSource) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closed:
	default:
		close(d.closed)
	}
	return nil
}

func (d *DemoSource) ReadByte() (byte, error) {
	d.mu.Lock()
	empty := len(d.pending) == 0
	d.mu.Unlock()

	if empty {
		if d.period > 0 {
			select {
			case <-d.closed:
				return 0, io.EOF
			case <-time.After(d.period):
			}
		}
		d.mu.Lock()
		frame := d.next()
		d.pending = frame[:]
		d.mu.Unlock()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.closed:
		return 0, io.EOF
	default:
	}
	b := d.pending[0]
	d.pending = d.pending[1:]
	return b, nil
}

// next builds the following frame. Caller holds mu.
func (d *DemoSource) next() lcd.RawFrame {
	d.t += 0.1
	d.count++

	power := uint8(128 + 120*math.Sin(d.t*0.2))
	eabs := uint8(d.count/40) % 4

	var flags uint8
	if math.Sin(d.t*0.05) > 0 {
		flags |= 1 << lcd.FlagPedalAssist
	}
	if power > 200 {
		flags |= 1 << lcd.FlagCruiseControl
	}
	if d.count%50 < 25 {
		flags |= 1 << lcd.FlagSoftStart
	}

	fields := lcd.Fields{
		Sequence:     d.seq,
		EntropyKey:   uint8(d.rng.Intn(256)),
		Flags:        flags,
		PowerSetting: power,
		ConfigFlags:  flags,
		BrakingLevel: eabs,
	}
	f := lcd.Encode(fields)
	if f[lcd.FrameSize-1] == 0 {
		// a zero checksum is never accepted
		fields.EntropyKey ^= 0x80
		f = lcd.Encode(fields)
	}
	d.seq++

	if d.corruptEvery > 0 && d.count%d.corruptEvery == 0 {
		f[lcd.FrameSize-1] ^= 0x5A
	}
	return f
}
