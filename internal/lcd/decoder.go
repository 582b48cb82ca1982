package lcd

import "time"

// Decoder reassembles frames from the display's byte stream.
//
// The protocol has no delimiter besides the 01 03 prefix and the fixed
// length, so the decoder is a fixed window over a reused 15-byte buffer:
//
//	offset  0  1  2    3-4  5        6      7      8  9       10    11-13  14
//	        01 03 seq  --   entropy  flags  power  -- config  EABS  --     xor
//
// A prefix or first-frame sequence failure ends the frame at the offending
// byte and the next byte is read as offset 0 again. Bytes of the buffer past
// that point keep their values from an earlier frame until overwritten, so
// Raw() of a short frame shows stale data. Checksum accumulation also stops
// at the failing byte.
//
// TODO: confirm against a real display whether an invalid frame should
// instead run to its full 15 bytes before resynchronizing.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	raw    RawFrame
	cursor int
	sum    uint8 // XOR over offsets 0..13 while valid
	valid  bool
	reason Reason
	synced bool // first frame with sequence 2 seen
	timer  *timer
}

// Option configures a Decoder.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for interval measurement.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewDecoder returns a decoder awaiting its first frame. The interval of the
// first completed frame is measured from this call.
func NewDecoder(opts ...Option) *Decoder {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Decoder{valid: true, timer: newTimer(o.now)}
}

// Synchronized reports whether a first frame with the expected sequence
// number has been seen.
func (d *Decoder) Synchronized() bool { return d.synced }

// Cursor is the offset the next byte will be stored at.
func (d *Decoder) Cursor() int { return d.cursor }

// Raw returns a copy of the frame buffer.
func (d *Decoder) Raw() RawFrame { return d.raw }

// Feed consumes one byte. It returns an event with Kind EventNone until the
// byte completes a frame.
func (d *Decoder) Feed(b byte) Event {
	d.raw[d.cursor] = b

	switch d.cursor {
	case offMagic0:
		if b != Magic0 {
			d.invalidate(ReasonPrefixMismatch)
		}
	case offMagic1:
		if b != Magic1 {
			d.invalidate(ReasonPrefixMismatch)
		}
	case offSequence:
		if !d.synced && b != InitialSequence {
			d.invalidate(ReasonUnexpectedInitialSequence)
		} else {
			d.synced = true
		}
	}
	// Remaining offsets are only stored; fields are read back from raw at
	// completion.

	if d.cursor < offChecksum && d.valid {
		d.sum ^= b
		d.cursor++
		return Event{}
	}
	return d.complete()
}

func (d *Decoder) invalidate(r Reason) {
	d.valid = false
	d.reason = r
}

func (d *Decoder) complete() Event {
	at, interval := d.timer.mark()
	ev := Event{At: at}

	switch {
	case !d.valid:
		ev.Kind = EventRejected
		ev.Err = d.frameError(d.reason, interval)
	case d.sum == 0 || d.sum != d.raw[offChecksum]:
		// An all-zero XOR is far more likely a garbled frame than a real
		// checksum, so it is never accepted.
		ev.Kind = EventRejected
		ev.Err = d.frameError(ReasonChecksumMismatch, interval)
	default:
		flags := d.raw[offFlags]
		ev.Kind = EventDecoded
		ev.Frame = &DecodedFrame{
			Sequence:      d.raw[offSequence],
			EntropyKey:    d.raw[offEntropy],
			PowerSetting:  d.raw[offPowerSetting],
			ConfigFlags:   d.raw[offConfigFlags],
			BrakingLevel:  d.raw[offBraking],
			PedalAssist:   Flag(flags, FlagPedalAssist),
			CruiseControl: Flag(flags, FlagCruiseControl),
			SoftStart:     Flag(flags, FlagSoftStart),
			Interval:      interval,
			Raw:           d.raw,
		}
	}

	d.cursor = 0
	d.sum = 0
	d.valid = true
	d.reason = 0
	return ev
}

func (d *Decoder) frameError(r Reason, interval time.Duration) *FrameError {
	return &FrameError{
		Reason:     r,
		Offset:     d.cursor,
		Got:        d.raw[d.cursor],
		Checksum:   d.raw[offChecksum],
		Calculated: d.sum,
		Interval:   interval,
		Raw:        d.raw,
	}
}
