package lcd

import (
	"errors"
	"fmt"
	"time"
)

// Frame layout of the display's periodic broadcast. Every field is a single
// byte so there is no byte order to worry about.
const (
	FrameSize = 15

	Magic0          = 0x01
	Magic1          = 0x03
	InitialSequence = 2 // sequence number of the first frame after power-up

	offMagic0       = 0
	offMagic1       = 1
	offSequence     = 2
	offEntropy      = 5
	offFlags        = 6
	offPowerSetting = 7
	offConfigFlags  = 9
	offBraking      = 10
	offChecksum     = 14
)

// Flag bit positions inside the flags byte (offset 6).
const (
	FlagPedalAssist   = 1
	FlagCruiseControl = 2
	FlagSoftStart     = 3
)

// RawFrame is one 15-byte protocol unit as it came off the wire.
type RawFrame [FrameSize]byte

// String renders the frame as space separated hex, e.g. "01 03 02 ...".
func (r RawFrame) String() string {
	return fmt.Sprintf("% x", r[:])
}

// DecodedFrame is an accepted frame unpacked into named fields.
type DecodedFrame struct {
	Sequence     uint8 `json:"sequence"`
	EntropyKey   uint8 `json:"entropyKey"`
	PowerSetting uint8 `json:"powerSetting"` // 0-255, commanded power level
	ConfigFlags  uint8 `json:"configFlags"`
	BrakingLevel uint8 `json:"brakingLevel"` // EABS

	// Flag bits are taken from offset 6, not from ConfigFlags.
	PedalAssist   bool `json:"pedalAssist"`
	CruiseControl bool `json:"cruiseControl"`
	SoftStart     bool `json:"softStart"`

	Interval time.Duration `json:"interval"` // since the previous completed frame
	Raw      RawFrame      `json:"-"`
}

// Reason identifies why a frame was rejected.
type Reason int

const (
	ReasonPrefixMismatch Reason = iota + 1
	ReasonUnexpectedInitialSequence
	ReasonChecksumMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonPrefixMismatch:
		return "prefix_mismatch"
	case ReasonUnexpectedInitialSequence:
		return "unexpected_initial_sequence"
	case ReasonChecksumMismatch:
		return "checksum_mismatch"
	default:
		return "unknown"
	}
}

var (
	ErrPrefixMismatch            = errors.New("lcd: prefix mismatch")
	ErrUnexpectedInitialSequence = errors.New("lcd: unexpected initial sequence")
	ErrChecksumMismatch          = errors.New("lcd: checksum mismatch")
)

// FrameError describes a rejected frame. Raw may contain stale bytes past
// Offset when the frame was cut short by a prefix or sequence failure.
type FrameError struct {
	Reason Reason
	// Offset is the position of the byte that ended the frame.
	Offset     int
	Got        uint8 // offending byte for prefix/sequence failures
	Checksum   uint8 // transmitted checksum (stale unless Offset == 14)
	Calculated uint8 // XOR accumulated before the frame ended
	Interval   time.Duration
	Raw        RawFrame
}

func (e *FrameError) Error() string {
	switch e.Reason {
	case ReasonPrefixMismatch:
		return fmt.Sprintf("lcd: unexpected byte 0x%02x at offset %d", e.Got, e.Offset)
	case ReasonUnexpectedInitialSequence:
		return fmt.Sprintf("lcd: unexpected sequence in first frame: %d (want %d)", e.Got, InitialSequence)
	case ReasonChecksumMismatch:
		return fmt.Sprintf("lcd: checksum mismatch: parsed 0x%02x, calculated 0x%02x", e.Checksum, e.Calculated)
	default:
		return "lcd: invalid frame"
	}
}

// Is lets errors.Is match a FrameError against the sentinel for its reason.
func (e *FrameError) Is(target error) bool {
	switch e.Reason {
	case ReasonPrefixMismatch:
		return target == ErrPrefixMismatch
	case ReasonUnexpectedInitialSequence:
		return target == ErrUnexpectedInitialSequence
	case ReasonChecksumMismatch:
		return target == ErrChecksumMismatch
	}
	return false
}

// EventKind tells which field of an Event is set.
type EventKind int

const (
	EventNone EventKind = iota
	EventDecoded
	EventRejected
)

// Event is the result of feeding one byte. Only frame completions produce a
// kind other than EventNone.
type Event struct {
	Kind  EventKind
	Frame *DecodedFrame
	Err   *FrameError
	At    time.Time // completion time
}

// Completed reports whether the event closes a frame.
func (e Event) Completed() bool { return e.Kind != EventNone }

// Raw returns the frame bytes carried by a completed event.
func (e Event) Raw() RawFrame {
	switch {
	case e.Frame != nil:
		return e.Frame.Raw
	case e.Err != nil:
		return e.Err.Raw
	}
	return RawFrame{}
}

// Fields are the values carried by a frame, used to build one with Encode.
type Fields struct {
	Sequence     uint8
	EntropyKey   uint8
	Flags        uint8 // offset 6
	PowerSetting uint8
	ConfigFlags  uint8
	BrakingLevel uint8
}

// Encode builds a well-formed frame carrying f, with the checksum filled in.
// Reserved bytes are zero.
func Encode(f Fields) RawFrame {
	var r RawFrame
	r[offMagic0] = Magic0
	r[offMagic1] = Magic1
	r[offSequence] = f.Sequence
	r[offEntropy] = f.EntropyKey
	r[offFlags] = f.Flags
	r[offPowerSetting] = f.PowerSetting
	r[offConfigFlags] = f.ConfigFlags
	r[offBraking] = f.BrakingLevel
	r[offChecksum] = Checksum(r[:offChecksum])
	return r
}

// Checksum is the XOR of b.
func Checksum(b []byte) uint8 {
	var sum uint8
	for _, v := range b {
		sum ^= v
	}
	return sum
}
