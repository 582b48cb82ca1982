package lcd

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// feedAll feeds every byte and returns the completed events in order.
func feedAll(d *Decoder, b []byte) []Event {
	var out []Event
	for _, v := range b {
		if ev := d.Feed(v); ev.Completed() {
			out = append(out, ev)
		}
	}
	return out
}

var sampleFrame = []byte{0x01, 0x03, 0x02, 0x00, 0x00, 0xAB, 0x00, 0x64, 0x00, 0x32, 0xC8, 0x00, 0x00, 0x00, 0x35}

func TestDecodeSampleFrame(t *testing.T) {
	clk := newFakeClock()
	d := NewDecoder(WithClock(clk.Now))
	clk.Advance(250 * time.Millisecond)

	for i, b := range sampleFrame[:FrameSize-1] {
		ev := d.Feed(b)
		require.Equal(t, EventNone, ev.Kind, "byte %d", i)
		require.Equal(t, i+1, d.Cursor())
	}
	ev := d.Feed(sampleFrame[FrameSize-1])
	require.Equal(t, EventDecoded, ev.Kind)
	require.Nil(t, ev.Err)

	f := ev.Frame
	assert.EqualValues(t, 2, f.Sequence)
	assert.EqualValues(t, 0xAB, f.EntropyKey)
	assert.EqualValues(t, 0x64, f.PowerSetting)
	assert.EqualValues(t, 0x32, f.ConfigFlags)
	assert.EqualValues(t, 0xC8, f.BrakingLevel)
	assert.False(t, f.PedalAssist)
	assert.False(t, f.CruiseControl)
	assert.False(t, f.SoftStart)
	assert.Equal(t, 250*time.Millisecond, f.Interval)
	assert.Equal(t, sampleFrame, f.Raw[:])
	assert.Equal(t, clk.Now(), ev.At)

	assert.True(t, d.Synchronized())
	assert.Equal(t, 0, d.Cursor())
}

func TestZeroChecksumIsRejected(t *testing.T) {
	d := NewDecoder()
	// 01 ^ 03 ^ 02 == 0 and the rest is zero, so the transmitted 0 matches.
	frame := make([]byte, FrameSize)
	frame[0], frame[1], frame[2] = 0x01, 0x03, 0x02

	evs := feedAll(d, frame)
	require.Len(t, evs, 1)
	require.Equal(t, EventRejected, evs[0].Kind)
	assert.Equal(t, ReasonChecksumMismatch, evs[0].Err.Reason)
	assert.True(t, errors.Is(evs[0].Err, ErrChecksumMismatch))
	assert.EqualValues(t, 0, evs[0].Err.Calculated)
	assert.Equal(t, offChecksum, evs[0].Err.Offset)
}

func TestChecksumMismatch(t *testing.T) {
	d := NewDecoder()
	frame := append([]byte(nil), sampleFrame...)
	frame[14] ^= 0xFF

	evs := feedAll(d, frame)
	require.Len(t, evs, 1)
	require.Equal(t, EventRejected, evs[0].Kind)
	assert.ErrorIs(t, evs[0].Err, ErrChecksumMismatch)
	assert.EqualValues(t, 0x35, evs[0].Err.Calculated)
	assert.EqualValues(t, 0xCA, evs[0].Err.Checksum)
	assert.Contains(t, evs[0].Err.Error(), "parsed 0xca, calculated 0x35")
}

func TestFirstFrameSequenceEnforced(t *testing.T) {
	d := NewDecoder()

	bad := Encode(Fields{Sequence: 5, EntropyKey: 0xAB, PowerSetting: 0x64, ConfigFlags: 0x32, BrakingLevel: 0xC8})
	evs := feedAll(d, bad[:])

	// The frame ends at the sequence byte. None of the leftover bytes is
	// 0x01, so each is rejected on its own as a bad first prefix byte.
	require.Len(t, evs, 1+FrameSize-3)
	assert.Equal(t, ReasonUnexpectedInitialSequence, evs[0].Err.Reason)
	assert.ErrorIs(t, evs[0].Err, ErrUnexpectedInitialSequence)
	assert.Equal(t, offSequence, evs[0].Err.Offset)
	assert.EqualValues(t, 5, evs[0].Err.Got)
	for _, ev := range evs[1:] {
		require.Equal(t, EventRejected, ev.Kind)
		assert.Equal(t, ReasonPrefixMismatch, ev.Err.Reason)
		assert.Equal(t, 0, ev.Err.Offset)
	}
	assert.False(t, d.Synchronized())

	evs = feedAll(d, sampleFrame)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDecoded, evs[0].Kind)
	assert.True(t, d.Synchronized())
}

func TestSynchronizedAcceptsAnySequence(t *testing.T) {
	d := NewDecoder()
	require.Len(t, feedAll(d, sampleFrame), 1)

	for _, seq := range []uint8{255, 0, 2, 3, 17} {
		f := Encode(Fields{Sequence: seq, PowerSetting: 10})
		evs := feedAll(d, f[:])
		require.Len(t, evs, 1, "seq %d", seq)
		require.Equal(t, EventDecoded, evs[0].Kind, "seq %d", seq)
		assert.Equal(t, seq, evs[0].Frame.Sequence)
	}
}

func TestSyncSurvivesChecksumFailure(t *testing.T) {
	d := NewDecoder()
	frame := append([]byte(nil), sampleFrame...)
	frame[14] = 0x00

	evs := feedAll(d, frame)
	require.Len(t, evs, 1)
	assert.Equal(t, EventRejected, evs[0].Kind)
	assert.True(t, d.Synchronized(), "sync is decided at the sequence byte")

	f := Encode(Fields{Sequence: 9, PowerSetting: 1})
	evs = feedAll(d, f[:])
	require.Len(t, evs, 1)
	assert.Equal(t, EventDecoded, evs[0].Kind)
}

func TestPrefixMismatchEndsFrameEarly(t *testing.T) {
	d := NewDecoder()

	ev := d.Feed(0x01)
	require.False(t, ev.Completed())
	ev = d.Feed(0x7F)
	require.Equal(t, EventRejected, ev.Kind)
	assert.Equal(t, ReasonPrefixMismatch, ev.Err.Reason)
	assert.ErrorIs(t, ev.Err, ErrPrefixMismatch)
	assert.Equal(t, 1, ev.Err.Offset)
	assert.EqualValues(t, 0x7F, ev.Err.Got)
	assert.EqualValues(t, 0x01, ev.Err.Calculated, "failing byte is not accumulated")
	assert.Equal(t, 0, d.Cursor())

	evs := feedAll(d, sampleFrame)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDecoded, evs[0].Kind)
}

func TestStaleBytesAfterEarlyTermination(t *testing.T) {
	d := NewDecoder()
	require.Len(t, feedAll(d, sampleFrame), 1)

	ev := d.Feed(0x07)
	require.Equal(t, EventRejected, ev.Kind)

	raw := d.Raw()
	assert.EqualValues(t, 0x07, raw[0])
	assert.Equal(t, sampleFrame[1:], raw[1:])
	assert.Equal(t, raw, ev.Err.Raw)
}

func TestResetAfterEveryOutcome(t *testing.T) {
	d := NewDecoder()
	bad := append([]byte(nil), sampleFrame...)
	bad[7] = 0x65 // payload changed, checksum not

	stream := append(append(append([]byte{}, sampleFrame...), bad...), sampleFrame...)
	evs := feedAll(d, stream)
	require.Len(t, evs, 3)
	assert.Equal(t, EventDecoded, evs[0].Kind)
	assert.Equal(t, EventRejected, evs[1].Kind)
	assert.Equal(t, EventDecoded, evs[2].Kind)
	assert.Equal(t, evs[0].Frame.Raw, evs[2].Frame.Raw)
}

func TestIntervalSpansRejectedFrames(t *testing.T) {
	clk := newFakeClock()
	d := NewDecoder(WithClock(clk.Now))

	clk.Advance(100 * time.Millisecond)
	evs := feedAll(d, sampleFrame)
	require.Len(t, evs, 1)
	assert.Equal(t, 100*time.Millisecond, evs[0].Frame.Interval)

	clk.Advance(40 * time.Millisecond)
	ev := d.Feed(0x00)
	require.Equal(t, EventRejected, ev.Kind)
	assert.Equal(t, 40*time.Millisecond, ev.Err.Interval)

	clk.Advance(60 * time.Millisecond)
	evs = feedAll(d, sampleFrame)
	require.Len(t, evs, 1)
	assert.Equal(t, 60*time.Millisecond, evs[0].Frame.Interval)
}

func TestIntervalNeverNegative(t *testing.T) {
	clk := newFakeClock()
	d := NewDecoder(WithClock(clk.Now))

	clk.Advance(-time.Second)
	evs := feedAll(d, sampleFrame)
	require.Len(t, evs, 1)
	assert.Equal(t, time.Duration(0), evs[0].Frame.Interval)
}

func TestFlagsComeFromOffsetSix(t *testing.T) {
	d := NewDecoder()
	f := Encode(Fields{Sequence: 2, Flags: 0x0C, ConfigFlags: 0x02, PowerSetting: 3})

	evs := feedAll(d, f[:])
	require.Len(t, evs, 1)
	got := evs[0].Frame
	assert.False(t, got.PedalAssist)
	assert.True(t, got.CruiseControl)
	assert.True(t, got.SoftStart)
	assert.EqualValues(t, 0x02, got.ConfigFlags)
}

func TestEncodeChecksum(t *testing.T) {
	f := Encode(Fields{Sequence: 2, EntropyKey: 0xAB, PowerSetting: 0x64, ConfigFlags: 0x32, BrakingLevel: 0xC8})
	assert.Equal(t, sampleFrame, f[:])
	assert.Equal(t, "01 03 02 00 00 ab 00 64 00 32 c8 00 00 00 35", f.String())
}
