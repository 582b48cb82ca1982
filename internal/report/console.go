package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/shaunagostinho/lcdsniff/internal/lcd"
)

// Console prints every completed frame in the same line-oriented form the
// bench listener has always used: the raw bytes, then either the decoded values or
// the reason the frame was dropped.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	showRaw bool
	enabled bool
}

// Config holds console reporter configuration.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Raw     bool `yaml:"raw" json:"raw"` // print the raw frame line
}

// New creates a console reporter writing to w.
func New(w io.Writer, cfg Config) *Console {
	return &Console{w: w, showRaw: cfg.Raw, enabled: cfg.Enabled}
}

// SetEnabled allows toggling output at runtime.
func (c *Console) SetEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = on
}

// IsEnabled returns whether output is active.
func (c *Console) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Emit writes one completed frame.
func (c *Console) Emit(ev lcd.Event) {
	if !ev.Completed() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}

	if c.showRaw {
		fmt.Fprintf(c.w, "Raw frame:  %s\n", ev.Raw())
	}
	if ev.Err != nil {
		c.writeRejected(ev.Err)
		return
	}
	c.writeDecoded(ev.Frame)
}

func (c *Console) writeRejected(e *lcd.FrameError) {
	switch e.Reason {
	case lcd.ReasonPrefixMismatch:
		fmt.Fprintf(c.w, "Unexpected byte at offset %d: 0x%02x\n", e.Offset, e.Got)
	case lcd.ReasonUnexpectedInitialSequence:
		fmt.Fprintf(c.w, "Got unexpected sequence in first frame: %d\n", e.Got)
	default:
		fmt.Fprintln(c.w, "Checksums don't match:")
		fmt.Fprintf(c.w, "Parsed checksum: %d\n", e.Checksum)
		fmt.Fprintf(c.w, "Calculated checksum: %d\n", e.Calculated)
	}
}

func (c *Console) writeDecoded(f *lcd.DecodedFrame) {
	fmt.Fprintf(c.w, "Time lapse: %v; Seq: %d; PAS: %s; Cruise Ctl: %s; Soft start: %s; Power limit: %d; EABS: %d\n",
		f.Interval, f.Sequence,
		boolStr(f.PedalAssist), boolStr(f.CruiseControl), boolStr(f.SoftStart),
		f.PowerSetting, f.BrakingLevel)
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
