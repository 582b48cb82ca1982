package link

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shaunagostinho/lcdsniff/internal/lcd"
)

// Sink consumes completed frame events. Emit is called from the pump
// goroutine and must not block for long.
type Sink interface {
	Emit(ev lcd.Event)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ev lcd.Event)

func (f SinkFunc) Emit(ev lcd.Event) { f(ev) }

// Pump moves bytes from a Source through a Decoder and hands every completed
// frame to the sinks. The decoder is owned by the pump goroutine.
type Pump struct {
	src   Source
	dec   *lcd.Decoder
	sinks []Sink
	log   *zap.Logger

	bytes  atomic.Uint64
	frames atomic.Uint64
}

// NewPump creates a pump over src. If dec is nil a fresh decoder is used.
func NewPump(src Source, dec *lcd.Decoder, log *zap.Logger, sinks ...Sink) *Pump {
	if dec == nil {
		dec = lcd.NewDecoder()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pump{src: src, dec: dec, sinks: sinks, log: log}
}

// Decoder returns the decoder fed by this pump.
func (p *Pump) Decoder() *lcd.Decoder { return p.dec }

// BytesRead is the number of bytes fed to the decoder so far.
func (p *Pump) BytesRead() uint64 { return p.bytes.Load() }

// Frames is the number of completed frames, valid or not.
func (p *Pump) Frames() uint64 { return p.frames.Load() }

// Run feeds the decoder until the source fails or ctx is done. Cancelling
// ctx closes the source to unblock a pending read. The returned error is
// ctx.Err() after cancellation, io.EOF at the end of a finite stream,
// ErrTimeout on a silent link, or the device error.
func (p *Pump) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { p.src.Close() })
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := p.src.ReadByte()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if !errors.Is(err, io.EOF) {
				p.log.Warn("source read failed",
					zap.String("source", p.src.Name()),
					zap.Uint64("bytes", p.bytes.Load()),
					zap.Error(err))
			}
			return err
		}
		p.bytes.Add(1)

		ev := p.dec.Feed(b)
		if !ev.Completed() {
			continue
		}
		p.frames.Add(1)
		if ev.Err != nil {
			p.log.Debug("frame rejected",
				zap.Stringer("reason", ev.Err.Reason),
				zap.Stringer("raw", ev.Err.Raw),
				zap.Error(ev.Err))
		}
		for _, s := range p.sinks {
			s.Emit(ev)
		}
	}
}
