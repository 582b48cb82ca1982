package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/shaunagostinho/lcdsniff/internal/lcd"
	"github.com/shaunagostinho/lcdsniff/internal/link"
	"github.com/shaunagostinho/lcdsniff/internal/logging"
	"github.com/shaunagostinho/lcdsniff/internal/metrics"
	"github.com/shaunagostinho/lcdsniff/internal/report"
	"github.com/shaunagostinho/lcdsniff/internal/server"
	"github.com/shaunagostinho/lcdsniff/web"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Listens to the frames sent by the e-scooter LCD display over UART.\n\nusage: %s [flags] [serial_port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	configPath := flag.String("config", "/etc/lcdsniff/config.yaml", "Path to config file")
	demo := flag.Bool("demo", false, "Run with a simulated display")
	listenAddr := flag.String("listen", "", "Serve the live view and metrics on this address (e.g. :8080)")
	flag.Parse()

	cfg, notes := server.LoadConfig(*configPath)
	if port := flag.Arg(0); port != "" {
		cfg.Serial.PortPath = port
		cfg.Serial.Source = "serial"
	}
	if *demo {
		cfg.Serial.Source = "demo"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	log := logging.New(cfg.Logging)
	defer log.Sync()
	server.LogNotes(log.Named("config"), notes)
	log.Info("lcdsniff starting", zap.String("source", cfg.Serial.Source))

	// Create context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var src link.Source
	switch cfg.Serial.Source {
	case "demo":
		src = link.NewDemoSource(link.DemoConfig{
			Period:       time.Duration(cfg.Serial.DemoPeriodMs) * time.Millisecond,
			CorruptEvery: 25,
			Seed:         time.Now().UnixNano(),
		})
	default:
		src = link.NewSerial(cfg.Serial.Link(), log.Named("link"))
	}

	reg := metrics.NewRegistry()
	sinks := []link.Sink{
		report.New(os.Stdout, cfg.Report),
		metrics.NewFrameMetrics(reg),
	}

	if cfg.Server.ListenAddr != "" {
		srv := server.New(cfg, web.FS, reg, log.Named("server"))
		sinks = append(sinks, srv)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error("server exited", zap.Error(err))
			}
		}()
	}

	// One decoder for the whole run: the display only sends sequence 2 once
	// after power-up, so a reconnect must not drop synchronization.
	pump := link.NewPump(src, lcd.NewDecoder(), log.Named("pump"), sinks...)

	if err := run(ctx, log, cfg.Serial, src, pump); err != nil {
		log.Error("stopped", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("stopped",
		zap.Uint64("bytes", pump.BytesRead()),
		zap.Uint64("frames", pump.Frames()))
}

// run connects and pumps until ctx is done, reconnecting after link
// failures. It returns an error only when the link timed out and
// ExitOnTimeout is set.
func run(ctx context.Context, log *zap.Logger, cfg server.SerialConfig, src link.Source, pump *link.Pump) error {
	for {
		if !connectWithRetry(ctx, log, src, 10) {
			return nil
		}

		err := pump.Run(ctx)
		src.Close()

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			log.Info("stream ended", zap.String("source", src.Name()))
			return nil
		case errors.Is(err, link.ErrTimeout):
			if cfg.ExitOnTimeout {
				return err
			}
			log.Warn("link silent, reconnecting", zap.String("source", src.Name()))
		default:
			log.Warn("link failed, reconnecting", zap.String("source", src.Name()), zap.Error(err))
		}
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely. It returns false when ctx
// is done first.
func connectWithRetry(ctx context.Context, log *zap.Logger, c link.Source, maxAttempts int) bool {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		err := c.Connect()
		if err == nil {
			log.Info("connected", zap.String("source", c.Name()), zap.Int("attempt", attempt+1))
			return true
		}

		attempt++
		fields := []zap.Field{zap.String("source", c.Name()), zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err)}
		if attempt <= maxAttempts {
			fields = append(fields, zap.Int("max_attempts", maxAttempts))
		}
		log.Warn("connect failed", fields...)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
