// Command busbench stress tests an event bus with concurrent publishers, and fails if any subscriber misses or repeats a message.
//
//	busbench --publishers 3 --messages 1000 --mode async --async-workers 8
package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	ctx := signalExitCtx(context.Background(), os.Interrupt, syscall.SIGTERM)
	os.Exit(execute(ctx, os.Args[1:], os.Stderr))
}

func execute(ctx context.Context, args []string, out io.Writer) int {
	cfg, err := LoadConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(out, "busbench: %v\n", err)
		return 2
	}
	log := newLogger(cfg.Log, out)
	result, err := Bench(ctx, cfg, log)
	result.Log(log)
	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return 1
	}
	return 0
}

func newLogger(conf LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(conf.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if conf.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// The context is cancelled on the first signal, and the process exits on the second.
func signalExitCtx(parent context.Context, signals ...os.Signal) context.Context {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, signals...)
	go func() {
		defer cancel()
		<-sigs
		cancel()
		<-sigs
		os.Exit(1)
	}()
	return ctx
}
