// vkbot is an example VK community bot built on the long-poll receiver.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/jdelaire/vkbot/adapters/vk_api"
	"github.com/jdelaire/vkbot/adapters/vk_longpoll"
	"github.com/jdelaire/vkbot/core"
	"github.com/jdelaire/vkbot/core/metrics"
	"github.com/jdelaire/vkbot/internal/config"
	"github.com/jdelaire/vkbot/internal/keychain"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stderr io.Writer) error {
	var (
		configPath string
		groupID    int64
		logLevel   string
		setToken   bool
	)
	flagSet := pflag.NewFlagSet("vkbot", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flagSet.Int64Var(&groupID, "group-id", 0, "community id (overrides config and "+config.EnvGroupID+")")
	flagSet.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&setToken, "set-token", false, "read an access token from stdin, store it in the system keyring and exit")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if setToken {
		return storeToken(stdin, stderr)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if groupID != 0 {
		cfg.GroupID = groupID
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var level slog.LevelVar
	if err := applyLevel(&level, cfg.Log.Level); err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.Log.Format, &level)
	slog.SetDefault(logger)

	var recorder metrics.Recorder = metrics.Noop{}
	if cfg.Metrics.Enabled {
		shutdown, err := metrics.Setup(stderr, cfg.Metrics.Interval)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("metrics shutdown failed", "error", err)
			}
		}()
		recorder = metrics.NewRecorder()
	}

	token, err := keychain.Token(os.Getenv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		w := config.NewWatcher(configPath, 2*time.Second, logger, func(c *config.Config) {
			// Only the level is applied live; everything else needs a restart.
			if logLevel != "" {
				return
			}
			if err := applyLevel(&level, c.Log.Level); err != nil {
				logger.Error("ignoring log level change", "error", err)
				return
			}
			logger.Info("log level updated", "level", level.Level().String())
		})
		go w.Run(ctx)
	}

	api := vk_api.New(token).WithBaseURL(cfg.API.URL).WithVersion(cfg.API.Version)

	state := newBotState(api)
	router := core.NewRouter()
	if err := registerHandlers(router, state); err != nil {
		return fmt.Errorf("register handlers: %w", err)
	}

	dispatcher := core.NewDispatcher(core.DispatcherConfig{
		Router:      router,
		API:         api,
		State:       state,
		Logger:      logger,
		Metrics:     recorder,
		MaxInFlight: cfg.Dispatch.MaxInFlight,
	})

	b := cfg.LongPoll.Backoff
	poller := vk_longpoll.New(api, dispatcher, logger, vk_longpoll.Config{
		GroupID: cfg.GroupID,
		Wait:    cfg.LongPoll.Wait,
		Backoff: vk_longpoll.BackoffConfig{
			InitialDelay: b.Initial,
			MaxDelay:     b.Max,
			Multiplier:   b.Multiplier,
			Jitter:       b.Jitter,
		},
	}).WithMetrics(recorder)

	var receiver core.Receiver = poller
	err = receiver.Start(ctx)

	logger.Info("waiting for running handlers", "grace", cfg.Dispatch.ShutdownGrace)
	if !waitHandlers(dispatcher, cfg.Dispatch.ShutdownGrace) {
		logger.Warn("shutdown grace elapsed with handlers still running")
	}
	return err
}

func storeToken(stdin io.Reader, stderr io.Writer) error {
	fmt.Fprint(stderr, "Paste the community access token: ")
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read token: %w", err)
	}
	if err := keychain.SetToken(line); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	fmt.Fprintln(stderr, "token stored in the system keyring")
	return nil
}

func applyLevel(v *slog.LevelVar, name string) error {
	l, err := config.ParseLevel(name)
	if err != nil {
		return err
	}
	v.Set(l)
	return nil
}

func newLogger(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// waitHandlers waits for the dispatcher to drain, up to grace. It reports
// whether every handler finished.
func waitHandlers(d *core.Dispatcher, grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}
