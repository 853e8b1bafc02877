package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/vespernet/crossbridge"
	"github.com/vespernet/crossbridge/config"
	"github.com/vespernet/crossbridge/device"
)

// Exit codes reported to the caller.
const (
	exitOK        = 0
	exitConfig    = 1
	exitDevice    = 2
	exitAuth      = 3
	exitRetries   = 4
	exitInterrupt = 130
)

type options struct {
	Config   string `short:"c" long:"config" description:"configuration file path"`
	Device   string `short:"d" long:"device" description:"device specifier (serial path, pty, unix:, tcp:, pipe:)"`
	Baud     *int   `short:"b" long:"baud" description:"serial baud rate"`
	Emulate  bool   `short:"e" long:"emulate" description:"enable Hayes modem emulation"`
	Username string `short:"u" long:"username" description:"server username"`
	Password string `short:"p" long:"password" description:"server password"`
	Verbose  bool   `short:"v" long:"verbose" description:"enable debug logging"`
	Retries  *int   `short:"r" long:"retries" description:"connection retry attempts"`
	Timeout  *int   `short:"t" long:"timeout" description:"inactivity timeout in seconds (0 disables)"`
	LogFile  string `long:"log" description:"log file path"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return exitOK
		}
		return exitConfig
	}

	cfg, err := loadConfig(&opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfig
	}

	logger, closeLog := setupLogger(cfg)
	defer closeLog()
	logger.Info("crossbridge starting",
		"server", cfg.ServerHost, "port", cfg.ServerPort,
		"device", cfg.Device, "emulate", cfg.EmulateModem)

	spec, err := device.Parse(cfg.Device, cfg.BaudRate)
	if err != nil {
		logger.Error("device specifier rejected", "device", cfg.Device, "err", err)
		return exitConfig
	}
	dev, err := device.Open(spec)
	if err != nil {
		logger.Error("device open failed", "device", cfg.Device, "err", err)
		if errors.Is(err, device.ErrMisconfigured) {
			return exitConfig
		}
		return exitDevice
	}
	defer dev.Close()
	logger.Info("device ready", "kind", spec.Kind.String(), "name", dev.Name())

	// raise the line signals; no-ops off real serial hardware
	if err := dev.SetDTR(true); err != nil {
		logger.Warn("asserting DTR", "err", err)
	}
	if err := dev.SetRTS(true); err != nil {
		logger.Warn("asserting RTS", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := crossbridge.NewSession(cfg, dev, logger)
	err = sess.Run(ctx)
	switch {
	case err == nil:
		logger.Info("session finished")
		return exitOK
	case errors.Is(err, crossbridge.ErrCancelled):
		logger.Info("interrupted")
		return exitInterrupt
	case errors.Is(err, crossbridge.ErrAuthFailed), errors.Is(err, crossbridge.ErrServerBusy):
		logger.Error("authentication failed", "err", err)
		return exitAuth
	case errors.Is(err, crossbridge.ErrRetriesExhausted):
		logger.Error("giving up", "err", err)
		return exitRetries
	default:
		logger.Error("session failed", "err", err)
		return exitConfig
	}
}

// loadConfig reads the configuration file and applies CLI overrides on top.
// A missing default file is fine as long as the flags fill in the required
// fields; an explicitly named file must exist.
func loadConfig(opts *options) (config.Config, error) {
	path := opts.Config
	explicit := path != ""
	if !explicit {
		path = config.DefaultFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			cfg = config.Default()
		} else {
			return cfg, err
		}
	}

	if opts.Device != "" {
		cfg.Device = opts.Device
	}
	if opts.Baud != nil {
		cfg.BaudRate = *opts.Baud
	}
	if opts.Emulate {
		cfg.EmulateModem = true
	}
	if opts.Username != "" {
		cfg.Username = opts.Username
	}
	if opts.Password != "" {
		cfg.Password = opts.Password
	}
	if opts.Verbose {
		cfg.Debug = true
	}
	if opts.Retries != nil {
		cfg.ConnectionRetries = *opts.Retries
	}
	if opts.Timeout != nil {
		cfg.InactivityTimeout = *opts.Timeout
	}
	if opts.LogFile != "" {
		cfg.LogFile = opts.LogFile
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func()) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	w := io.Writer(os.Stderr)
	closeLog := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot open log file:", err)
		} else {
			w = io.MultiWriter(os.Stderr, f)
			closeLog = func() { f.Close() }
		}
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, closeLog
}
