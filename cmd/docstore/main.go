// Package main is the docstore command line tool.
//
// docstore reads and mutates the JSON documents of a data directory using the
// same locking protocol as every other process sharing that directory.
// Settings are read from <data-dir>/.docstore.yaml and overridden by flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/docstore/internal/config"
	"github.com/maruel/docstore/internal/conversation"
	"github.com/maruel/docstore/internal/docstore"
	"github.com/maruel/docstore/internal/history"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "docstore: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	lockTimeout := flag.Duration("lock-timeout", docstore.DefaultLockTimeout, "Maximum time to wait for a document lock")
	withHistory := flag.Bool("history", false, "Commit every write to a git repository in the data directory")
	flag.Usage = usage
	flag.Parse()

	if *version {
		printVersion()
		return nil
	}
	if flag.NArg() == 0 {
		usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:       ll,
		TimeFormat:  "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:     !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: dropEmpty,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg, err := config.Load(*dataDir)
	if err != nil {
		return err
	}

	// Flags explicitly set win over the config file.
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if set["log-level"] {
		cfg.LogLevel = *logLevel
	}
	if set["lock-timeout"] {
		cfg.Lock.Timeout = *lockTimeout
		cfg.Lock.RetryInterval = min(cfg.Lock.RetryInterval, cfg.Lock.Timeout)
	}
	if set["history"] {
		cfg.History.Enabled = *withHistory
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	ll.Set(level)

	a, err := newApp(*dataDir, cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx, flag.Args())
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "usage: docstore [flags] <command> [args]\n\n")
	fmt.Fprintf(out, "commands:\n")
	fmt.Fprintf(out, "  get <name>               print a document\n")
	fmt.Fprintf(out, "  put <name>               replace a document with JSON read from stdin\n")
	fmt.Fprintf(out, "  set <name> <key> <json>  set one top-level key\n")
	fmt.Fprintf(out, "  del <name> <key>         remove one top-level key\n")
	fmt.Fprintf(out, "  ls                       list documents\n")
	fmt.Fprintf(out, "  watch [name...]          print changes until interrupted\n")
	fmt.Fprintf(out, "  log <name>               list recorded versions (needs -history)\n")
	fmt.Fprintf(out, "  show <hash> <name>       print a recorded version (needs -history)\n")
	fmt.Fprintf(out, "  schema [name]            print the JSON Schema of conversation documents\n")
	fmt.Fprintf(out, "  conv new|list|get|say|rm manage conversations\n")
	fmt.Fprintf(out, "  user <id> [key=value...] register a user\n\n")
	fmt.Fprintf(out, "flags:\n")
	flag.PrintDefaults()
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}

// dropEmpty removes attributes carrying a zero value.
func dropEmpty(_ []string, a slog.Attr) slog.Attr {
	skip := false
	switch t := a.Value.Any().(type) {
	case string:
		skip = t == ""
	case bool:
		skip = !t
	case uint64:
		skip = t == 0
	case int64:
		skip = t == 0
	case float64:
		skip = t == 0
	case time.Time:
		skip = t.IsZero()
	case time.Duration:
		skip = t == 0
	case nil:
		skip = true
	}
	if skip {
		return slog.Attr{}
	}
	return a
}

func newApp(dataDir string, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{stdin: os.Stdin, stdout: os.Stdout}
	opts := &docstore.Options{Lock: cfg.LockOptions()}
	if cfg.History.Enabled {
		rec, err := history.Open(dataDir, cfg.History.AuthorName, cfg.History.AuthorEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		a.hist = rec
		opts.OnPersist = func(ctx context.Context, name string) error {
			return rec.Record(ctx, name, "Update "+name)
		}
	}
	st, err := docstore.New(dataDir, opts)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.conv = conversation.New(st, logger)
	return a, nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("docstore %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
