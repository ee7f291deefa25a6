// Command conductor runs the conversation orchestrator as an API server or
// an interactive terminal session.
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

	"conductor/internal/kernel"
	"conductor/pkg/config"
	"conductor/pkg/logx"
	"conductor/pkg/version"
)

const usage = `Usage: conductor [flags] [command]

Commands:
  serve                   Run the API server (default)
  chat                    Interactive session on the terminal
  secrets set <provider>  Store a provider API key in the encrypted secrets file
  version                 Show version information

Flags:
`

// options holds parsed command line flags.
type options struct {
	configPath string
	addr       string
	command    string
	args       []string
	headless   bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run contains the main application logic and returns an exit code.
// This allows defers to execute before os.Exit is called.
func run(argv []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseArgs(argv, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%v\n", err)
		return 2
	}

	if opts.command == "version" {
		fmt.Fprintf(stdout, "conductor %s\n", version.Version)
		fmt.Fprintf(stdout, "  commit: %s\n", version.Commit)
		fmt.Fprintf(stdout, "  built:  %s\n", version.Date)
		return 0
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	setupLogging(cfg)
	defer func() {
		if closeErr := logx.CloseFileSink(); closeErr != nil {
			fmt.Fprintf(stderr, "Warning: failed to close log file: %v\n", closeErr)
		}
	}()

	tty := newTerminalPrompter(stdin, stdout)

	switch opts.command {
	case "secrets":
		if err := runSecrets(cfg, opts.args, tty, stdout); err != nil {
			fmt.Fprintf(stderr, "Secrets failed: %v\n", err)
			return 1
		}
		return 0
	case "serve", "chat":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", opts.command)
		return 2
	}

	if err := unlockSecrets(cfg.Secrets.Dir, tty); err != nil {
		fmt.Fprintf(stderr, "Failed to handle secrets: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	k, err := kernel.NewKernel(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create kernel: %v\n", err)
		return 1
	}
	defer func() {
		if stopErr := k.Stop(); stopErr != nil {
			fmt.Fprintf(stderr, "Error stopping kernel: %v\n", stopErr)
		}
	}()

	if err := k.Start(); err != nil {
		fmt.Fprintf(stderr, "Failed to start kernel: %v\n", err)
		return 1
	}

	if opts.command == "chat" {
		repl := newREPL(k.Orchestrator, tty.reader, stdout)
		if err := repl.Run(ctx); err != nil {
			fmt.Fprintf(stderr, "Chat session failed: %v\n", err)
			return 1
		}
		return 0
	}

	if err := serve(ctx, k, stdout); err != nil {
		fmt.Fprintf(stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}

// parseArgs reads flags followed by an optional command and its arguments.
func parseArgs(argv []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("conductor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "Path to a YAML or JSON config file")
	fs.StringVar(&opts.addr, "addr", "", "Listen address, overrides server.addr")
	fs.BoolVar(&opts.headless, "headless", false, "Run without persistence")

	if err := fs.Parse(argv); err != nil {
		return options{}, err //nolint:wrapcheck // flag errors are already descriptive
	}

	opts.command = "serve"
	if rest := fs.Args(); len(rest) > 0 {
		opts.command = rest[0]
		opts.args = rest[1:]
	}
	return opts, nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err //nolint:wrapcheck // LoadConfig errors carry the path
		}
		cfg = loaded
	}

	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if opts.headless {
		cfg.Orchestrator.Headless = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupLogging applies the logging section. Env DEBUG settings stay in
// effect unless the config turns debug on.
func setupLogging(cfg *config.Config) {
	lc := cfg.Logging
	if lc.Debug {
		logx.SetDebugConfig(true)
	}
	if len(lc.DebugDomains) > 0 {
		logx.SetDebugDomains(lc.DebugDomains)
	}
	if lc.File != "" {
		logx.EnableFileSink(logx.FileOptions{
			Path:       lc.File,
			MaxSizeMB:  lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAgeDays: lc.MaxAgeDays,
			Compress:   lc.Compress,
		})
	}
}

// serve runs the API server until ctx is cancelled.
func serve(ctx context.Context, k *kernel.Kernel, stdout io.Writer) error {
	if err := k.StartWebUI(); err != nil {
		return err //nolint:wrapcheck // Kernel errors are descriptive
	}
	fmt.Fprintf(stdout, "conductor %s listening on %s\n", version.Version, k.Config.Server.Addr)
	<-ctx.Done()
	fmt.Fprintln(stdout, "Shutting down...")
	return nil
}
