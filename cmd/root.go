// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"ptun/config"
	"ptun/internal/core"
	"ptun/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X ptun/cmd.version=1.1.0"
var version = "1.0.0" //nolint:gochecknoglobals

type action int

const (
	actionRun action = iota
	actionHelp
	actionVersion
)

// options holds the raw flag values before they are merged into a
// config.Config.
type options struct {
	forwards      []string
	proxy         string
	configPath    string
	stdio         bool
	jump          string
	sshKey        string
	sshPassword   bool
	sshAgent      bool
	strictHostKey bool
	knownHosts    string
	timeoutSec    int
	breaker       int
	stats         bool
	dryRun        bool
	verbose       int
	showVersion   bool
	showHelp      bool
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("ptun", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// ── tunnels ──────────────────────────────────────────────────
	fs.StringArrayVarP(&o.forwards, "forward", "L", nil, "Forward [bind:]port:host:hostport (repeatable)")
	fs.BoolVar(&o.stdio, "stdio", false, "Relay one tunnel over stdin/stdout: --stdio <host> <port>")
	fs.StringVarP(&o.configPath, "config", "c", "", "YAML tunnel file")
	fs.IntVarP(&o.timeoutSec, "timeout", "w", 0, "Dial timeout in seconds")

	// ── proxy ────────────────────────────────────────────────────
	fs.StringVarP(&o.proxy, "proxy", "x", "", "HTTP CONNECT proxy host:port or http://host[:port]")
	fs.IntVar(&o.breaker, "breaker", 0, "Bypass the proxy after N consecutive failures (0 = never)")

	// ── SSH jump host ────────────────────────────────────────────
	fs.StringVarP(&o.jump, "jump", "J", "", "Dial through SSH jump host [user@]host[:port]")
	fs.StringVar(&o.sshKey, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&o.sshPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&o.sshAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&o.strictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&o.knownHosts, "known-hosts", "", "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&o.verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVar(&o.stats, "stats", false, "Log traffic statistics on exit")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Validate the configuration, print the plan and exit")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&o.showHelp, "help", "h", false, "Show this help")
	return fs
}

// Execute parses args and runs the selected mode until ctx is done.
func Execute(ctx context.Context, args []string) error {
	cfg, act, err := parse(args)
	if err != nil {
		return err
	}

	switch act {
	case actionHelp:
		printUsage(newFlagSet(&options{}))
		return nil
	case actionVersion:
		fmt.Printf("ptun %s\n", version)
		return nil
	}

	if cfg.DryRun {
		printPlan(os.Stdout, cfg)
		return nil
	}

	logger := util.NewLogger(cfg.Verbose)
	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// parse builds the effective configuration.  Later sources win:
// defaults, then --config, then PTUN_* variables, then flags.
func parse(args []string) (*config.Config, action, error) {
	var o options
	fs := newFlagSet(&o)
	if err := fs.Parse(args); err != nil {
		return nil, actionRun, err
	}
	if o.showHelp || len(args) == 0 {
		return nil, actionHelp, nil
	}
	if o.showVersion {
		return nil, actionVersion, nil
	}

	cfg := &config.Config{Verbose: 1, BreakerReset: config.DefaultBreakerReset}

	if o.configPath != "" {
		if err := config.LoadFile(o.configPath, cfg); err != nil {
			return nil, actionRun, err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, actionRun, err
	}
	if err := applyFlags(fs, &o, cfg); err != nil {
		return nil, actionRun, err
	}
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return nil, actionRun, err
	}

	if cfg.JumpSpec != "" {
		user, host, port, err := config.ParseJumpSpec(cfg.JumpSpec)
		if err != nil {
			return nil, actionRun, fmt.Errorf("jump: %w", err)
		}
		cfg.JumpEnabled = true
		cfg.JumpUser = user
		cfg.JumpHost = host
		cfg.JumpPort = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, actionRun, err
	}
	return cfg, actionRun, nil
}

// applyFlags copies every flag the user actually set onto cfg.
func applyFlags(fs *flag.FlagSet, o *options, cfg *config.Config) error {
	changed := fs.Changed

	for _, spec := range o.forwards {
		t, err := config.ParseForwardSpec(spec)
		if err != nil {
			return fmt.Errorf("forward: %w", err)
		}
		cfg.Tunnels = append(cfg.Tunnels, t)
	}
	if changed("proxy") {
		p, err := config.ParseProxy(o.proxy)
		if err != nil {
			return fmt.Errorf("proxy: %w", err)
		}
		cfg.Proxy = p
	}
	if changed("timeout") {
		cfg.Timeout = time.Duration(o.timeoutSec) * time.Second
	}
	if changed("breaker") {
		cfg.BreakerThreshold = o.breaker
	}
	if changed("jump") {
		cfg.JumpSpec = o.jump
	}
	if changed("ssh-key") {
		cfg.SSHKeyPath = o.sshKey
	}
	if changed("ssh-password") {
		cfg.SSHPassword = o.sshPassword
	}
	if changed("ssh-agent") {
		cfg.UseSSHAgent = o.sshAgent
	}
	if changed("strict-hostkey") {
		cfg.StrictHostKey = o.strictHostKey
	}
	if changed("known-hosts") {
		cfg.KnownHostsPath = o.knownHosts
	}
	if changed("verbose") {
		cfg.Verbose = 1 + o.verbose
	}
	cfg.Stdio = o.stdio
	cfg.Stats = o.stats
	cfg.DryRun = o.dryRun
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func parsePositional(cfg *config.Config, remaining []string) error {
	if !cfg.Stdio {
		if len(remaining) > 0 {
			return fmt.Errorf("unexpected argument %q (use -L to forward a port)", remaining[0])
		}
		return nil
	}

	switch len(remaining) {
	case 0:
		return nil // Validate reports the missing destination
	case 2:
	default:
		return fmt.Errorf("--stdio takes <host> <port>, got %d argument(s)", len(remaining))
	}
	port, err := config.ParsePort(remaining[1])
	if err != nil {
		return fmt.Errorf("port: %w", err)
	}
	cfg.Tunnels = append(cfg.Tunnels, config.Tunnel{
		Name:       "stdio",
		RemoteHost: remaining[0],
		RemotePort: port,
	})
	return nil
}

func printPlan(w io.Writer, cfg *config.Config) {
	route := "direct"
	if cfg.Proxy != nil {
		route = "via proxy " + cfg.Proxy.Addr() + ", falling back to direct"
		if cfg.BreakerThreshold > 0 {
			route += fmt.Sprintf(" (breaker after %d failures)", cfg.BreakerThreshold)
		}
	}
	if cfg.JumpEnabled {
		route += fmt.Sprintf(", dialling from %s@%s:%d", cfg.JumpUser, cfg.JumpHost, cfg.JumpPort)
	}

	for _, t := range cfg.Tunnels {
		if cfg.Stdio {
			fmt.Fprintf(w, "stdio -> %s %s\n", t.RemoteAddr(), route)
			continue
		}
		fmt.Fprintf(w, "%s: %s -> %s %s\n", t, t.LocalAddr(), t.RemoteAddr(), route)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `ptun %s: TCP tunnels through an HTTP CONNECT proxy

Forwards local ports to remote hosts through a CONNECT proxy, falling
back to a direct connection when the proxy cannot be reached.

Usage:
  ptun [options] -L [bind:]port:host:hostport ...   Forward ports
  ptun [options] --stdio <host> <port>              Relay over stdin/stdout
  ptun --config tunnels.yaml                        Forward from a file

Options:
`, version)
	fmt.Fprint(os.Stderr, fs.FlagUsages())
	fmt.Fprintf(os.Stderr, `
Environment:
  PTUN_PROXY, PTUN_TIMEOUT, PTUN_BREAKER, PTUN_JUMP, PTUN_SSH_KEY,
  PTUN_SSH_AGENT, PTUN_STRICT_HOSTKEY, PTUN_KNOWN_HOSTS, PTUN_VERBOSE

Examples:
  ptun -x proxy.corp:3128 -L 5432:db.internal:5432
  ptun -x http://proxy.corp -L 0.0.0.0:8443:api.example.com:443
  ptun -x proxy.corp:3128 --stdio %%h %%p        ssh ProxyCommand
  ptun -J ops@bastion -L 6379:cache.internal:6379
`)
}
