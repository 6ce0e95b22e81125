package core

import (
	"fmt"

	"ptun/config"
	"ptun/internal/connector"
	"ptun/internal/jump"
	"ptun/internal/metrics"
	"ptun/internal/retry"
	"ptun/internal/transport"
	"ptun/util"
)

// Build constructs the appropriate Mode from the given configuration.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if len(cfg.Tunnels) == 0 {
		return nil, fmt.Errorf("no tunnels configured")
	}

	conn := buildConnector(cfg, logger)

	if cfg.Stdio {
		if len(cfg.Tunnels) != 1 {
			return nil, fmt.Errorf("stdio mode needs exactly one tunnel, got %d", len(cfg.Tunnels))
		}
		return &StdioMode{
			Tunnel:    cfg.Tunnels[0],
			Proxy:     cfg.Proxy,
			Connector: conn,
			Logger:    logger,
		}, nil
	}

	return &ForwardMode{
		Tunnels:   cfg.Tunnels,
		Proxy:     cfg.Proxy,
		Connector: conn,
		Metrics:   conn.Metrics,
		Logger:    logger,
		Stats:     cfg.Stats,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

func buildConnector(cfg *config.Config, logger *util.Logger) *connector.Connector {
	c := connector.New(buildDialer(cfg, logger), logger)
	c.Metrics = metrics.New()

	if cfg.Proxy != nil && cfg.BreakerThreshold > 0 {
		reset := cfg.BreakerReset
		if reset <= 0 {
			reset = config.DefaultBreakerReset
		}
		c.Breaker = retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  cfg.BreakerThreshold,
			ResetTimeout: reset,
			OnStateChange: func(from, to retry.State) {
				logger.Verbose("proxy breaker %s → %s", from, to)
			},
		})
	}
	return c
}

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.JumpEnabled {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = config.DefaultConnTimeout
		}
		return transport.NewSSHDialer(&jump.Config{
			User:          cfg.JumpUser,
			Host:          cfg.JumpHost,
			Port:          cfg.JumpPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   timeout,
			KeepAlive:     config.DefaultSSHKeepAlive,
		}, logger)
	}

	return &transport.TCPDialer{
		Timeout:   cfg.Timeout,
		KeepAlive: config.DefaultKeepAlive,
	}
}
