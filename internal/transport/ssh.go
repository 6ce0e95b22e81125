package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	ncerr "ptun/internal/errors"
	"ptun/internal/jump"
	"ptun/internal/retry"
	"ptun/util"
)

// SSHDialer routes connections through an SSH jump host.  The SSH
// session is opened lazily on the first Dial and reopened if it dies.
// Only network failures reaching the jump host are retried; auth and
// host key failures are returned at once.
type SSHDialer struct {
	client *jump.Client
	config *jump.Config
	logger *util.Logger
	mu     sync.Mutex
}

// NewSSHDialer creates a dialer that hops through the jump host
// described by cfg.  Nothing is dialled until the first Dial.
func NewSSHDialer(cfg *jump.Config, logger *util.Logger) *SSHDialer {
	return &SSHDialer{
		client: jump.New(cfg, logger),
		config: cfg,
		logger: logger,
	}
}

// connect opens the SSH session unless it is already up.
func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client.IsAlive() {
		return nil
	}

	d.logger.Verbose("opening SSH session to jump host %s@%s:%d",
		d.config.User, d.config.Host, d.config.Port)

	b := &retry.Backoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       true,
	}
	err := b.Do(ctx, func(attempt int) error {
		err := d.client.Connect(ctx)
		if err == nil {
			return nil
		}
		var se *ncerr.SSHError
		if errors.As(err, &se) || ctx.Err() != nil {
			return retry.Permanent(err)
		}
		d.logger.Warn("jump host attempt %d failed: %v", attempt, err)
		return err
	})
	if err != nil {
		return fmt.Errorf("jump host: %w", err)
	}
	d.logger.Verbose("SSH session to jump host established")
	return nil
}

// Dial connects to address from the jump host.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d.client.Dial(ctx, network, address)
}

// Close tears down the SSH session.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client.Close()
}
