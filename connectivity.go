package swcache

import (
	"context"
	"sync"
	"time"

	"github.com/bool64/ctxd"
)

// ConnectivityConfig is configuration for NewConnectivity.
type ConnectivityConfig struct {
	// Check tests network reachability, nil disables active checks.
	Check func(ctx context.Context) error

	// Interval is a delay between two checks, default 30s.
	Interval time.Duration

	// OnRestored callbacks are called in background when network comes back.
	OnRestored []func(ctx context.Context)

	// OnOffline callbacks are called on every check while network is down.
	OnOffline []func(ctx context.Context)

	// Logger collects messages with context.
	Logger ctxd.Logger
}

// Connectivity tracks network state from checks and observed fetch results.
//
// Network is assumed online initially.
type Connectivity struct {
	mu      sync.Mutex
	offline bool
	config  ConnectivityConfig
	log     ctxd.Logger
	wg      sync.WaitGroup
}

// NewConnectivity creates connectivity monitor.
func NewConnectivity(config ConnectivityConfig) *Connectivity {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}

	c := &Connectivity{config: config}

	c.log = config.Logger
	if c.log == nil {
		c.log = ctxd.NoOpLogger{}
	}

	return c
}

// Online tells if network was reachable on last observation.
func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return !c.offline
}

// Report updates state with fetch outcome, only network errors mean offline.
func (c *Connectivity) Report(ctx context.Context, err error) {
	if err != nil && !IsNetworkError(err) {
		return
	}

	c.mu.Lock()
	wasOffline := c.offline
	c.offline = err != nil
	c.mu.Unlock()

	switch {
	case err != nil && !wasOffline:
		c.log.Warn(ctx, "network is unreachable", "error", err)
	case err == nil && wasOffline:
		c.log.Important(ctx, "network connectivity restored")
		c.restored(ctx)
	}
}

// Run checks network until context is done.
func (c *Connectivity) Run(ctx context.Context) {
	if c.config.Check == nil {
		return
	}

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		c.check(ctx)

		select {
		case <-ctx.Done():
			c.wg.Wait()

			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until restore callbacks are finished.
func (c *Connectivity) Wait() {
	c.wg.Wait()
}

func (c *Connectivity) check(ctx context.Context) {
	err := c.config.Check(ctx)
	if err != nil && ctx.Err() != nil {
		return
	}

	if err != nil && !IsNetworkError(err) {
		err = &NetworkError{URL: "connectivity check", Err: err}
	}

	c.Report(ctx, err)

	if err != nil {
		for _, cb := range c.config.OnOffline {
			cb(ctx)
		}
	}
}

func (c *Connectivity) restored(ctx context.Context) {
	ctx = detach(ctx)

	for _, cb := range c.config.OnRestored {
		cb := cb

		c.wg.Add(1)

		go func() {
			defer c.wg.Done()

			cb(ctx)
		}()
	}
}
