// SPDX-License-Identifier: MIT

// Package drivers hosts the per-platform destination drivers. Drivers
// validate destination configuration for their platform family; session
// ownership stays with the relay supervisor.
package drivers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/streamfan/streamfan/internal/config"
	"github.com/streamfan/streamfan/internal/log"
	"github.com/streamfan/streamfan/internal/registry"
)

// Export is the registry export shared by every driver, so the whole set is
// resolvable with a single ResolveAll.
const Export = "driver"

// Status reports a driver's view of its slice of the configuration.
type Status struct {
	Platform     string `json:"platform"`
	Destinations int    `json:"destinations"`
	LastError    string `json:"lastError,omitempty"`
}

// Driver is one platform family. Configure receives the full destination
// list and the driver claims its own subset.
type Driver interface {
	registry.Module
	Platform() string
	Configure(dests []config.Destination) error
	DriverStatus() Status
}

// platformDriver is the shared implementation: a claim predicate selects the
// destinations a driver owns and a check validates each one.
type platformDriver struct {
	registry.Base
	logger   zerolog.Logger
	platform string
	claim    func(config.Destination) bool
	check    func(config.Destination) error

	mu      sync.Mutex
	claimed int
	lastErr error
}

func newPlatformDriver(platform string, claim func(config.Destination) bool, check func(config.Destination) error) *platformDriver {
	return &platformDriver{
		Base:     registry.NewBase(platform + "-driver"),
		logger:   log.WithComponent("driver").With().Str(log.FieldPlatform, platform).Logger(),
		platform: platform,
		claim:    claim,
		check:    check,
	}
}

func (d *platformDriver) Platform() string { return d.platform }

func (d *platformDriver) Initialize(ctx context.Context) error {
	if err := d.BeginInitialize(); err != nil {
		return err
	}
	d.CompleteInitialize()
	return nil
}

func (d *platformDriver) Activate(ctx context.Context) error {
	if err := d.BeginActivate(); err != nil {
		return err
	}
	d.CompleteActivate()
	return nil
}

func (d *platformDriver) Deactivate(ctx context.Context) error {
	if err := d.BeginDeactivate(); err != nil {
		return err
	}
	d.CompleteDeactivate()
	return nil
}

func (d *platformDriver) Destroy(ctx context.Context) error {
	if err := d.BeginDestroy(); err != nil {
		return err
	}
	d.CompleteDestroy()
	return nil
}

// Configure claims this driver's destinations and validates each. All
// failures are reported together; the last error is retained for status.
func (d *platformDriver) Configure(dests []config.Destination) error {
	var claimed int
	var errs []string
	for _, dest := range dests {
		if !d.claim(dest) {
			continue
		}
		claimed++
		if err := d.check(dest); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", dest.ID, err))
		}
	}

	var err error
	if len(errs) > 0 {
		err = fmt.Errorf("%s driver: %s", d.platform, strings.Join(errs, "; "))
	}

	d.mu.Lock()
	d.claimed = claimed
	d.lastErr = err
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn().
			Str(log.FieldEvent, "driver.config_rejected").
			Int("destinations", claimed).
			Msg(err.Error())
		return err
	}
	d.logger.Debug().
		Str(log.FieldEvent, "driver.configured").
		Int("destinations", claimed).
		Msg("driver configured")
	return nil
}

func (d *platformDriver) DriverStatus() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{Platform: d.platform, Destinations: d.claimed}
	if d.lastErr != nil {
		st.LastError = d.lastErr.Error()
	}
	return st
}

// host extracts the lowercase hostname from an rtmp/rtmps URL.
func host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// checkCommon validates the fields every destination needs.
func checkCommon(dest config.Destination) error {
	u := strings.TrimSpace(dest.URL)
	switch {
	case u == "":
		return fmt.Errorf("missing rtmp url")
	case !strings.HasPrefix(u, "rtmp://") && !strings.HasPrefix(u, "rtmps://"):
		return fmt.Errorf("unsupported scheme in %q", u)
	case strings.TrimSpace(dest.StreamKey) == "":
		return fmt.Errorf("missing stream key")
	}
	return nil
}
