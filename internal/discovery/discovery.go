// Package discovery finds printers on the local bus and the local network.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/registry"
)

// Source probes one address space. Discover calls emit for each printer in
// the order it is found and returns when the space is exhausted or ctx ends.
type Source interface {
	Name() string
	Discover(ctx context.Context, emit func(registry.PrinterConfig)) error
}

// Scanner runs its sources one after another, bus before network.
type Scanner struct {
	sources []Source
	log     zerolog.Logger
}

// NewScanner creates a scanner over sources, probed in the given order.
func NewScanner(log zerolog.Logger, sources ...Source) *Scanner {
	return &Scanner{
		sources: sources,
		log:     log.With().Str("component", "discovery").Logger(),
	}
}

// Scan probes every source and returns the de-duplicated candidates. Each new
// candidate is also sent on found as soon as it is seen; Scan closes found
// before returning. found may be nil.
//
// If no candidate is marked default the first one is promoted. Scan does not
// touch the registry: persisting and publishing the result is up to the
// caller.
func (s *Scanner) Scan(ctx context.Context, found chan<- registry.PrinterConfig) ([]registry.PrinterConfig, error) {
	if found != nil {
		defer close(found)
	}

	var (
		out  []registry.PrinterConfig
		seen = make(map[string]bool)
		errs []error
	)

	for _, src := range s.sources {
		if ctx.Err() != nil {
			break
		}
		n := 0
		err := discover(ctx, src, func(c registry.PrinterConfig) {
			if c.Fingerprint == "" || seen[c.Fingerprint] {
				return
			}
			seen[c.Fingerprint] = true
			if c.Profile == "" {
				c.Profile = registry.DefaultProfile
			}
			c.IsDefault = false
			out = append(out, c)
			n++

			if found != nil {
				select {
				case found <- c:
				case <-ctx.Done():
				}
			}
		})
		if err != nil {
			s.log.Warn().Err(err).Str("source", src.Name()).Msg("discovery source failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		s.log.Debug().Str("source", src.Name()).Int("found", n).Msg("source done")
	}

	if len(out) > 0 {
		out[0].IsDefault = true
	}

	if len(errs) == len(s.sources) && len(errs) > 0 {
		return out, errors.Join(errs...)
	}
	return out, ctx.Err()
}

// discover runs one source, turning a panic into that source's error so the
// remaining sources still run. gousb panics when libusb cannot initialise.
func discover(ctx context.Context, src Source, emit func(registry.PrinterConfig)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return src.Discover(ctx, emit)
}
