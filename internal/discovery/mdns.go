package discovery

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/registry"
)

// MDNSSource browses a DNS-SD service type for a bounded window.
type MDNSSource struct {
	Service string
	Domain  string
	Window  time.Duration
	log     zerolog.Logger
}

func NewMDNSSource(service, domain string, window time.Duration, log zerolog.Logger) *MDNSSource {
	if service == "" {
		service = "_printer._tcp"
	}
	if domain == "" {
		domain = "local."
	}
	if window <= 0 {
		window = 5 * time.Second
	}
	return &MDNSSource{
		Service: service,
		Domain:  domain,
		Window:  window,
		log:     log.With().Str("source", "mdns").Logger(),
	}
}

func (s *MDNSSource) Name() string { return "mdns" }

func (s *MDNSSource) Discover(ctx context.Context, emit func(registry.PrinterConfig)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	browseCtx, cancel := context.WithTimeout(ctx, s.Window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(browseCtx, s.Service, s.Domain, entries); err != nil {
		return err
	}

	for {
		select {
		case <-browseCtx.Done():
			// The window elapsing is the normal end of a browse.
			return ctx.Err()
		case e, ok := <-entries:
			if !ok {
				return ctx.Err()
			}
			if c, ok := NetworkCandidate(e); ok {
				emit(c)
			} else {
				s.log.Debug().Str("instance", e.Instance).Msg("service without address ignored")
			}
		}
	}
}

// NetworkCandidate builds the config of an advertised printer. Entries with no
// resolved address are dropped.
func NetworkCandidate(e *zeroconf.ServiceEntry) (registry.PrinterConfig, bool) {
	if e == nil {
		return registry.PrinterConfig{}, false
	}
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return registry.PrinterConfig{}, false
	}
	addr := ip.String()

	return registry.PrinterConfig{
		ConnectionType: registry.ConnNetwork,
		IPAddress:      addr,
		Profile:        registry.DefaultProfile,
		Fingerprint:    registry.NetworkFingerprint(advertisedID(e), addr),
	}, true
}

// advertisedID is the device identifier from the TXT record, falling back to
// the service instance name.
func advertisedID(e *zeroconf.ServiceEntry) string {
	for _, kv := range e.Text {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.EqualFold(k, "uuid") && v != "" {
			return v
		}
	}
	return e.Instance
}
