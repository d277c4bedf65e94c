// Package agent wires the print agent together and owns its lifecycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/api"
	"github.com/thereceipt/print-agent/internal/command"
	"github.com/thereceipt/print-agent/internal/config"
	"github.com/thereceipt/print-agent/internal/device"
	"github.com/thereceipt/print-agent/internal/discovery"
	"github.com/thereceipt/print-agent/internal/notify"
	"github.com/thereceipt/print-agent/internal/printer"
	"github.com/thereceipt/print-agent/internal/registry"
	"github.com/thereceipt/print-agent/internal/session"
	"github.com/thereceipt/print-agent/internal/store"
)

// RestartGrace lets the reset ack leave before the session is torn down.
const RestartGrace = 200 * time.Millisecond

// Options replace the real collaborators. Nil fields get the defaults built
// from the config.
type Options struct {
	Store   store.Store
	Dialer  session.Dialer
	Opener  printer.Opener
	Sources []discovery.Source
	Version string
}

// Agent is a running print agent.
type Agent struct {
	cfg     config.Config
	version string
	log     zerolog.Logger

	Store    store.Store
	Registry *registry.Registry
	Scanner  *discovery.Scanner
	Spooler  *printer.Spooler
	Hub      *notify.Hub
	Router   *command.Router
	Session  *session.Manager

	restartGrace time.Duration

	mu  sync.Mutex
	ctx context.Context
}

// New builds an agent from cfg.
func New(cfg config.Config, opts Options, log zerolog.Logger) (*Agent, error) {
	s := opts.Store
	if s == nil {
		fs, err := store.Open(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		s = fs
	}

	opener := opts.Opener
	if opener == nil {
		opener = &printer.DeviceOpener{
			NetworkPort:    cfg.Printing.NetworkPort,
			ConnectTimeout: cfg.Printing.ConnectTimeout,
			SerialBaud:     cfg.Printing.SerialBaud,
		}
	}
	sources := opts.Sources
	if sources == nil {
		sources = DefaultSources(cfg, log)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = session.WebsocketDialer{HandshakeTimeout: 10 * time.Second}
	}

	a := &Agent{
		cfg:          cfg,
		version:      opts.Version,
		log:          log.With().Str("component", "agent").Logger(),
		Store:        s,
		Registry:     registry.New(s, log),
		Scanner:      discovery.NewScanner(log, sources...),
		Spooler:      printer.NewSpooler(opener, log),
		Hub:          notify.NewHub(log, 50),
		restartGrace: RestartGrace,
	}

	a.Router = command.NewRouter(command.Deps{
		Registry:      a.Registry,
		Store:         s,
		Scanner:       a.Scanner,
		Printer:       a.Spooler,
		Notifier:      a.Hub,
		Restarter:     a,
		LogoMaxHeight: cfg.Printing.LogoMaxHeight,
		Log:           log,
	})

	r := cfg.Reconnect
	a.Session = session.New(dialer, a.Router.Handle, a.Hub, session.Options{
		Backoff: session.Backoff{
			Initial:     r.InitialDelay,
			Max:         r.MaxDelay,
			Multiplier:  r.Multiplier,
			Jitter:      r.Jitter,
			MaxAttempts: r.MaxAttempts,
		},
		SettleWindow: r.SettleWindow,
	}, log)
	a.Router.SetPublisher(a.Session)

	return a, nil
}

// DefaultSources probes USB first, then serial ports when enabled, then mDNS.
func DefaultSources(cfg config.Config, log zerolog.Logger) []discovery.Source {
	sources := []discovery.Source{discovery.NewUSBSource(log)}
	if cfg.Discovery.SerialPorts {
		sources = append(sources, discovery.NewSerialSource(cfg.Printing.SerialBaud, log))
	}
	return append(sources, discovery.NewMDNSSource(cfg.Discovery.Service, cfg.Discovery.Domain, cfg.Discovery.BrowseWindow, log))
}

// Run starts the session and the status API and blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.startSession(ctx)

	// apiErr stays nil when the status API is disabled
	var apiErr chan error
	if a.cfg.HTTPAddr != "" {
		apiErr = make(chan error, 1)
		srv := api.NewServer(a.Session, a.Registry, a.Hub, a.Store, a.version, a.log)
		go func() {
			apiErr <- srv.Run(ctx, a.cfg.HTTPAddr)
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		a.Session.Stop()
		if apiErr != nil {
			err = <-apiErr
		}
	case err = <-apiErr:
		a.Session.Stop()
	}
	if err != nil {
		err = fmt.Errorf("status api: %w", err)
	}
	a.log.Info().Msg("agent stopped")
	return err
}

// startSession connects when the device is provisioned.
func (a *Agent) startSession(ctx context.Context) {
	id, err := device.Load(a.Store)
	if errors.Is(err, device.ErrNotProvisioned) {
		a.log.Warn().Msg("device not provisioned, run `print-agent register <device-id>`; not connecting")
		return
	}
	ep, err := id.Endpoint(a.cfg.ServerURL)
	if err != nil {
		a.log.Error().Err(err).Msg("cannot build session endpoint")
		return
	}

	a.log.Info().Str("device_id", id.DeviceID).Str("branch_id", id.Branch.ID).Str("url", ep.URL).Msg("connecting")
	if err := a.Session.Start(ctx, ep, id.Branch.ID); err != nil {
		a.log.Warn().Err(err).Msg("initial connection failed, retrying in background")
	}
}

// Restart stops the session after a short grace period and starts it again
// from the stored identity. It returns immediately.
func (a *Agent) Restart() {
	a.mu.Lock()
	ctx := a.ctx
	a.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		select {
		case <-time.After(a.restartGrace):
		case <-ctx.Done():
			return
		}
		a.log.Warn().Msg("restarting print service")
		a.Session.Stop()
		a.startSession(ctx)
	}()
}
