package printer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/registry"
)

// Spooler sends jobs to printers. Jobs for different printers run in
// parallel; jobs for the same printer are serialized so two receipts never
// interleave on one device.
type Spooler struct {
	opener Opener
	log    zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSpooler creates a spooler over opener.
func NewSpooler(opener Opener, log zerolog.Logger) *Spooler {
	return &Spooler{
		opener: opener,
		log:    log.With().Str("component", "spooler").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Print compiles markup for the printer's profile and writes it. The link is
// opened just before writing and released afterwards, whatever the outcome.
func (s *Spooler) Print(ctx context.Context, cfg registry.PrinterConfig, markup string) error {
	profile, known := LookupProfile(cfg.Profile)
	if !known && cfg.Profile != "" {
		s.log.Warn().Str("profile", cfg.Profile).Msg("unknown profile, using default")
	}
	data, err := Compile(markup, profile)
	if err != nil {
		return err
	}
	return s.Send(ctx, cfg, data)
}

// Send writes pre-encoded bytes.
func (s *Spooler) Send(ctx context.Context, cfg registry.PrinterConfig, data []byte) error {
	jobID := uuid.NewString()
	log := s.log.With().Str("job", jobID).Str("printer", cfg.Describe()).Logger()

	lock := s.lockFor(cfg)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	err := WithConnection(ctx, s.opener, cfg, func(c Conn) error {
		return WriteAll(c, data)
	})
	if err != nil {
		log.Error().Err(err).Msg("print job failed")
		return err
	}
	log.Info().Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("print job done")
	return nil
}

func (s *Spooler) lockFor(cfg registry.PrinterConfig) *sync.Mutex {
	key := cfg.Describe()
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}
