// Package registry is the durable printer list. Every mutation rewrites the
// whole set and re-establishes the single default printer.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/store"
)

// ErrNotFound is returned for unknown printer ids.
var ErrNotFound = apperr.New(apperr.KindNotFound, "Printer not found")

// Registry stores the printer list under store.KeyPrinters.
type Registry struct {
	store store.Store
	log   zerolog.Logger
	mu    sync.Mutex
}

// New creates a Registry backed by s.
func New(s store.Store, log zerolog.Logger) *Registry {
	return &Registry{
		store: s,
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// List returns all printers in stored order.
func (r *Registry) List() ([]PrinterConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Get returns the printer with the given id.
func (r *Registry) Get(id string) (PrinterConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.load()
	if err != nil {
		return PrinterConfig{}, err
	}
	if i := indexByID(list, id); i >= 0 {
		return list[i], nil
	}
	return PrinterConfig{}, ErrNotFound
}

// GetDefault returns the default printer.
func (r *Registry) GetDefault() (PrinterConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.load()
	if err != nil {
		return PrinterConfig{}, err
	}
	for _, p := range list {
		if p.IsDefault {
			return p, nil
		}
	}
	return PrinterConfig{}, apperr.New(apperr.KindNotFound, "No default printer found")
}

// Resolve returns the printer named by id, or the default when id is empty.
func (r *Registry) Resolve(id string) (PrinterConfig, error) {
	if id == "" {
		return r.GetDefault()
	}
	return r.Get(id)
}

// Upsert inserts or replaces a printer. The entry is matched by printer id,
// then by fingerprint. A stored fingerprint survives an update that carries
// none, and an update never demotes the current default; it can only promote.
func (r *Registry) Upsert(cfg PrinterConfig) (PrinterConfig, error) {
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if err := cfg.Validate(); err != nil {
		return PrinterConfig{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.load()
	if err != nil {
		return PrinterConfig{}, err
	}

	i := -1
	if cfg.PrinterID != "" {
		i = indexByID(list, cfg.PrinterID)
	}
	if i < 0 && cfg.Fingerprint != "" {
		i = indexByFingerprint(list, cfg.Fingerprint)
	}

	if i >= 0 {
		old := list[i]
		if cfg.Fingerprint == "" {
			cfg.Fingerprint = old.Fingerprint
		}
		if cfg.PrinterID == "" {
			cfg.PrinterID = old.PrinterID
		}
		cfg.IsDefault = cfg.IsDefault || old.IsDefault
		list[i] = cfg
	} else {
		list = append(list, cfg)
		i = len(list) - 1
	}

	// Another entry holding the same fingerprint is the same device.
	if cfg.Fingerprint != "" {
		for j := len(list) - 1; j >= 0; j-- {
			if j != i && list[j].Fingerprint == cfg.Fingerprint {
				list = append(list[:j], list[j+1:]...)
				if j < i {
					i--
				}
			}
		}
	}
	if cfg.IsDefault {
		markDefault(list, i)
	}

	list = normalize(list)
	if err := r.save(list); err != nil {
		return PrinterConfig{}, err
	}
	r.log.Info().Str("printer_id", cfg.PrinterID).Str("printer", cfg.Describe()).Msg("printer saved")
	return list[i], nil
}

// Remove deletes a printer. If it was the default the first remaining printer
// is promoted.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.load()
	if err != nil {
		return err
	}
	i := indexByID(list, id)
	if i < 0 {
		return ErrNotFound
	}
	list = append(list[:i], list[i+1:]...)
	list = normalize(list)
	if err := r.save(list); err != nil {
		return err
	}
	r.log.Info().Str("printer_id", id).Int("remaining", len(list)).Msg("printer removed")
	return nil
}

// SetDefault makes id the only default printer.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list, err := r.load()
	if err != nil {
		return err
	}
	i := indexByID(list, id)
	if i < 0 {
		return ErrNotFound
	}
	markDefault(list, i)
	if err := r.save(list); err != nil {
		return err
	}
	r.log.Info().Str("printer_id", id).Msg("default printer changed")
	return nil
}

// ReplaceAll swaps the whole set.
func (r *Registry) ReplaceAll(configs []PrinterConfig) ([]PrinterConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := normalize(append([]PrinterConfig(nil), configs...))
	if err := r.save(list); err != nil {
		return nil, err
	}
	return list, nil
}

// MergeDiscovered replaces the set with a discovery result. Candidates whose
// fingerprint is already registered keep the server assigned id and profile,
// and the stored default wins over the candidate default when it is still
// present.
func (r *Registry) MergeDiscovered(candidates []PrinterConfig) ([]PrinterConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.load()
	if err != nil {
		return nil, err
	}
	byFP := make(map[string]PrinterConfig, len(existing))
	for _, p := range existing {
		if p.Fingerprint != "" {
			byFP[p.Fingerprint] = p
		}
	}

	list := make([]PrinterConfig, 0, len(candidates))
	keptDefault := -1
	for _, c := range candidates {
		if old, ok := byFP[c.Fingerprint]; ok && c.Fingerprint != "" {
			if c.PrinterID == "" {
				c.PrinterID = old.PrinterID
			}
			if old.Profile != "" {
				c.Profile = old.Profile
			}
			if old.IsDefault && keptDefault < 0 {
				keptDefault = len(list)
			}
		}
		list = append(list, c)
	}
	if keptDefault >= 0 {
		markDefault(list, keptDefault)
	}

	list = normalize(list)
	if err := r.save(list); err != nil {
		return nil, err
	}
	r.log.Info().Int("count", len(list)).Msg("registry replaced from discovery")
	return list, nil
}

// Clear drops every printer.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Delete(store.KeyPrinters)
}

func (r *Registry) load() ([]PrinterConfig, error) {
	raw, ok, err := r.store.Get(store.KeyPrinters)
	if err != nil {
		return nil, fmt.Errorf("read printers: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var list []PrinterConfig
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("parse printers: %w", err)
	}
	return list, nil
}

func (r *Registry) save(list []PrinterConfig) error {
	if list == nil {
		list = []PrinterConfig{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return err
	}
	if err := r.store.Set(store.KeyPrinters, string(b)); err != nil {
		return fmt.Errorf("save printers: %w", err)
	}
	return nil
}

// normalize fills default profiles, drops later duplicates of a fingerprint
// and leaves exactly one default on a non-empty list.
func normalize(list []PrinterConfig) []PrinterConfig {
	out := list[:0]
	seen := make(map[string]bool, len(list))
	for _, p := range list {
		if p.Fingerprint != "" {
			if seen[p.Fingerprint] {
				continue
			}
			seen[p.Fingerprint] = true
		}
		if p.Profile == "" {
			p.Profile = DefaultProfile
		}
		out = append(out, p)
	}

	def := -1
	for i := range out {
		if out[i].IsDefault {
			def = i
			break
		}
	}
	if len(out) > 0 {
		if def < 0 {
			def = 0
		}
		markDefault(out, def)
	}
	return out
}

func markDefault(list []PrinterConfig, i int) {
	for j := range list {
		list[j].IsDefault = j == i
	}
}

func indexByID(list []PrinterConfig, id string) int {
	if id == "" {
		return -1
	}
	for i, p := range list {
		if p.PrinterID == id {
			return i
		}
	}
	return -1
}

func indexByFingerprint(list []PrinterConfig, fp string) int {
	for i, p := range list {
		if p.Fingerprint == fp {
			return i
		}
	}
	return -1
}
