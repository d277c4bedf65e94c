// Package command routes server commands to the registry, discovery and the
// printers, and answers each with an acknowledgement.
package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/notify"
	"github.com/thereceipt/print-agent/internal/protocol"
	"github.com/thereceipt/print-agent/internal/registry"
	"github.com/thereceipt/print-agent/internal/store"
)

// Publisher hands messages to the session. Send reports false when the
// message was dropped.
type Publisher interface {
	Send(msg any) bool
}

// Printer prints a markup stream on a configured printer.
type Printer interface {
	Print(ctx context.Context, cfg registry.PrinterConfig, markup string) error
}

// Scanner discovers printers, streaming candidates on found and closing it.
type Scanner interface {
	Scan(ctx context.Context, found chan<- registry.PrinterConfig) ([]registry.PrinterConfig, error)
}

// Restarter restarts the printing service.
type Restarter interface {
	Restart()
}

// Notifier raises operator notifications.
type Notifier interface {
	Notify(kind, title, text string)
}

// Deps are the collaborators of a Router.
type Deps struct {
	Registry      *registry.Registry
	Store         store.Store
	Scanner       Scanner
	Printer       Printer
	Publisher     Publisher
	Notifier      Notifier
	Restarter     Restarter
	LogoMaxHeight int
	Log           zerolog.Logger
}

// Router handles inbound messages.
type Router struct {
	Deps
	log zerolog.Logger
}

// NewRouter creates a router.
func NewRouter(d Deps) *Router {
	if d.LogoMaxHeight <= 0 {
		d.LogoMaxHeight = 120
	}
	return &Router{
		Deps: d,
		log:  d.Log.With().Str("component", "router").Logger(),
	}
}

// SetPublisher swaps the outbound path. The agent wires the session after
// both are built.
func (r *Router) SetPublisher(p Publisher) {
	r.Publisher = p
}

// Handle processes one raw message. It never panics and never returns an
// error: failures become acknowledgements or log entries.
func (r *Router) Handle(ctx context.Context, raw []byte) {
	cmd, err := protocol.Decode(raw)
	if err != nil {
		r.log.Warn().Err(err).Bytes("message", truncate(raw)).Msg("dropping malformed message")
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("type", cmd.Type).Msg("command handler panicked")
			err := apperr.Newf(apperr.KindUnknown, "internal error: %v", p)
			r.publish(protocol.NewAck(commandName(cmd.Type), cmd.Sender, cmd.PrinterID, err))
		}
	}()

	log := r.log.With().Str("type", cmd.Type).Str("sender", cmd.Sender).Logger()
	log.Debug().Str("printer_id", cmd.PrinterID).Msg("command received")

	if reply := r.dispatch(ctx, cmd, log); reply != nil {
		r.publish(reply)
	}
}

func (r *Router) dispatch(ctx context.Context, cmd *protocol.Command, log zerolog.Logger) any {
	switch cmd.Type {
	case protocol.TypeSubscribed:
		log.Info().Msg("subscribed to branch channel")
		return nil
	case protocol.TypeScan:
		r.handleScan(ctx, cmd, log)
		return nil
	case protocol.TypePrint:
		return r.handlePrint(ctx, cmd, log)
	case protocol.TypeDefault:
		return r.handleDefault(cmd, log)
	case protocol.TypeRemove:
		return r.handleRemove(cmd, log)
	case protocol.TypeUpdate:
		return r.handleUpdate(cmd, log)
	case protocol.TypeReset:
		r.handleReset(cmd, log)
		return nil
	case protocol.TypeList:
		return r.handleList(cmd, log)
	case protocol.TypeTest:
		return r.handleTest(ctx, cmd, log)
	default:
		log.Warn().Msg("unknown command type")
		return nil
	}
}

func (r *Router) publish(msg any) {
	if r.Publisher == nil {
		r.log.Error().Msg("no publisher, message dropped")
		return
	}
	r.Publisher.Send(msg)
}

// handleScan streams discovery results, persists them and publishes the
// summary. Discovery and the registry update finish even when the session
// is gone; only the publishing is lost then.
func (r *Router) handleScan(ctx context.Context, cmd *protocol.Command, log zerolog.Logger) {
	scanID := cmd.ScanID
	if scanID == "" {
		scanID = uuid.NewString()
	}
	log = log.With().Str("scan_id", scanID).Logger()
	ctx = context.WithoutCancel(ctx)

	found := make(chan registry.PrinterConfig)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for c := range found {
			r.publish(protocol.PrinterDiscovered{
				Type:   protocol.TypePrinterDiscovered,
				ScanID: scanID,
				Sender: cmd.Sender,
				Config: c,
			})
		}
	}()

	candidates, err := r.Scanner.Scan(ctx, found)
	wg.Wait()

	saved := candidates
	switch {
	case err != nil && len(candidates) == 0:
		log.Error().Err(err).Msg("scan failed, registry left unchanged")
	default:
		if err != nil {
			log.Warn().Err(err).Msg("scan incomplete")
		}
		saved, err = r.Registry.MergeDiscovered(candidates)
		if err != nil {
			log.Error().Err(err).Msg("saving scan result failed")
			saved = candidates
		}
	}
	if saved == nil {
		saved = []registry.PrinterConfig{}
	}

	summary := protocol.ScanComplete{
		Type:     protocol.TypeScanComplete,
		BranchID: store.GetString(r.Store, store.KeyBranchID),
		ScanID:   scanID,
		Sender:   cmd.Sender,
		Count:    len(saved),
		Printers: saved,
	}
	if r.Publisher == nil || !r.Publisher.Send(summary) {
		log.Error().Int("count", len(saved)).Msg("scan_complete not delivered")
		return
	}
	log.Info().Int("count", len(saved)).Msg("scan complete")
}

func (r *Router) handleDefault(cmd *protocol.Command, log zerolog.Logger) *protocol.Ack {
	err := r.Registry.SetDefault(cmd.PrinterID)
	if err != nil {
		log.Warn().Err(err).Str("printer_id", cmd.PrinterID).Msg("set default failed")
	}
	return protocol.NewAck("default", cmd.Sender, cmd.PrinterID, err)
}

func (r *Router) handleRemove(cmd *protocol.Command, log zerolog.Logger) *protocol.Ack {
	err := r.Registry.Remove(cmd.PrinterID)
	if err != nil {
		log.Warn().Err(err).Str("printer_id", cmd.PrinterID).Msg("remove failed")
	}
	return protocol.NewAck("remove", cmd.Sender, cmd.PrinterID, err)
}

// handleUpdate answers only on failure; a successful update is confirmed by
// the next list.
func (r *Router) handleUpdate(cmd *protocol.Command, log zerolog.Logger) *protocol.Ack {
	var err error
	switch {
	case cmd.PrinterID == "":
		err = apperr.New(apperr.KindInvalid, "missing printer_id")
	case cmd.Config == nil:
		err = apperr.New(apperr.KindInvalid, "missing config")
	default:
		_, err = r.Registry.Upsert(cmd.Config.PrinterConfig(cmd.PrinterID))
	}
	if err != nil {
		log.Warn().Err(err).Str("printer_id", cmd.PrinterID).Msg("update rejected")
		return protocol.NewAck("update", cmd.Sender, cmd.PrinterID, err)
	}
	return nil
}

func (r *Router) handleReset(cmd *protocol.Command, log zerolog.Logger) {
	// Printers go through the registry so the clear waits out any in-flight
	// registry update.
	err := r.Registry.Clear()
	if err == nil {
		err = r.Store.Clear()
	}
	r.publish(protocol.NewAck("reset", cmd.Sender, "", err))
	if err != nil {
		log.Error().Err(err).Msg("reset failed")
		return
	}

	log.Warn().Msg("local state cleared, restarting")
	if r.Notifier != nil {
		r.Notifier.Notify(notify.KindServiceReboot, "Service Reboot", "Print service restarting after a remote reset")
	}
	if r.Restarter != nil {
		r.Restarter.Restart()
	}
}

func (r *Router) handleList(cmd *protocol.Command, log zerolog.Logger) *protocol.ListAck {
	printers, err := r.Registry.List()
	if err != nil {
		log.Error().Err(err).Msg("list failed")
	}
	if printers == nil {
		printers = []registry.PrinterConfig{}
	}
	return &protocol.ListAck{
		Ack:      *protocol.NewAck("list", cmd.Sender, "", err),
		Printers: printers,
	}
}

func commandName(t string) string {
	return strings.TrimSuffix(t, ".command")
}

func truncate(b []byte) []byte {
	if len(b) > 256 {
		return b[:256]
	}
	return b
}

func describe(cfg registry.PrinterConfig) string {
	if cfg.PrinterID != "" {
		return fmt.Sprintf("%s (%s)", cfg.PrinterID, cfg.Describe())
	}
	return cfg.Describe()
}
