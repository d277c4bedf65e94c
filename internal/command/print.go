package command

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/printer"
	"github.com/thereceipt/print-agent/internal/protocol"
	"github.com/thereceipt/print-agent/internal/receipt"
)

// handlePrint renders the order and prints it on the named or default
// printer. Once started a job runs to completion even if the session goes
// away, so its connection is always released.
func (r *Router) handlePrint(ctx context.Context, cmd *protocol.Command, log zerolog.Logger) *protocol.Ack {
	ack := func(printerID string, err error) *protocol.Ack {
		a := protocol.NewAck("print", cmd.Sender, printerID, err)
		a.OrderID = cmd.OrderID
		return a
	}

	cfg, err := r.Registry.Resolve(cmd.PrinterID)
	if err != nil {
		log.Warn().Err(err).Str("printer_id", cmd.PrinterID).Str("order_id", cmd.OrderID).Msg("no printer for job")
		return ack(cmd.PrinterID, err)
	}

	order, err := receipt.ParseOrder(cmd.Payload)
	if err != nil {
		return ack(cfg.PrinterID, err)
	}

	profile, _ := printer.LookupProfile(cfg.Profile)
	header := receipt.LoadHeader(r.Store, profile, r.LogoMaxHeight, r.log)
	markup, err := receipt.Render(order, profile, header)
	if err != nil {
		log.Warn().Err(err).Str("order_id", cmd.OrderID).Msg("order not renderable")
		return ack(cfg.PrinterID, err)
	}

	if err := r.Printer.Print(context.WithoutCancel(ctx), cfg, markup); err != nil {
		log.Error().Err(err).Str("printer", describe(cfg)).Str("order_id", cmd.OrderID).Msg("print failed")
		return ack(cfg.PrinterID, err)
	}
	log.Info().Str("printer", describe(cfg)).Str("order_number", string(order.OrderNumber)).Msg("printed order")
	return ack(cfg.PrinterID, nil)
}

// handleTest prints the test pattern on the named printer. Unlike print there
// is no fallback to the default.
func (r *Router) handleTest(ctx context.Context, cmd *protocol.Command, log zerolog.Logger) *protocol.Ack {
	if cmd.PrinterID == "" {
		return protocol.NewAck("test", cmd.Sender, "", apperr.New(apperr.KindInvalid, "missing printer_id"))
	}
	cfg, err := r.Registry.Get(cmd.PrinterID)
	if err != nil {
		return protocol.NewAck("test", cmd.Sender, cmd.PrinterID, err)
	}

	profile, _ := printer.LookupProfile(cfg.Profile)
	err = r.Printer.Print(context.WithoutCancel(ctx), cfg, printer.TestPattern(profile))
	if err != nil {
		log.Warn().Err(err).Str("printer", describe(cfg)).Msg("test print failed")
	}
	return protocol.NewAck("test", cmd.Sender, cfg.PrinterID, err)
}
