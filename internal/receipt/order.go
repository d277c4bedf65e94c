package receipt

import (
	"encoding/json"

	"github.com/thereceipt/print-agent/internal/apperr"
	"github.com/thereceipt/print-agent/internal/protocol"
)

// Item is one order line.
type Item struct {
	MenuItem string           `json:"menu_item"`
	Quantity protocol.Decimal `json:"quantity"`
	Price    protocol.Decimal `json:"price"`
}

// Order is the print.command payload.
type Order struct {
	OrderID     protocol.StringOrNumber `json:"order_id"`
	OrderNumber protocol.StringOrNumber `json:"order_number"`
	OrderDate   string                  `json:"order_date"`
	BranchName  string                  `json:"branch_name"`
	Items       []Item                  `json:"items"`
	// Total is nil when the server omits it; the item sum is printed then.
	Total     *protocol.Decimal       `json:"total"`
	PrinterID protocol.StringOrNumber `json:"printer_id"`
	Sender    protocol.StringOrNumber `json:"sender"`
}

// ParseOrder decodes a print payload.
func ParseOrder(payload json.RawMessage) (Order, error) {
	var o Order
	if err := json.Unmarshal(payload, &o); err != nil {
		return Order{}, apperr.Wrap(apperr.KindRender, "decode order", err)
	}
	return o, nil
}

// Validate reports the first missing or malformed field.
func (o Order) Validate() error {
	if o.OrderNumber == "" {
		return apperr.New(apperr.KindRender, "missing order_number")
	}
	for i, it := range o.Items {
		if it.MenuItem == "" {
			return apperr.Newf(apperr.KindRender, "item %d: missing menu_item", i+1)
		}
		if it.Quantity <= 0 {
			return apperr.Newf(apperr.KindRender, "item %d: quantity must be positive", i+1)
		}
		if it.Price < 0 {
			return apperr.Newf(apperr.KindRender, "item %d: negative price", i+1)
		}
	}
	return nil
}

// LineTotal is quantity times unit price.
func (it Item) LineTotal() float64 {
	return float64(it.Quantity) * float64(it.Price)
}

// GrandTotal is the order total, or the item sum when none was sent.
func (o Order) GrandTotal() float64 {
	if o.Total != nil {
		return float64(*o.Total)
	}
	var sum float64
	for _, it := range o.Items {
		sum += it.LineTotal()
	}
	return sum
}
