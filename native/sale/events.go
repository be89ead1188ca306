package sale

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"ownersale/core/types"
)

const (
	EventTypeSaleCreated   = "sale.created"
	EventTypeSaleStarted   = "sale.started"
	EventTypeOfferMade     = "sale.offer_made"
	EventTypeSaleFinalized = "sale.finalized"
	EventTypeSaleCancelled = "sale.cancelled"
)

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e saleEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the notification payload for a freshly initialized
// sale instance.
func NewCreatedEvent(c *Controller) *types.Event {
	evt := baseEvent(EventTypeSaleCreated, c)
	evt.Attributes["previousAdmin"] = c.engine.PreviousAdmin().Hex()
	template := c.engine.Template()
	evt.Attributes["transferSelector"] = template.TransferSelector.Hex()
	evt.Attributes["querySelector"] = template.QuerySelector.Hex()
	return evt
}

// NewStartedEvent returns the notification payload emitted when the sale
// opens at an asking price.
func NewStartedEvent(c *Controller) *types.Event {
	evt := baseEvent(EventTypeSaleStarted, c)
	if price, ok := c.BuyItNowPrice(); ok {
		evt.Attributes["amount"] = price.Amount.String()
		evt.Attributes["asset"] = price.Asset
	}
	return evt
}

// NewOfferMadeEvent returns the notification payload for a recorded offer.
func NewOfferMadeEvent(c *Controller, offer Offer) *types.Event {
	evt := baseEvent(EventTypeOfferMade, c)
	evt.Attributes["bidder"] = offer.Bidder.Hex()
	evt.Attributes["amount"] = offer.Amount.String()
	evt.Attributes["asset"] = offer.Asset
	return evt
}

// NewFinalizedEvent returns the notification payload for a completed sale.
func NewFinalizedEvent(c *Controller, buyer common.Address, amount *big.Int, asset string) *types.Event {
	evt := baseEvent(EventTypeSaleFinalized, c)
	evt.Attributes["buyer"] = buyer.Hex()
	evt.Attributes["amount"] = amount.String()
	evt.Attributes["asset"] = asset
	return evt
}

// NewCancelledEvent returns the notification payload for an aborted sale.
func NewCancelledEvent(c *Controller) *types.Event {
	evt := baseEvent(EventTypeSaleCancelled, c)
	evt.Attributes["previousAdmin"] = c.engine.PreviousAdmin().Hex()
	return evt
}

func baseEvent(eventType string, c *Controller) *types.Event {
	attrs := make(map[string]string)
	if c != nil {
		attrs["saleId"] = c.saleID
		attrs["resource"] = c.Resource().Hex()
		attrs["administrator"] = c.administrator.Hex()
		attrs["status"] = c.status.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
