package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventPriceUpdate    EventType = "price_update"
	EventTrade          EventType = "trade"
	EventExchangeStatus EventType = "exchange_status"
)

// MarketEvent is the envelope pushed to every subscriber, one per text frame.
type MarketEvent struct {
	Type      EventType       `json:"type"`
	Symbol    string          `json:"symbol,omitempty"`
	Price     float64         `json:"price,omitempty"`
	Quantity  float64         `json:"quantity,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Exchange  string          `json:"exchange,omitempty"`
	Status    string          `json:"status,omitempty"`
	Exchanges []ExchangeState `json:"exchanges,omitempty"`
	Raw       *BinanceTrade   `json:"raw,omitempty"`
}

// ExchangeState is one entry of an exchange_status event.
type ExchangeState struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// BinanceTrade mirrors the Binance <symbol>@trade stream payload so clients
// written against that format can consume the raw field directly.
type BinanceTrade struct {
	EventType     string `json:"e"`
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	TradeID       int64  `json:"t"`
	Price         string `json:"p"`
	Quantity      string `json:"q"`
	BuyerOrderID  int64  `json:"b"`
	SellerOrderID int64  `json:"a"`
	TradeTime     int64  `json:"T"`
	IsBuyerMaker  bool   `json:"m"`
	Ignore        bool   `json:"M"`
}

// Marshal encodes the event with its timestamp normalised to UTC.
func (e MarketEvent) Marshal() ([]byte, error) {
	e.Timestamp = e.Timestamp.UTC()
	return json.Marshal(e)
}

// SymbolOf extracts the symbol field of an encoded event without decoding the
// whole envelope. It returns "" when the payload has no symbol.
func SymbolOf(payload []byte) string {
	var head struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.Symbol
}
