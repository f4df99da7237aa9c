package models

import (
	"tokenflow/normalize"
)

// Record type discriminators carried by inbound messages.
const (
	RecordTypeSnapshot = "tg"
	RecordTypeCandle   = "kline"
)

// Keys treated as metadata when coercing candle fields to float.
const (
	keyType     = "type"
	keyToken    = "token"
	keyExchange = "exchange"
	keyTS       = "ts"
)

// InboundRecord is a decoded message from the transport boundary. The
// transport owns payload decoding; by the time a record reaches the pool it
// is already a structured key/value object. Fields carries everything beyond
// the identity/type metadata and stays loosely typed until ingestion
// normalizes it.
type InboundRecord struct {
	Type      string
	Asset     string
	Venue     string
	Timestamp float64
	Fields    map[string]interface{}
}

// FromMap builds an InboundRecord from a decoded JSON object. Missing keys
// map to zero values; routing decides what to do with them.
func FromMap(m map[string]interface{}) InboundRecord {
	rec := InboundRecord{
		Fields: make(map[string]interface{}, len(m)),
	}
	for k, v := range m {
		switch k {
		case keyType:
			if s, ok := v.(string); ok {
				rec.Type = s
			}
		case keyToken:
			if s, ok := v.(string); ok {
				rec.Asset = s
			}
		case keyExchange:
			if s, ok := v.(string); ok {
				rec.Venue = s
			}
		case keyTS:
			rec.Timestamp = normalize.Float(v, 0)
		default:
			rec.Fields[k] = v
		}
	}
	return rec
}

// SnapshotRecord is one irregular market-interest event for an asset,
// fully normalized. Immutable once appended to a buffer.
type SnapshotRecord struct {
	Timestamp       float64 `json:"ts"`
	Asset           string  `json:"token"`
	OpenInterest    float64 `json:"openInterest"`
	Volume          float64 `json:"volume"`
	Trades8h        float64 `json:"trades8h"`
	OIChange4h      float64 `json:"oiChange4h"`
	CoinChange24h   float64 `json:"coinChange24h"`
	Notifications8h float64 `json:"notificationsCount8h"`
	VenueBinance    float64 `json:"ex_binance"`
	VenueBybit      float64 `json:"ex_bybit"`
}

// CandleRecord is one periodic price/volume bar for an asset. The named
// OHLCV fields are always present (zero when missing upstream); anything
// else numeric from the feed, such as moving averages or a vwap reference,
// lands in Extra keyed by its upstream field name.
type CandleRecord struct {
	Timestamp float64            `json:"ts"`
	Asset     string             `json:"token"`
	Open      float64            `json:"open"`
	High      float64            `json:"high"`
	Low       float64            `json:"low"`
	Close     float64            `json:"close"`
	Volume    float64            `json:"volume"`
	Extra     map[string]float64 `json:"extra,omitempty"`
}

// Ref returns a named reference field (MA99, vwap, ...) or 0 when the feed
// never supplied it.
func (c CandleRecord) Ref(name string) float64 {
	if c.Extra == nil {
		return 0
	}
	return c.Extra[name]
}
