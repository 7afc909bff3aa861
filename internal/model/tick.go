package model

import (
	"encoding/json"
	"time"
)

// RawUpdate is a feed update exactly as the ticker client delivers it,
// before sequence gating. Prices are in paise.
type RawUpdate struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	LTP      int64     `json:"ltp"`
	Bid      int64     `json:"bid"`
	Ask      int64     `json:"ask"`
	Seq      int64     `json:"seq"` // exchange sequence number
	TickTS   time.Time `json:"tick_ts"`
}

// Key returns "exchange:token".
func (r *RawUpdate) Key() string {
	return r.Exchange + ":" + r.Token
}

// Tick is a canonical, sequence-gated market data tick. Downstream
// consumers may assume ticks for one instrument arrive in strictly
// increasing Seq order.
type Tick struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	LTP      int64     `json:"ltp"` // paise
	Bid      int64     `json:"bid"` // paise, 0 = no bid
	Ask      int64     `json:"ask"` // paise, 0 = no ask
	Seq      int64     `json:"seq"`
	TickTS   time.Time `json:"tick_ts"` // UTC
}

// Key returns a unique key for this tick's instrument: "exchange:token".
func (t *Tick) Key() string {
	return t.Exchange + ":" + t.Token
}

// Quote extracts the quote fields of the tick.
func (t *Tick) Quote() Quote {
	return Quote{LTP: t.LTP, Bid: t.Bid, Ask: t.Ask, Seq: t.Seq, TS: t.TickTS}
}

// JSON returns the JSON-encoded tick (ignoring errors for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// Quote is the latest known market for one instrument. The zero value
// means no tick has arrived yet.
type Quote struct {
	LTP int64     `json:"ltp"` // paise
	Bid int64     `json:"bid"` // paise
	Ask int64     `json:"ask"` // paise
	Seq int64     `json:"seq"`
	TS  time.Time `json:"ts"`
}

// Valid reports whether at least one price field has been observed.
func (q Quote) Valid() bool {
	return q.LTP > 0 || q.Bid > 0 || q.Ask > 0
}
