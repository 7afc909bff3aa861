package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies an instrument: the underlying index/stock itself,
// or an option contract derived from it.
type Kind string

const (
	KindUnderlying Kind = "UNDERLYING"
	KindCall       Kind = "CE"
	KindPut        Kind = "PE"
)

// Instrument represents a tradeable instrument. Instruments are immutable
// once created; the registry hands out the same identity for the same
// (underlying, strike, kind, expiry) forever.
// Strike is in paise (1 INR = 100 paise) to avoid floating-point drift.
type Instrument struct {
	Token         string    `json:"token"`
	Exchange      string    `json:"exchange"` // NSE for the underlying, NFO for options
	TradingSymbol string    `json:"trading_symbol"`
	Underlying    string    `json:"underlying"` // e.g. NIFTY, BANKNIFTY
	Kind          Kind      `json:"kind"`
	Strike        int64     `json:"strike"` // paise; 0 for the underlying
	Expiry        time.Time `json:"expiry"` // zero for the underlying
	LotSize       int64     `json:"lot_size"`
	TickSize      int64     `json:"tick_size"` // minimum price movement in paise
}

// Key returns a unique key for this instrument: "exchange:token".
func (i *Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}

// IsOption reports whether the instrument is a call or a put.
func (i *Instrument) IsOption() bool {
	return i.Kind == KindCall || i.Kind == KindPut
}

// OptionSymbol builds the exchange trading symbol for an option contract,
// e.g. "NIFTY25AUG24500CE". Strike is printed in whole rupees.
func OptionSymbol(underlying string, strike int64, kind Kind, expiry time.Time) string {
	return fmt.Sprintf("%s%02d%s%d%s",
		underlying,
		expiry.Year()%100,
		strings.ToUpper(expiry.Format("Jan")),
		strike/100,
		kind)
}
