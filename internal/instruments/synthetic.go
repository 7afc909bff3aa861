package instruments

import (
	"time"

	"scalper-systemv1/internal/model"
)

// UnderlyingSpec describes one tracked underlying: its spot feed token and
// the contract parameters used to derive option instruments. Prices in paise.
type UnderlyingSpec struct {
	Symbol       string    // e.g. NIFTY
	SpotToken    string    // feed token of the index/stock itself
	SpotExchange string    // e.g. NSE
	LotSize      int64     // contract multiplier, e.g. 25
	StrikeStep   int64     // strike grid spacing in paise, e.g. 5000 (₹50)
	TickSize     int64     // minimum premium movement in paise
	Expiry       time.Time // active expiry the ladder trades
}

// SyntheticSource derives option instruments from the configured
// underlying specs instead of a broker catalog. Tokens equal the trading
// symbol, which lets the simulated feed derive the same identities.
// Used for paper sessions without broker credentials.
type SyntheticSource struct {
	specs map[string]UnderlyingSpec
}

// NewSyntheticSource creates a source from the configured underlyings.
func NewSyntheticSource(specs []UnderlyingSpec) *SyntheticSource {
	m := make(map[string]UnderlyingSpec, len(specs))
	for _, s := range specs {
		m[s.Symbol] = s
	}
	return &SyntheticSource{specs: m}
}

// Lookup derives the option contract for the requested strike. Strikes must
// sit on the underlying's strike grid; anything off-grid does not exist.
func (s *SyntheticSource) Lookup(underlying string, strike int64, kind model.Kind, expiry time.Time) (model.Instrument, bool) {
	spec, ok := s.specs[underlying]
	if !ok {
		return model.Instrument{}, false
	}
	if strike <= 0 || spec.StrikeStep <= 0 || strike%spec.StrikeStep != 0 {
		return model.Instrument{}, false
	}

	symbol := model.OptionSymbol(underlying, strike, kind, expiry)
	return model.Instrument{
		Token:         symbol,
		Exchange:      "NFO",
		TradingSymbol: symbol,
		Underlying:    underlying,
		Kind:          kind,
		Strike:        strike,
		Expiry:        expiry,
		LotSize:       spec.LotSize,
		TickSize:      spec.TickSize,
	}, true
}

// Spot returns the underlying's own instrument.
func (s *SyntheticSource) Spot(underlying string) (model.Instrument, bool) {
	spec, ok := s.specs[underlying]
	if !ok {
		return model.Instrument{}, false
	}
	return model.Instrument{
		Token:         spec.SpotToken,
		Exchange:      spec.SpotExchange,
		TradingSymbol: underlying,
		Underlying:    underlying,
		Kind:          model.KindUnderlying,
		LotSize:       spec.LotSize,
		TickSize:      spec.TickSize,
	}, true
}
