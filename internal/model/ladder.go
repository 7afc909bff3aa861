package model

// LadderRow is one strike of the option ladder: the call and put contracts
// at that strike together with their latest quotes. ATM marks the row whose
// strike is nearest to the current spot (lower strike wins an exact tie).
type LadderRow struct {
	Strike    int64      `json:"strike"` // paise
	Call      Instrument `json:"call"`
	Put       Instrument `json:"put"`
	CallQuote Quote      `json:"call_quote"`
	PutQuote  Quote      `json:"put_quote"`
	ATM       bool       `json:"atm"`
}

// LadderSnapshot is an immutable copy of one underlying's visible ladder,
// rows sorted by strike ascending.
type LadderSnapshot struct {
	Underlying string      `json:"underlying"`
	Spot       int64       `json:"spot"` // paise
	ATMStrike  int64       `json:"atm_strike"`
	Rows       []LadderRow `json:"rows"`
}
