package paper

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"scalper-systemv1/internal/model"
)

// Account is the simulated cash account backing paper trading. Buys debit
// cash, sells credit it. State persists to a small JSON file so a rehearsal
// session survives restarts.
type Account struct {
	mu      sync.Mutex
	balance int64 // paise
	path    string
}

// accountState is the on-disk layout.
type accountState struct {
	Balance int64 `json:"balance"`
}

// NewAccount creates an Account with the given starting balance, loading
// prior state from path if present. An empty path disables persistence.
func NewAccount(startingBalance int64, path string) *Account {
	a := &Account{balance: startingBalance, path: path}
	a.load()
	return a
}

// Balance returns the current cash balance in paise.
func (a *Account) Balance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// applyFill moves cash for an executed paper fill. units is contract
// quantity (lots × lot size), price per unit in paise.
func (a *Account) applyFill(txType model.TransactionType, units, price int64) {
	value := units * price

	a.mu.Lock()
	if txType == model.TransactionBuy {
		a.balance -= value
	} else {
		a.balance += value
	}
	a.mu.Unlock()

	a.save()
}

// MarginSummary mirrors a broker margins response for the paper account.
type MarginSummary struct {
	Net       int64 `json:"net"`       // cash balance, paise
	Utilised  int64 `json:"utilised"`  // notional of open paper positions
	Available int64 `json:"available"` // net − utilised
}

// Margins computes the margin view against the currently open paper positions.
func (a *Account) Margins(open []model.Position) MarginSummary {
	var used int64
	for _, p := range open {
		if p.Mode != model.ModePaper {
			continue
		}
		used += p.Qty * p.Instrument.LotSize * p.AvgPrice
	}

	a.mu.Lock()
	bal := a.balance
	a.mu.Unlock()

	return MarginSummary{Net: bal, Utilised: used, Available: bal - used}
}

func (a *Account) load() {
	if a.path == "" {
		return
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return // first run
	}
	var st accountState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("[paper] account state unreadable, starting fresh: %v", err)
		return
	}
	a.balance = st.Balance
	log.Printf("[paper] account state loaded, balance=%d", st.Balance)
}

func (a *Account) save() {
	if a.path == "" {
		return
	}
	a.mu.Lock()
	st := accountState{Balance: a.balance}
	a.mu.Unlock()

	data, _ := json.Marshal(st)
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		log.Printf("[paper] account state dir: %v", err)
		return
	}
	if err := os.WriteFile(a.path, data, 0o644); err != nil {
		log.Printf("[paper] account state save: %v", err)
	}
}
