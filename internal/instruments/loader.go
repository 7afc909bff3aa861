package instruments

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"scalper-systemv1/internal/model"
)

// CatalogFetcher downloads the full derivatives instrument dump from the
// broker. Implemented by pkg/kiteconnect.
type CatalogFetcher interface {
	Instruments(ctx context.Context, exchange string) ([]model.Instrument, error)
}

// cacheMaxAge is how long a cached instrument dump stays valid. Option
// catalogs churn with expiries, so half a day is the safe window.
const cacheMaxAge = 12 * time.Hour

// Loader fetches the NFO instrument catalog with a disk cache. On a fetch
// failure an expired cache is used as a fallback so the terminal can still
// start while the broker API is flaky.
type Loader struct {
	fetcher  CatalogFetcher
	cacheDir string
}

// cacheFile is the on-disk cache layout.
type cacheFile struct {
	FetchedAt   time.Time          `json:"fetched_at"`
	Instruments []model.Instrument `json:"instruments"`
}

// NewLoader creates a Loader caching under dir.
func NewLoader(fetcher CatalogFetcher, dir string) *Loader {
	return &Loader{fetcher: fetcher, cacheDir: dir}
}

func (l *Loader) cachePath() string {
	return filepath.Join(l.cacheDir, "nfo_instruments.json")
}

// Load returns the option catalog filtered to the given underlyings,
// preferring a fresh cache, then the network, then an expired cache.
func (l *Loader) Load(ctx context.Context, underlyings []string) ([]model.Instrument, error) {
	wanted := make(map[string]bool, len(underlyings))
	for _, u := range underlyings {
		wanted[u] = true
	}

	if cached, age, err := l.readCache(); err == nil && age < cacheMaxAge {
		log.Printf("[instruments] using cached catalog (age %v, %d instruments)", age.Round(time.Second), len(cached))
		return filterCatalog(cached, wanted), nil
	}

	fetched, err := l.fetcher.Instruments(ctx, "NFO")
	if err != nil {
		// Fall back to an expired cache rather than failing startup.
		if cached, age, cerr := l.readCache(); cerr == nil {
			log.Printf("[instruments] fetch failed (%v), using expired cache (age %v)", err, age.Round(time.Second))
			return filterCatalog(cached, wanted), nil
		}
		return nil, fmt.Errorf("instrument catalog fetch: %w", err)
	}

	if werr := l.writeCache(fetched); werr != nil {
		log.Printf("[instruments] cache write failed: %v", werr)
	}
	log.Printf("[instruments] fetched %d instruments from broker", len(fetched))
	return filterCatalog(fetched, wanted), nil
}

func (l *Loader) readCache() ([]model.Instrument, time.Duration, error) {
	data, err := os.ReadFile(l.cachePath())
	if err != nil {
		return nil, 0, err
	}
	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, 0, err
	}
	return cf.Instruments, time.Since(cf.FetchedAt), nil
}

func (l *Loader) writeCache(insts []model.Instrument) error {
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(cacheFile{FetchedAt: time.Now().UTC(), Instruments: insts})
	if err != nil {
		return err
	}
	return os.WriteFile(l.cachePath(), data, 0o644)
}

// filterCatalog keeps only CE/PE contracts of the tracked underlyings.
func filterCatalog(insts []model.Instrument, wanted map[string]bool) []model.Instrument {
	out := make([]model.Instrument, 0, 1024)
	for _, in := range insts {
		if !wanted[in.Underlying] {
			continue
		}
		if in.Kind != model.KindCall && in.Kind != model.KindPut {
			continue
		}
		out = append(out, in)
	}
	return out
}

// CatalogSource serves registry lookups from a loaded broker catalog.
type CatalogSource struct {
	options map[string]model.Instrument // identity key → instrument
	spots   map[string]model.Instrument // symbol → spot instrument
}

// NewCatalogSource indexes the loaded catalog. Spot instruments come from
// the configured specs since the NFO dump carries only derivatives.
func NewCatalogSource(catalog []model.Instrument, specs []UnderlyingSpec) *CatalogSource {
	cs := &CatalogSource{
		options: make(map[string]model.Instrument, len(catalog)),
		spots:   make(map[string]model.Instrument, len(specs)),
	}
	for _, in := range catalog {
		cs.options[identKey(in.Underlying, in.Strike, in.Kind, in.Expiry)] = in
	}
	for _, s := range specs {
		cs.spots[s.Symbol] = model.Instrument{
			Token:         s.SpotToken,
			Exchange:      s.SpotExchange,
			TradingSymbol: s.Symbol,
			Underlying:    s.Symbol,
			Kind:          model.KindUnderlying,
			LotSize:       s.LotSize,
			TickSize:      s.TickSize,
		}
	}
	return cs
}

// Lookup implements Source.
func (cs *CatalogSource) Lookup(underlying string, strike int64, kind model.Kind, expiry time.Time) (model.Instrument, bool) {
	inst, ok := cs.options[identKey(underlying, strike, kind, expiry)]
	return inst, ok
}

// Spot implements Source.
func (cs *CatalogSource) Spot(underlying string) (model.Instrument, bool) {
	inst, ok := cs.spots[underlying]
	return inst, ok
}

// Strikes returns the sorted strike grid available for an underlying and
// expiry, used to validate ladder widening against the real catalog.
func (cs *CatalogSource) Strikes(underlying string, expiry time.Time) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for _, in := range cs.options {
		if in.Underlying != underlying || !in.Expiry.Equal(expiry) {
			continue
		}
		if !seen[in.Strike] {
			seen[in.Strike] = true
			out = append(out, in.Strike)
		}
	}
	sortInt64s(out)
	return out
}

// NearestExpiry returns the soonest expiry in the catalog for an
// underlying on or after the given day. Scalping always trades the front
// weekly contract. Zero time when the catalog has none.
func NearestExpiry(catalog []model.Instrument, underlying string, after time.Time) time.Time {
	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, after.Location())
	var best time.Time
	for _, in := range catalog {
		if in.Underlying != underlying || in.Expiry.Before(day) {
			continue
		}
		if best.IsZero() || in.Expiry.Before(best) {
			best = in.Expiry
		}
	}
	return best
}

// sortInt64s sorts ascending (insertion sort — catalogs per expiry are small).
func sortInt64s(v []int64) {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
}
