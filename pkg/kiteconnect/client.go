// Package kiteconnect is a minimal Kite Connect v3 client covering the
// surface this terminal needs: session exchange, order placement and
// cancellation, positions, margins, and the NFO instrument dump. It also
// ships a websocket ticker for the market feed.
//
// Usage example:
//
//	kc := kiteconnect.NewClient(kiteconnect.Config{APIKey: "key", APISecret: "secret"})
//	code, _ := kiteconnect.TOTPCode("BASE32SECRET")
//	// complete the login flow in the browser with code, then:
//	if _, err := kc.GenerateSession("request_token"); err != nil { log.Fatal(err) }
//	orderID, err := kc.PlaceOrder(kiteconnect.OrderParams{...})
package kiteconnect

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"scalper-systemv1/internal/model"
)

const (
	defaultRoot    = "https://api.kite.trade"
	defaultTimeout = 7 * time.Second
	kiteVersion    = "3"

	VarietyRegular = "regular"
	ProductMIS     = "MIS"
	OrderTypeMkt   = "MARKET"
)

var routes = map[string]string{
	"api.token":            "/session/token",
	"api.token.invalidate": "/session/token",
	"user.margins":         "/user/margins",
	"orders":               "/orders",
	"order.place":          "/orders/%s",
	"order.cancel":         "/orders/%s/%s",
	"order.history":        "/orders/%s",
	"portfolio.positions":  "/portfolio/positions",
	"market.instruments":   "/instruments/%s",
}

// Config carries credentials and client tuning.
type Config struct {
	APIKey      string
	APISecret   string
	AccessToken string

	RootURL string        // default: https://api.kite.trade
	Timeout time.Duration // default: 7s
	Debug   bool
}

// Client is a Kite Connect REST client. Safe for concurrent use once the
// session is established.
type Client struct {
	apiKey      string
	apiSecret   string
	accessToken string
	rootURL     string
	debug       bool

	httpClient *http.Client

	// SessionExpiryHook fires when the API reports a TokenException,
	// typically meaning the daily access token lapsed.
	SessionExpiryHook func()
}

// NewClient initializes the REST client.
func NewClient(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		accessToken: cfg.AccessToken,
		rootURL:     strings.TrimRight(cfg.RootURL, "/"),
		debug:       cfg.Debug,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// TOTPCode computes the current time-based OTP for the login flow.
func TOTPCode(secret string) (string, error) {
	return totp.GenerateCode(secret, time.Now())
}

// SetAccessToken installs a previously obtained access token.
func (c *Client) SetAccessToken(token string) { c.accessToken = token }

// AccessToken returns the current access token.
func (c *Client) AccessToken() string { return c.accessToken }

// envelope is the common Kite response wrapper.
type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("X-Kite-Version", kiteVersion)
	if c.accessToken != "" {
		h.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)
	}
	return h
}

// doRequest performs one API call. POST/PUT bodies are form-encoded per the
// Kite API; responses unwrap the status/data envelope.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values) (json.RawMessage, error) {
	reqURL := c.rootURL + path

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else if params != nil {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header = c.headers()
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if c.debug {
		log.Printf("[kiteconnect] %s %s", method, reqURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("kiteconnect: bad response (%d): %w", resp.StatusCode, err)
	}
	if env.Status != "success" {
		if env.ErrorType == "TokenException" && c.SessionExpiryHook != nil {
			c.SessionExpiryHook()
		}
		return nil, fmt.Errorf("kiteconnect: %s: %s", env.ErrorType, env.Message)
	}
	return env.Data, nil
}

// Session is the payload returned by GenerateSession.
type Session struct {
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	AccessToken string `json:"access_token"`
	PublicToken string `json:"public_token"`
}

// GenerateSession exchanges a request token for an access token and installs
// it on the client. The checksum is sha256(api_key + request_token + secret).
func (c *Client) GenerateSession(requestToken string) (Session, error) {
	sum := sha256.Sum256([]byte(c.apiKey + requestToken + c.apiSecret))

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("request_token", requestToken)
	params.Set("checksum", hex.EncodeToString(sum[:]))

	data, err := c.doRequest(context.Background(), http.MethodPost, routes["api.token"], params)
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, err
	}
	if s.AccessToken == "" {
		return s, errors.New("kiteconnect: session response missing access token")
	}
	c.accessToken = s.AccessToken
	log.Printf("[kiteconnect] session established for %s", s.UserID)
	return s, nil
}

// InvalidateSession logs out the current access token.
func (c *Client) InvalidateSession(ctx context.Context) error {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("access_token", c.accessToken)
	_, err := c.doRequest(ctx, http.MethodDelete, routes["api.token.invalidate"], params)
	return err
}

// OrderParams describes a regular order. Quantity is in units, not lots.
type OrderParams struct {
	Exchange        string
	TradingSymbol   string
	TransactionType string // BUY or SELL
	Quantity        int64
	Product         string // default MIS
	OrderType       string // default MARKET
	Tag             string
}

// PlaceOrder places a regular order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, p OrderParams) (string, error) {
	if p.Product == "" {
		p.Product = ProductMIS
	}
	if p.OrderType == "" {
		p.OrderType = OrderTypeMkt
	}

	params := url.Values{}
	params.Set("exchange", p.Exchange)
	params.Set("tradingsymbol", p.TradingSymbol)
	params.Set("transaction_type", p.TransactionType)
	params.Set("quantity", strconv.FormatInt(p.Quantity, 10))
	params.Set("product", p.Product)
	params.Set("order_type", p.OrderType)
	if p.Tag != "" {
		params.Set("tag", p.Tag)
	}

	data, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf(routes["order.place"], VarietyRegular), params)
	if err != nil {
		return "", err
	}
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", errors.New("kiteconnect: place order response missing order id")
	}
	return out.OrderID, nil
}

// CancelOrder cancels a pending regular order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf(routes["order.cancel"], VarietyRegular, orderID), nil)
	return err
}

// Order is one entry of an order's state history at the broker.
type Order struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"` // OPEN, COMPLETE, REJECTED, CANCELLED
	StatusMessage  string  `json:"status_message"`
	AveragePrice   float64 `json:"average_price"` // rupees
	FilledQuantity int64   `json:"filled_quantity"`
	TradingSymbol  string  `json:"tradingsymbol"`
	Exchange       string  `json:"exchange"`
}

// OrderHistory returns the broker-side state transitions of one order,
// oldest first.
func (c *Client) OrderHistory(ctx context.Context, orderID string) ([]Order, error) {
	data, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf(routes["order.history"], orderID), nil)
	if err != nil {
		return nil, err
	}
	var out []Order
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// BrokerPosition is one row of the broker's net position book.
type BrokerPosition struct {
	TradingSymbol string  `json:"tradingsymbol"`
	Exchange      string  `json:"exchange"`
	Quantity      int64   `json:"quantity"` // units, signed
	AveragePrice  float64 `json:"average_price"`
	PnL           float64 `json:"pnl"`
}

// Positions returns the broker's net positions for reconciliation against
// the local book.
func (c *Client) Positions(ctx context.Context) ([]BrokerPosition, error) {
	data, err := c.doRequest(ctx, http.MethodGet, routes["portfolio.positions"], nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Net []BrokerPosition `json:"net"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Net, nil
}

// Margins returns available and utilised equity margin in paise.
func (c *Client) Margins(ctx context.Context) (available, utilised int64, err error) {
	data, err := c.doRequest(ctx, http.MethodGet, routes["user.margins"], nil)
	if err != nil {
		return 0, 0, err
	}
	var out struct {
		Equity struct {
			Net       float64 `json:"net"`
			Available struct {
				Cash float64 `json:"cash"`
			} `json:"available"`
			Utilised struct {
				Debits float64 `json:"debits"`
			} `json:"utilised"`
		} `json:"equity"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, 0, err
	}
	return paise(out.Equity.Available.Cash), paise(out.Equity.Utilised.Debits), nil
}

// Instruments downloads the instrument dump for an exchange and converts it
// to the terminal's instrument model. Implements instruments.CatalogFetcher.
func (c *Client) Instruments(ctx context.Context, exchange string) ([]model.Instrument, error) {
	reqURL := c.rootURL + fmt.Sprintf(routes["market.instruments"], exchange)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.headers()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kiteconnect: instrument dump returned %d", resp.StatusCode)
	}

	return parseInstrumentCSV(resp.Body, exchange)
}

// instrument dump columns:
// instrument_token,exchange_token,tradingsymbol,name,last_price,expiry,strike,
// tick_size,lot_size,instrument_type,segment,exchange
func parseInstrumentCSV(r io.Reader, exchange string) ([]model.Instrument, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("kiteconnect: instrument csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, need := range []string{"instrument_token", "tradingsymbol", "name", "expiry", "strike", "tick_size", "lot_size", "instrument_type"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("kiteconnect: instrument csv missing column %s", need)
		}
	}

	var out []model.Instrument
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		kind := model.Kind(rec[col["instrument_type"]])
		if kind != model.KindCall && kind != model.KindPut {
			continue // futures and misc rows
		}
		strike, err := strconv.ParseFloat(rec[col["strike"]], 64)
		if err != nil {
			continue
		}
		tick, _ := strconv.ParseFloat(rec[col["tick_size"]], 64)
		lot, _ := strconv.ParseInt(rec[col["lot_size"]], 10, 64)
		expiry, err := time.Parse("2006-01-02", rec[col["expiry"]])
		if err != nil {
			continue
		}

		out = append(out, model.Instrument{
			Token:         rec[col["instrument_token"]],
			Exchange:      exchange,
			TradingSymbol: rec[col["tradingsymbol"]],
			Underlying:    rec[col["name"]],
			Kind:          kind,
			Strike:        paise(strike),
			Expiry:        expiry,
			LotSize:       lot,
			TickSize:      paise(tick),
		})
	}
	return out, nil
}

// paise converts a rupee amount from the API to int64 paise.
func paise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}
