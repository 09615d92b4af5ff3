package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MainnetBaseURL is the production spot REST endpoint.
	MainnetBaseURL = "https://api.binance.com"
	// TestnetBaseURL is the spot testnet REST endpoint.
	TestnetBaseURL = "https://testnet.binance.vision"

	// defaultRecvWindow bounds the permitted clock skew on signed requests.
	defaultRecvWindow = 59999
)

type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	recvWindow int
	httpClient *http.Client
}

func NewClient(apiKey, secretKey, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		recvWindow: defaultRecvWindow,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Kline represents a candlestick
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Close     float64 `json:"close,string"`
	Volume    float64 `json:"volume,string"`
	CloseTime int64   `json:"closeTime"`
}

// OrderResponse represents a response from placing or querying an order
type OrderResponse struct {
	Symbol              string  `json:"symbol"`
	OrderId             int64   `json:"orderId"`
	ClientOrderId       string  `json:"clientOrderId"`
	TransactTime        int64   `json:"transactTime"`
	Price               float64 `json:"price,string"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	Type                string  `json:"type"`
	Side                string  `json:"side"`
}

// GetKlines fetches candlestick data
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.doPublic(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 7 {
			return nil, fmt.Errorf("malformed kline row at index %d", i)
		}
		klines[i] = Kline{
			OpenTime:  int64(raw[0].(float64)),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
			CloseTime: int64(raw[6].(float64)),
		}
	}

	return klines, nil
}

// GetCurrentPrice fetches the current price for a symbol
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doPublic(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, fmt.Errorf("error fetching price: %w", err)
	}

	var priceResp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, fmt.Errorf("error parsing price: %w", err)
	}

	return priceResp.Price, nil
}

// GetSymbolMetadata fetches exchange info for one symbol and extracts the
// precision filters. Called once per symbol at startup.
func (c *Client) GetSymbolMetadata(ctx context.Context, symbol string) (*SymbolMetadata, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.doPublic(ctx, "/api/v3/exchangeInfo", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching exchange info: %w", err)
	}

	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType string  `json:"filterType"`
				TickSize   float64 `json:"tickSize,string"`
				StepSize   float64 `json:"stepSize,string"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		meta := &SymbolMetadata{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				meta.TickSize = f.TickSize
			case "LOT_SIZE":
				meta.StepSize = f.StepSize
			}
		}
		if meta.TickSize == 0 || meta.StepSize == 0 {
			return nil, fmt.Errorf("symbol %s is missing precision filters", symbol)
		}
		return meta, nil
	}

	return nil, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

// PlaceOrder places a new order
func (c *Client) PlaceOrder(ctx context.Context, params map[string]string) (*OrderResponse, error) {
	body, err := c.doSigned(ctx, "POST", "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	return &orderResp, nil
}

// ReplaceOrder atomically cancels an existing order and places a new one.
// STOP_ON_FAILURE keeps the old order working when the new one is rejected.
// A missing cancel order id surfaces as ErrOrderNotFound; the caller must
// re-query the order instead of assuming it was canceled.
func (c *Client) ReplaceOrder(ctx context.Context, oldOrderId int64, params map[string]string) (*OrderResponse, error) {
	params["cancelReplaceMode"] = "STOP_ON_FAILURE"
	params["cancelOrderId"] = strconv.FormatInt(oldOrderId, 10)

	body, err := c.doSigned(ctx, "POST", "/api/v3/order/cancelReplace", params)
	if err != nil {
		return nil, err
	}

	var replaceResp struct {
		NewOrderResponse OrderResponse `json:"newOrderResponse"`
	}
	if err := json.Unmarshal(body, &replaceResp); err != nil {
		return nil, fmt.Errorf("error parsing cancel-replace response: %w", err)
	}

	return &replaceResp.NewOrderResponse, nil
}

// CancelOrder cancels an existing order
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderId int64) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderId, 10),
	}
	_, err := c.doSigned(ctx, "DELETE", "/api/v3/order", params)
	return err
}

// QueryOrder fetches the current status of an order by exchange id
func (c *Client) QueryOrder(ctx context.Context, symbol string, orderId int64) (*OrderResponse, error) {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderId, 10),
	}
	body, err := c.doSigned(ctx, "GET", "/api/v3/order", params)
	if err != nil {
		return nil, err
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(body, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order status: %w", err)
	}

	return &orderResp, nil
}

// GetFreeBalance returns the free balance of one asset from account info
func (c *Client) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	body, err := c.doSigned(ctx, "GET", "/api/v3/account", map[string]string{})
	if err != nil {
		return 0, err
	}

	var account struct {
		Balances []struct {
			Asset string  `json:"asset"`
			Free  float64 `json:"free,string"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return 0, fmt.Errorf("error parsing account info: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return 0, nil
}

// GetTradePrice looks up the executed price of a filled order from the
// account trade history. Returns 0 when no trade matches the order id.
func (c *Client) GetTradePrice(ctx context.Context, symbol string, orderId int64) (float64, error) {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderId, 10),
	}
	body, err := c.doSigned(ctx, "GET", "/api/v3/myTrades", params)
	if err != nil {
		return 0, err
	}

	var trades []struct {
		OrderId int64   `json:"orderId"`
		Price   float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &trades); err != nil {
		return 0, fmt.Errorf("error parsing trades: %w", err)
	}

	for _, t := range trades {
		if t.OrderId == orderId {
			return t.Price, nil
		}
	}
	return 0, nil
}

// GetListenKey creates a user data stream session token
func (c *Client) GetListenKey(ctx context.Context) (string, error) {
	body, err := c.doKeyed(ctx, "POST", "/api/v3/userDataStream", url.Values{})
	if err != nil {
		return "", err
	}

	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("error parsing listen key: %w", err)
	}

	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the validity of a listen key
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.doKeyed(ctx, "PUT", "/api/v3/userDataStream", params)
	return err
}

// CloseListenKey deletes a listen key, ending the stream session
func (c *Client) CloseListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.doKeyed(ctx, "DELETE", "/api/v3/userDataStream", params)
	return err
}

// doPublic issues an unsigned GET and returns the response body.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.execute(ctx, req)
}

// doKeyed issues a request that needs the API key header but no signature
// (the user data stream endpoints).
func (c *Client) doKeyed(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	endpoint := fmt.Sprintf("%s%s", c.baseURL, path)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return c.execute(ctx, req)
}

// doSigned issues an authenticated request. The timestamp, recv window and
// signature are appended to the caller's params.
func (c *Client) doSigned(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	values.Set("recvWindow", strconv.Itoa(c.recvWindow))
	values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))

	query := values.Encode()
	query += "&signature=" + c.sign(query)

	endpoint := fmt.Sprintf("%s%s", c.baseURL, path)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	return c.execute(ctx, req)
}

// execute runs a request with bounded exponential backoff on transport
// errors and 5xx responses. Exchange rejections (4xx with a code/msg body)
// are terminal and returned as *APIError.
func (c *Client) execute(ctx context.Context, req *http.Request) ([]byte, error) {
	var body []byte

	operation := func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("exchange returned %d: %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(parseAPIError(resp.StatusCode, body))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// sign creates a signature for authenticated requests
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}
