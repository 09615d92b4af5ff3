package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// TEST CASES: REQUEST SIGNING
// ============================================================================

// TestSignedRequestCarriesValidSignature verifies the HMAC covers exactly the
// query string that is sent
func TestSignedRequestCarriesValidSignature(t *testing.T) {
	const secret = "test-secret"

	var gotQuery string
	var gotAPIKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAPIKey = r.Header.Get("X-MBX-APIKEY")
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":1,"status":"NEW"}`))
	}))
	defer server.Close()

	client := NewClient("test-key", secret, server.URL)
	if _, err := client.QueryOrder(context.Background(), "BTCUSDT", 1); err != nil {
		t.Fatalf("QueryOrder failed: %v", err)
	}

	if gotAPIKey != "test-key" {
		t.Errorf("Expected API key header test-key, got %s", gotAPIKey)
	}

	idx := strings.LastIndex(gotQuery, "&signature=")
	if idx < 0 {
		t.Fatalf("Query has no signature: %s", gotQuery)
	}
	payload := gotQuery[:idx]
	signature := gotQuery[idx+len("&signature="):]

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	want := hex.EncodeToString(mac.Sum(nil))
	if signature != want {
		t.Errorf("Signature mismatch: got %s, want %s", signature, want)
	}

	if !strings.Contains(payload, "recvWindow=59999") {
		t.Errorf("Expected recvWindow in payload, got %s", payload)
	}
	if !strings.Contains(payload, "timestamp=") {
		t.Errorf("Expected timestamp in payload, got %s", payload)
	}
}

// ============================================================================
// TEST CASES: ERROR MAPPING
// ============================================================================

// TestOrderNotFoundMapsToSentinel verifies code -2013 surfaces as
// ErrOrderNotFound through errors.Is
func TestOrderNotFoundMapsToSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2013,"msg":"Order does not exist."}`))
	}))
	defer server.Close()

	client := NewClient("k", "s", server.URL)
	_, err := client.ReplaceOrder(context.Background(), 42, map[string]string{
		"symbol": "BTCUSDT", "side": "BUY", "type": "LIMIT",
	})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Code != -2013 {
		t.Errorf("Expected code -2013, got %d", apiErr.Code)
	}
}

// TestStaleTimestampMapsToSentinel verifies code -1021 surfaces as
// ErrStaleRequest
func TestStaleTimestampMapsToSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`))
	}))
	defer server.Close()

	client := NewClient("k", "s", server.URL)
	_, err := client.PlaceOrder(context.Background(), map[string]string{"symbol": "BTCUSDT"})
	if !errors.Is(err, ErrStaleRequest) {
		t.Errorf("Expected ErrStaleRequest, got %v", err)
	}
}

// TestRejectionIsNotRetried verifies a 4xx rejection hits the server once
func TestRejectionIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance."}`))
	}))
	defer server.Close()

	client := NewClient("k", "s", server.URL)
	_, err := client.PlaceOrder(context.Background(), map[string]string{"symbol": "BTCUSDT"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 request, got %d", calls)
	}
}

// TestServerErrorIsRetried verifies 5xx responses are retried with backoff
func TestServerErrorIsRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"42000.10"}`))
	}))
	defer server.Close()

	client := NewClient("k", "s", server.URL)
	price, err := client.GetCurrentPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetCurrentPrice failed after retries: %v", err)
	}
	if price != 42000.10 {
		t.Errorf("Expected price 42000.10, got %v", price)
	}
	if calls != 3 {
		t.Errorf("Expected 3 requests, got %d", calls)
	}
}

// ============================================================================
// TEST CASES: RESPONSE PARSING
// ============================================================================

// TestGetKlinesParsesRows verifies the positional kline array decodes
func TestGetKlinesParsesRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			[1690000000000,"29000.1","29100.2","28900.3","29050.4","12.5",1690003599999,"362000.0",100,"6.0","174000.0","0"]
		]`))
	}))
	defer server.Close()

	client := NewClient("k", "s", server.URL)
	klines, err := client.GetKlines(context.Background(), "BTCUSDT", "1h", 1)
	if err != nil {
		t.Fatalf("GetKlines failed: %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("Expected 1 kline, got %d", len(klines))
	}

	k := klines[0]
	if k.OpenTime != 1690000000000 {
		t.Errorf("Expected open time 1690000000000, got %d", k.OpenTime)
	}
	if k.Close != 29050.4 {
		t.Errorf("Expected close 29050.4, got %v", k.Close)
	}
	if k.Volume != 12.5 {
		t.Errorf("Expected volume 12.5, got %v", k.Volume)
	}
}

// TestGetSymbolMetadataExtractsFilters verifies tick and step sizes are read
// from the exchange info filters
func TestGetSymbolMetadataExtractsFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{
			"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT",
			"filters":[
				{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"},
				{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000","stepSize":"0.00001"}
			]}]}`))
	}))
	defer server.Close()

	client := NewClient("k", "s", server.URL)
	meta, err := client.GetSymbolMetadata(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("GetSymbolMetadata failed: %v", err)
	}
	if meta.TickSize != 0.01 {
		t.Errorf("Expected tick size 0.01, got %v", meta.TickSize)
	}
	if meta.StepSize != 0.00001 {
		t.Errorf("Expected step size 0.00001, got %v", meta.StepSize)
	}
	if meta.BaseAsset != "BTC" || meta.QuoteAsset != "USDT" {
		t.Errorf("Expected BTC/USDT assets, got %s/%s", meta.BaseAsset, meta.QuoteAsset)
	}
}

// TestGetSymbolMetadataRejectsUnknownSymbol verifies startup fails fast on a
// symbol the exchange does not list
func TestGetSymbolMetadataRejectsUnknownSymbol(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[]}`))
	}))
	defer server.Close()

	client := NewClient("k", "s", server.URL)
	if _, err := client.GetSymbolMetadata(context.Background(), "NOPEUSDT"); err == nil {
		t.Error("Expected error for unknown symbol, got nil")
	}
}

// TestReplaceOrderSendsCancelReplaceParams verifies the atomic replace wiring
func TestReplaceOrderSendsCancelReplaceParams(t *testing.T) {
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"newOrderResponse":{"symbol":"BTCUSDT","orderId":99,"status":"NEW"}}`))
	}))
	defer server.Close()

	client := NewClient("k", "s", server.URL)
	resp, err := client.ReplaceOrder(context.Background(), 42, map[string]string{
		"symbol": "BTCUSDT", "side": "BUY", "type": "LIMIT",
		"quantity": "0.001", "price": "42000.10", "timeInForce": "GTC",
	})
	if err != nil {
		t.Fatalf("ReplaceOrder failed: %v", err)
	}

	if gotPath != "/api/v3/order/cancelReplace" {
		t.Errorf("Expected cancelReplace path, got %s", gotPath)
	}
	if !strings.Contains(gotQuery, "cancelOrderId=42") {
		t.Errorf("Expected cancelOrderId=42 in query, got %s", gotQuery)
	}
	if !strings.Contains(gotQuery, "cancelReplaceMode=STOP_ON_FAILURE") {
		t.Errorf("Expected STOP_ON_FAILURE mode in query, got %s", gotQuery)
	}
	if resp.OrderId != 99 {
		t.Errorf("Expected new order id 99, got %d", resp.OrderId)
	}
}
