package binance

import (
	"context"
	"strconv"
	"sync"
)

// MockClient is an in-memory SpotClient for tests and dry runs. Orders are
// acknowledged but never fill on their own; tests drive fills explicitly.
type MockClient struct {
	mu sync.Mutex

	Metadata map[string]SymbolMetadata
	Klines   []Kline
	Price    float64
	Balances map[string]float64

	nextOrderID int64
	Orders      map[int64]*OrderResponse
	TradePrices map[int64]float64

	// Per-call error overrides. Nil means success.
	PlaceOrderErr   error
	ReplaceOrderErr error
	QueryOrderErr   error

	PlaceCalls   []map[string]string
	ReplaceCalls []int64
}

func NewMockClient() *MockClient {
	return &MockClient{
		Metadata:    make(map[string]SymbolMetadata),
		Balances:    make(map[string]float64),
		Orders:      make(map[int64]*OrderResponse),
		TradePrices: make(map[int64]float64),
		nextOrderID: 1000,
	}
}

func (mc *MockClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return mc.Klines, nil
}

func (mc *MockClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return mc.Price, nil
}

func (mc *MockClient) GetSymbolMetadata(ctx context.Context, symbol string) (*SymbolMetadata, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	meta, ok := mc.Metadata[symbol]
	if !ok {
		return nil, &APIError{Code: -1121, Message: "Invalid symbol."}
	}
	return &meta, nil
}

func (mc *MockClient) PlaceOrder(ctx context.Context, params map[string]string) (*OrderResponse, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.PlaceCalls = append(mc.PlaceCalls, params)
	if mc.PlaceOrderErr != nil {
		return nil, mc.PlaceOrderErr
	}

	mc.nextOrderID++
	resp := &OrderResponse{
		Symbol:        params["symbol"],
		OrderId:       mc.nextOrderID,
		ClientOrderId: params["newClientOrderId"],
		Price:         atof(params["price"]),
		OrigQty:       atof(params["quantity"]),
		Status:        "NEW",
		Type:          params["type"],
		Side:          params["side"],
	}
	mc.Orders[resp.OrderId] = resp
	return resp, nil
}

func (mc *MockClient) ReplaceOrder(ctx context.Context, oldOrderId int64, params map[string]string) (*OrderResponse, error) {
	mc.mu.Lock()
	mc.ReplaceCalls = append(mc.ReplaceCalls, oldOrderId)
	if mc.ReplaceOrderErr != nil {
		err := mc.ReplaceOrderErr
		mc.mu.Unlock()
		return nil, err
	}
	if _, ok := mc.Orders[oldOrderId]; !ok {
		mc.mu.Unlock()
		return nil, &APIError{Code: -2013, Message: "Order does not exist."}
	}
	delete(mc.Orders, oldOrderId)
	mc.mu.Unlock()

	return mc.PlaceOrder(ctx, params)
}

func (mc *MockClient) CancelOrder(ctx context.Context, symbol string, orderId int64) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	order, ok := mc.Orders[orderId]
	if !ok {
		return &APIError{Code: -2013, Message: "Order does not exist."}
	}
	order.Status = "CANCELED"
	return nil
}

func (mc *MockClient) QueryOrder(ctx context.Context, symbol string, orderId int64) (*OrderResponse, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.QueryOrderErr != nil {
		return nil, mc.QueryOrderErr
	}
	order, ok := mc.Orders[orderId]
	if !ok {
		return nil, &APIError{Code: -2013, Message: "Order does not exist."}
	}
	cp := *order
	return &cp, nil
}

func (mc *MockClient) GetFreeBalance(ctx context.Context, asset string) (float64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.Balances[asset], nil
}

func (mc *MockClient) GetTradePrice(ctx context.Context, symbol string, orderId int64) (float64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.TradePrices[orderId], nil
}

func (mc *MockClient) GetListenKey(ctx context.Context) (string, error) {
	return "mock-listen-key", nil
}

func (mc *MockClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return nil
}

func (mc *MockClient) CloseListenKey(ctx context.Context, listenKey string) error {
	return nil
}

// MarkFilled flips a resting order to FILLED so reconciliation paths can
// observe it.
func (mc *MockClient) MarkFilled(orderId int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if order, ok := mc.Orders[orderId]; ok {
		order.Status = "FILLED"
		order.ExecutedQty = order.OrigQty
	}
}

// DropOrder removes an order entirely, as if it never existed.
func (mc *MockClient) DropOrder(orderId int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.Orders, orderId)
}

var _ SpotClient = (*MockClient)(nil)

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
