package binance

import "context"

// SpotClient defines the exchange surface the rest of the agent consumes.
// *Client implements it against the real API; tests substitute a fake.
type SpotClient interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetSymbolMetadata(ctx context.Context, symbol string) (*SymbolMetadata, error)

	PlaceOrder(ctx context.Context, params map[string]string) (*OrderResponse, error)
	ReplaceOrder(ctx context.Context, oldOrderId int64, params map[string]string) (*OrderResponse, error)
	CancelOrder(ctx context.Context, symbol string, orderId int64) error
	QueryOrder(ctx context.Context, symbol string, orderId int64) (*OrderResponse, error)

	GetFreeBalance(ctx context.Context, asset string) (float64, error)
	GetTradePrice(ctx context.Context, symbol string, orderId int64) (float64, error)

	GetListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

var _ SpotClient = (*Client)(nil)
