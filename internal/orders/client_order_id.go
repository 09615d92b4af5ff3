package orders

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Binance caps newClientOrderId at 36 characters.
const MaxClientOrderIDLength = 36

const clientOrderIDPrefix = "tlb"

// NewClientOrderID builds a client order id like "tlb-b-1a2b3c4d5e6f" so our
// own orders are recognizable in execution reports and account history.
// side is "BUY" or "SELL".
func NewClientOrderID(side string) string {
	tag := "b"
	if strings.EqualFold(side, "SELL") {
		tag = "s"
	}

	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s-%s-%s", clientOrderIDPrefix, tag, raw[:12])
}

// IsOwnClientOrderID reports whether a client order id was generated by this
// agent.
func IsOwnClientOrderID(id string) bool {
	return strings.HasPrefix(id, clientOrderIDPrefix+"-")
}
