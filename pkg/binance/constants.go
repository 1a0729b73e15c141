package binance

// Segment identifies which market a request or a cached price belongs to.
// Spot has a streaming ticker source; the futures segment is HTTP-only.
type Segment string

const (
	SegmentSpot    Segment = "spot"
	SegmentFutures Segment = "futures"
)

// IsValid checks if the Segment is one of the supported markets.
func (s Segment) IsValid() bool {
	return s == SegmentSpot || s == SegmentFutures
}

// REST paths per segment.
const (
	pathAccount      = "/api/v3/account"
	pathOrder        = "/api/v3/order"
	pathOpenOrders   = "/api/v3/openOrders"
	pathMyTrades     = "/fapi/v1/userTrades"
	pathPositionRisk = "/fapi/v2/positionRisk"
	pathExchangeInfo = "/api/v3/exchangeInfo"

	pathTickerSpot    = "/api/v3/ticker/24hr"
	pathTickerFutures = "/fapi/v1/ticker/24hr"
)

const headerAPIKey = "X-MBX-APIKEY"
