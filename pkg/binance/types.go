package binance

// Credentials is the decrypted API key pair a signed call is made with.
// The gateway never stores these; they come from the credential store per call.
type Credentials struct {
	APIKey    string
	APISecret string
}

// AccountInfo is the spot account snapshot.
type AccountInfo struct {
	CanTrade    bool      `json:"canTrade"`
	CanWithdraw bool      `json:"canWithdraw"`
	CanDeposit  bool      `json:"canDeposit"`
	UpdateTime  int64     `json:"updateTime"`
	AccountType string    `json:"accountType"`
	Balances    []Balance `json:"balances"`
}

type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// Position is one futures position risk entry.
type Position struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnrealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
	PositionSide     string `json:"positionSide"`
	UpdateTime       int64  `json:"updateTime"`
}

// Order is the exchange's view of a placed, queried or cancelled order.
type Order struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	TimeInForce   string `json:"timeInForce"`
	Type          string `json:"type"`
	Side          string `json:"side"`
}

// Trade is one historical fill. Identity key: ID. Prices and quantities stay
// strings end to end; nothing in the gateway does arithmetic on them.
type Trade struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"` // execution time, ms since epoch
	Buyer           bool   `json:"buyer"`
	Maker           bool   `json:"maker"`
}

// TickerPrice is the 24h rolling window statistics for one symbol, as returned
// by the REST ticker endpoint and carried by the stream in delta form.
type TickerPrice struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	OpenPrice          string `json:"openPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
}

// streamTicker is the compact-key shape the websocket ticker array uses.
type streamTicker struct {
	EventType          string `json:"e"`
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	PriceChangePercent string `json:"P"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	OpenPrice          string `json:"o"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
}

func (t streamTicker) toTickerPrice() TickerPrice {
	return TickerPrice{
		Symbol:             t.Symbol,
		LastPrice:          t.LastPrice,
		PriceChangePercent: t.PriceChangePercent,
		HighPrice:          t.HighPrice,
		LowPrice:           t.LowPrice,
		OpenPrice:          t.OpenPrice,
		Volume:             t.Volume,
		QuoteVolume:        t.QuoteVolume,
	}
}

// ExchangeInfo is the exchange metadata endpoint payload, trimmed to the
// fields callers consume.
type ExchangeInfo struct {
	Timezone   string       `json:"timezone"`
	ServerTime int64        `json:"serverTime"`
	Symbols    []SymbolInfo `json:"symbols"`
}

type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	Status     string `json:"status"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
}

// apiError is the JSON body the exchange attaches to non-2xx responses.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}
