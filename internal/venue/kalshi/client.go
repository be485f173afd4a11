package kalshi

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"predengine/internal/venue"
	"predengine/pkg/types"
)

// apiMarket is the Kalshi-native market shape, priced in integer cents.
type apiMarket struct {
	Ticker         string `json:"ticker"`
	Title          string `json:"title"`
	Subtitle       string `json:"subtitle"`
	Status         string `json:"status"`
	YesBid         int    `json:"yes_bid"`
	YesAsk         int    `json:"yes_ask"`
	NoBid          int    `json:"no_bid"`
	NoAsk          int    `json:"no_ask"`
	Volume24h      int    `json:"volume_24h"`
	CloseTime      string `json:"close_time"`
	Result         string `json:"result"`
}

type orderbookResponse struct {
	Orderbook struct {
		Yes [][]int `json:"yes"`
		No  [][]int `json:"no"`
	} `json:"orderbook"`
}

type orderRequest struct {
	Ticker      string `json:"ticker"`
	Action      string `json:"action"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Count       int    `json:"count"`
	YesPrice    int    `json:"yes_price,omitempty"`
	NoPrice     int    `json:"no_price,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty"`
}

type apiOrder struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	RemainingCount int    `json:"remaining_count"`
	FilledCount    int    `json:"place_count"`
	YesPrice       int    `json:"yes_price"`
	NoPrice        int    `json:"no_price"`
	Side           string `json:"side"`
}

// Client implements venue.Client against the Kalshi trade API.
type Client struct {
	http           *resty.Client
	keyID          string
	privKey        *rsa.PrivateKey
	basePathPrefix string
	logger         *slog.Logger
}

// NewClient loads the RSA signing key and builds a resty client scoped to
// baseURL (e.g. the demo or production trade-api/v2 host).
func NewClient(keyID, privateKeyPath, baseURL string, logger *slog.Logger) (*Client, error) {
	key, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, &venue.AuthConfigError{Op: "load_private_key", Err: err}
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:           httpClient,
		keyID:          keyID,
		privKey:        key,
		basePathPrefix: parsed.Path,
		logger:         logger,
	}, nil
}

func (c *Client) Venue() types.Venue { return types.VenueKalshi }

func (c *Client) signedRequest(ctx context.Context, method, path string) (*resty.Request, error) {
	headers, err := authHeaders(c.keyID, c.privKey, method, c.basePathPrefix+path)
	if err != nil {
		return nil, &venue.AuthConfigError{Op: "sign_request", Err: err}
	}
	return c.http.R().SetContext(ctx).SetHeaders(headers), nil
}

func classifyError(op string, statusCode int, err error) error {
	if err != nil {
		return &venue.TransientError{Op: op, Err: err}
	}
	if statusCode == 429 || statusCode >= 500 {
		return &venue.TransientError{Op: op, Err: fmt.Errorf("status %d", statusCode)}
	}
	if statusCode >= 400 {
		return &venue.PermanentError{Op: op, Err: fmt.Errorf("status %d", statusCode)}
	}
	return nil
}

func toRawMarket(m apiMarket) types.RawMarket {
	closeTime, _ := time.Parse(time.RFC3339, m.CloseTime)
	resolved := m.Status == "finalized" || m.Status == "settled"
	return types.RawMarket{
		VenueMarketID: m.Ticker,
		Title:         m.Title,
		Description:   m.Subtitle,
		BestBid:       float64(m.YesBid) / 100.0,
		BestAsk:       float64(m.YesAsk) / 100.0,
		Volume24h:     float64(m.Volume24h),
		CloseTime:     closeTime,
		Resolved:      resolved,
		ResolvedYes:   resolved && m.Result == "yes",
	}
}

// ListMarkets pages through open markets, 200 at a time by default.
func (c *Client) ListMarkets(ctx context.Context, cursor string, limit int) ([]types.RawMarket, string, error) {
	path := "/markets"
	req, err := c.signedRequest(ctx, "GET", path)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 200
	}
	req.SetQueryParam("limit", strconv.Itoa(limit)).SetQueryParam("status", "open")
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}

	var result struct {
		Markets []apiMarket `json:"markets"`
		Cursor  string      `json:"cursor"`
	}
	resp, err := req.SetResult(&result).Get(path)
	if respErr := classifyError("list_markets", statusOf(resp), err); respErr != nil {
		return nil, "", respErr
	}

	out := make([]types.RawMarket, 0, len(result.Markets))
	for _, m := range result.Markets {
		out = append(out, toRawMarket(m))
	}
	return out, result.Cursor, nil
}

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}

func (c *Client) GetMarket(ctx context.Context, venueMarketID string) (types.RawMarket, error) {
	path := "/markets/" + venueMarketID
	req, err := c.signedRequest(ctx, "GET", path)
	if err != nil {
		return types.RawMarket{}, err
	}
	var result struct {
		Market apiMarket `json:"market"`
	}
	resp, err := req.SetResult(&result).Get(path)
	if respErr := classifyError("get_market", statusOf(resp), err); respErr != nil {
		return types.RawMarket{}, respErr
	}
	return toRawMarket(result.Market), nil
}

func (c *Client) GetOrderbook(ctx context.Context, venueMarketID string) (float64, float64, error) {
	path := "/markets/" + venueMarketID + "/orderbook"
	req, err := c.signedRequest(ctx, "GET", path)
	if err != nil {
		return 0, 0, err
	}
	var result orderbookResponse
	resp, err := req.SetResult(&result).Get(path)
	if respErr := classifyError("get_orderbook", statusOf(resp), err); respErr != nil {
		return 0, 0, respErr
	}

	var bestBid float64
	if len(result.Orderbook.Yes) > 0 && len(result.Orderbook.Yes[0]) >= 2 {
		bestBid = float64(result.Orderbook.Yes[0][0]) / 100.0
	}
	bestAsk := 1.0
	if len(result.Orderbook.No) > 0 && len(result.Orderbook.No[0]) >= 2 {
		bestAsk = 1.0 - float64(result.Orderbook.No[0][0])/100.0
	}
	return bestBid, bestAsk, nil
}

func (c *Client) GetMidPrice(ctx context.Context, venueMarketID string) (float64, error) {
	bid, ask, err := c.GetOrderbook(ctx, venueMarketID)
	if err != nil {
		return 0, err
	}
	return (bid + ask) / 2.0, nil
}

// PlaceLimitOrder places a maker-only limit order. Kalshi's "limit" order
// type with good_till_canceled time-in-force never crosses the book as a
// taker at submission; the engine only ever sends resting prices.
func (c *Client) PlaceLimitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	path := "/portfolio/orders"
	r, err := c.signedRequest(ctx, "POST", path)
	if err != nil {
		return "", err
	}

	priceCents := int(req.Price*100 + 0.5)
	body := orderRequest{
		Ticker:      req.VenueMarketID,
		Action:      "buy",
		Side:        string(req.Side),
		Type:        "limit",
		Count:       req.NumContracts,
		TimeInForce: "good_till_canceled",
	}
	if req.Side == types.SideYes {
		body.YesPrice = priceCents
	} else {
		body.NoPrice = priceCents
	}

	var result struct {
		Order apiOrder `json:"order"`
	}
	resp, err := r.SetBody(body).SetResult(&result).Post(path)
	if respErr := classifyError("place_limit_order", statusOf(resp), err); respErr != nil {
		return "", respErr
	}
	return result.Order.OrderID, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (types.OrderState, error) {
	path := "/portfolio/orders/" + orderID
	req, err := c.signedRequest(ctx, "GET", path)
	if err != nil {
		return types.OrderState{}, err
	}
	var result struct {
		Order apiOrder `json:"order"`
	}
	resp, err := req.SetResult(&result).Get(path)
	if respErr := classifyError("get_order", statusOf(resp), err); respErr != nil {
		return types.OrderState{}, respErr
	}

	o := result.Order
	status := mapOrderStatus(o.Status)
	avgFill := float64(o.YesPrice) / 100.0
	if o.Side == "no" {
		avgFill = float64(o.NoPrice) / 100.0
	}
	return types.OrderState{
		OrderID:      o.OrderID,
		Status:       status,
		FilledQty:    o.FilledCount,
		AvgFillPrice: avgFill,
	}, nil
}

func mapOrderStatus(s string) types.OrderStatus {
	switch strings.ToLower(s) {
	case "executed", "filled":
		return types.OrderStatusFilled
	case "canceled", "cancelled":
		return types.OrderStatusCanceled
	case "expired":
		return types.OrderStatusExpired
	case "rejected":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusOpen
	}
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := "/portfolio/orders/" + orderID
	req, err := c.signedRequest(ctx, "DELETE", path)
	if err != nil {
		return err
	}
	resp, err := req.Delete(path)
	return classifyError("cancel_order", statusOf(resp), err)
}

func (c *Client) IsResolved(ctx context.Context, venueMarketID string) (bool, bool, error) {
	m, err := c.GetMarket(ctx, venueMarketID)
	if err != nil {
		return false, false, err
	}
	return m.Resolved, m.ResolvedYes, nil
}
