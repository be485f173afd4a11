package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/go-resty/resty/v2"

	"predengine/internal/venue"
	"predengine/pkg/types"
)

// gammaMarket is the JSON shape returned by Polymarket's Gamma market API.
type gammaMarket struct {
	ConditionID   string  `json:"conditionId"`
	Question      string  `json:"question"`
	Description   string  `json:"description"`
	Active        bool    `json:"active"`
	Closed        bool    `json:"closed"`
	EndDate       string  `json:"endDate"`
	Volume24hr    float64 `json:"volume24hr"`
	BestBid       float64 `json:"bestBid"`
	BestAsk       float64 `json:"bestAsk"`
	OutcomePrices string  `json:"outcomePrices"` // JSON array string, e.g. `["0.4","0.6"]`
	ClobTokenIds  string  `json:"clobTokenIds"`  // JSON array string `["yesTokenId","noTokenId"]`
	UmaResolution bool    `json:"umaResolutionStatus"`
}

// tokenPair caches the YES/NO CLOB token IDs for one conditionId so order
// placement and book reads don't refetch Gamma metadata every call.
type tokenPair struct {
	yes string
	no  string
}

// Client implements venue.Client against the Polymarket CLOB + Gamma APIs.
type Client struct {
	gamma  *resty.Client
	clob   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger

	mu     sync.RWMutex
	tokens map[string]tokenPair // conditionId -> token pair
}

// NewClient builds a Polymarket client. auth must already have L2
// credentials set via Auth.SetCredentials.
func NewClient(gammaBaseURL, clobBaseURL string, auth *Auth, logger *slog.Logger) *Client {
	retryCond := func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500
	}

	gamma := resty.New().
		SetBaseURL(gammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(retryCond)

	clob := resty.New().
		SetBaseURL(clobBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryCond).
		SetHeader("Content-Type", "application/json")

	return &Client{
		gamma:  gamma,
		clob:   clob,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "venue.polymarket"),
		tokens: make(map[string]tokenPair),
	}
}

func (c *Client) Venue() types.Venue { return types.VenuePolymarket }

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

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}

func (c *Client) cacheTokens(m gammaMarket) {
	var ids []string
	if err := json.Unmarshal([]byte(m.ClobTokenIds), &ids); err != nil || len(ids) < 2 {
		return
	}
	c.mu.Lock()
	c.tokens[m.ConditionID] = tokenPair{yes: ids[0], no: ids[1]}
	c.mu.Unlock()
}

func (c *Client) yesTokenID(conditionID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tp, ok := c.tokens[conditionID]
	return tp.yes, ok
}

func toRawMarket(m gammaMarket) types.RawMarket {
	closeTime, _ := time.Parse(time.RFC3339, m.EndDate)
	var prices []string
	resolvedYes := false
	if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err == nil && len(prices) >= 1 {
		if p, err := strconv.ParseFloat(prices[0], 64); err == nil {
			resolvedYes = p >= 0.5
		}
	}
	return types.RawMarket{
		VenueMarketID: m.ConditionID,
		Title:         m.Question,
		Description:   m.Description,
		BestBid:       m.BestBid,
		BestAsk:       m.BestAsk,
		Volume24h:     m.Volume24hr,
		CloseTime:     closeTime,
		Resolved:      m.Closed,
		ResolvedYes:   m.Closed && resolvedYes,
	}
}

// ListMarkets pages through active, open Gamma markets.
func (c *Client) ListMarkets(ctx context.Context, cursor string, limit int) ([]types.RawMarket, string, error) {
	if limit <= 0 {
		limit = 100
	}
	offset := 0
	if cursor != "" {
		offset, _ = strconv.Atoi(cursor)
	}

	var page []gammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"limit":  strconv.Itoa(limit),
			"offset": strconv.Itoa(offset),
			"active": "true",
			"closed": "false",
		}).
		SetResult(&page).
		Get("/markets")
	if respErr := classifyError("list_markets", statusOf(resp), err); respErr != nil {
		return nil, "", respErr
	}

	out := make([]types.RawMarket, 0, len(page))
	for _, m := range page {
		c.cacheTokens(m)
		out = append(out, toRawMarket(m))
	}

	nextCursor := ""
	if len(page) == limit {
		nextCursor = strconv.Itoa(offset + limit)
	}
	return out, nextCursor, nil
}

func (c *Client) GetMarket(ctx context.Context, venueMarketID string) (types.RawMarket, error) {
	var results []gammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetQueryParam("condition_ids", venueMarketID).
		SetResult(&results).
		Get("/markets")
	if respErr := classifyError("get_market", statusOf(resp), err); respErr != nil {
		return types.RawMarket{}, respErr
	}
	if len(results) == 0 {
		return types.RawMarket{}, &venue.PermanentError{Op: "get_market", Err: fmt.Errorf("market not found: %s", venueMarketID)}
	}

	m := results[0]
	c.cacheTokens(m)
	return toRawMarket(m), nil
}

func (c *Client) GetOrderbook(ctx context.Context, venueMarketID string) (float64, float64, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return 0, 0, err
	}
	tokenID, ok := c.yesTokenID(venueMarketID)
	if !ok {
		if _, err := c.GetMarket(ctx, venueMarketID); err != nil {
			return 0, 0, err
		}
		tokenID, ok = c.yesTokenID(venueMarketID)
		if !ok {
			return 0, 0, &venue.PermanentError{Op: "get_orderbook", Err: fmt.Errorf("no token id cached for %s", venueMarketID)}
		}
	}

	var book struct {
		Bids []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get("/book")
	if respErr := classifyError("get_orderbook", statusOf(resp), err); respErr != nil {
		return 0, 0, respErr
	}

	var bestBid, bestAsk float64
	if len(book.Bids) > 0 {
		bestBid, _ = strconv.ParseFloat(book.Bids[0].Price, 64)
	}
	if len(book.Asks) > 0 {
		bestAsk, _ = strconv.ParseFloat(book.Asks[0].Price, 64)
	} else {
		bestAsk = 1.0
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

// signedOrder is the on-chain order format the CLOB API expects.
type signedOrder struct {
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

const ctfExchangeAddress = "0x4bfb41d5b3570defd03c39a9a4d8de6bd8b8982e"

func (c *Client) signOrder(order signedOrder, chainID *big.Int) (string, error) {
	domain := &apitypes.TypedDataDomain{
		Name:              "Polymarket CTF Exchange",
		Version:           "1",
		ChainId:           (*ethmath.HexOrDecimal256)(chainID),
		VerifyingContract: ctfExchangeAddress,
	}
	typesDef := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Order": {
			{Name: "maker", Type: "address"},
			{Name: "signer", Type: "address"},
			{Name: "taker", Type: "address"},
			{Name: "tokenId", Type: "uint256"},
			{Name: "makerAmount", Type: "uint256"},
			{Name: "takerAmount", Type: "uint256"},
			{Name: "side", Type: "uint8"},
			{Name: "expiration", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "feeRateBps", Type: "uint256"},
			{Name: "signatureType", Type: "uint8"},
		},
	}
	side := uint8(0)
	if order.Side == "SELL" {
		side = 1
	}
	message := apitypes.TypedDataMessage{
		"maker":         order.Maker,
		"signer":        order.Signer,
		"taker":         order.Taker,
		"tokenId":       order.TokenID,
		"makerAmount":   order.MakerAmount,
		"takerAmount":   order.TakerAmount,
		"side":          side,
		"expiration":    order.Expiration,
		"nonce":         order.Nonce,
		"feeRateBps":    order.FeeRateBps,
		"signatureType": order.SignatureType,
	}
	sig, err := c.auth.signTypedData(domain, typesDef, message, "Order")
	if err != nil {
		return "", err
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

// PlaceLimitOrder signs and submits a GTC limit order. Limit orders rest on
// the book at submission; this client never builds a FOK/market order, so
// every fill it produces is a maker fill.
func (c *Client) PlaceLimitOrder(ctx context.Context, req types.OrderRequest) (string, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return "", err
	}
	if !c.auth.HasCredentials() {
		return "", &venue.AuthConfigError{Op: "place_limit_order", Err: fmt.Errorf("no L2 credentials")}
	}

	tokenID, ok := c.yesTokenID(req.VenueMarketID)
	if !ok {
		if _, err := c.GetMarket(ctx, req.VenueMarketID); err != nil {
			return "", err
		}
		tokenID, ok = c.yesTokenID(req.VenueMarketID)
		if !ok {
			return "", &venue.PermanentError{Op: "place_limit_order", Err: fmt.Errorf("no token id cached for %s", req.VenueMarketID)}
		}
	}
	// A NO-side order trades against the NO outcome token, not the YES token.
	if req.Side == types.SideNo {
		c.mu.RLock()
		tokenID = c.tokens[req.VenueMarketID].no
		c.mu.RUnlock()
	}

	makerAmt, takerAmt := priceToAmounts(req.Price, req.NumContracts)
	order := signedOrder{
		Maker:         c.auth.SafeAddress().Hex(),
		Signer:        c.auth.Address().Hex(),
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       tokenID,
		MakerAmount:   makerAmt.String(),
		TakerAmount:   takerAmt.String(),
		Side:          "BUY",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		SignatureType: 0,
	}
	sig, err := c.signOrder(order, c.auth.chainID)
	if err != nil {
		return "", fmt.Errorf("sign order: %w", err)
	}
	order.Signature = sig

	payload := struct {
		Order     signedOrder `json:"order"`
		Owner     string      `json:"owner"`
		OrderType string      `json:"orderType"`
	}{Order: order, Owner: c.auth.creds.ApiKey, OrderType: "GTC"}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return "", &venue.AuthConfigError{Op: "place_limit_order", Err: err}
	}

	var result struct {
		Success bool   `json:"success"`
		OrderID string `json:"orderID"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/order")
	if respErr := classifyError("place_limit_order", statusOf(resp), err); respErr != nil {
		return "", respErr
	}
	return result.OrderID, nil
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (types.OrderState, error) {
	headers, err := c.auth.L2Headers("GET", "/data/order/"+orderID, "")
	if err != nil {
		return types.OrderState{}, &venue.AuthConfigError{Op: "get_order", Err: err}
	}

	var result struct {
		Status      string `json:"status"`
		SizeMatched string `json:"sizeMatched"`
		Price       string `json:"price"`
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/data/order/" + orderID)
	if respErr := classifyError("get_order", statusOf(resp), err); respErr != nil {
		return types.OrderState{}, respErr
	}

	filled, _ := strconv.ParseFloat(result.SizeMatched, 64)
	avgPrice, _ := strconv.ParseFloat(result.Price, 64)
	return types.OrderState{
		OrderID:      orderID,
		Status:       mapOrderStatus(result.Status),
		FilledQty:    int(filled),
		AvgFillPrice: avgPrice,
	}, nil
}

func mapOrderStatus(s string) types.OrderStatus {
	switch s {
	case "MATCHED", "FILLED":
		return types.OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return types.OrderStatusCanceled
	case "EXPIRED":
		return types.OrderStatusExpired
	case "REJECTED":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusOpen
	}
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}
	body := fmt.Sprintf(`{"orderID":"%s"}`, orderID)
	headers, err := c.auth.L2Headers("DELETE", "/order", body)
	if err != nil {
		return &venue.AuthConfigError{Op: "cancel_order", Err: err}
	}
	resp, err := c.clob.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Delete("/order")
	return classifyError("cancel_order", statusOf(resp), err)
}

// IsResolved reports a market's resolution by reading Gamma's closed flag
// and outcome prices directly, instead of assuming a market stays open
// until some other signal arrives.
func (c *Client) IsResolved(ctx context.Context, venueMarketID string) (bool, bool, error) {
	m, err := c.GetMarket(ctx, venueMarketID)
	if err != nil {
		return false, false, err
	}
	return m.Resolved, m.ResolvedYes, nil
}
