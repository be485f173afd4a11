// Package venue defines the uniform capability set every market venue
// implements, and the error taxonomy venue operations report through.
//
// Two concrete clients exist: venue/kalshi (asymmetric RSA-PSS request
// signing) and venue/polymarket (pre-issued HMAC credentials derived from an
// EIP-712 signature). Both satisfy Client so the scanner, executor, and
// lifecycle manager never branch on which venue they are talking to.
package venue

import (
	"context"
	"fmt"

	"predengine/pkg/types"
)

// Client is the capability set spec.md §4.1 requires of every venue. All
// prices are [0,1]; venue-native integer encodings (e.g. cents) are
// converted at the client boundary. All orders placed are maker (limit)
// orders; no client method can place a taker/market order.
type Client interface {
	// ListMarkets returns one page of active markets starting at cursor.
	// An empty nextCursor means no further pages.
	ListMarkets(ctx context.Context, cursor string, limit int) (batch []types.RawMarket, nextCursor string, err error)
	GetMarket(ctx context.Context, venueMarketID string) (types.RawMarket, error)
	GetOrderbook(ctx context.Context, venueMarketID string) (bestBid, bestAsk float64, err error)
	GetMidPrice(ctx context.Context, venueMarketID string) (float64, error)
	PlaceLimitOrder(ctx context.Context, req types.OrderRequest) (orderID string, err error)
	GetOrder(ctx context.Context, orderID string) (types.OrderState, error)
	CancelOrder(ctx context.Context, orderID string) error
	IsResolved(ctx context.Context, venueMarketID string) (resolved bool, outcomeYes bool, err error)
	Venue() types.Venue
}

// TransientError wraps network errors, 5xx responses, and timeouts. Callers
// log it and continue with the next item; it never aborts a batch.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("venue: transient error in %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps 4xx responses other than 429. The offending item is
// skipped; scans record it in ScanResult.Errors.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("venue: permanent error in %s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// AuthConfigError signals missing or unparsable credentials. Trading paths
// must abort on this error; read paths may continue where possible.
type AuthConfigError struct {
	Op  string
	Err error
}

func (e *AuthConfigError) Error() string { return fmt.Sprintf("venue: auth config error in %s: %v", e.Op, e.Err) }
func (e *AuthConfigError) Unwrap() error { return e.Err }
