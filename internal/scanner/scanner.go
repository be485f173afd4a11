// Package scanner discovers tradeable markets across both venues. A scan
// fans out to each venue concurrently, pages through every venue's listing
// serially, normalizes venue-native fields into the shared Market shape,
// applies the qualification predicate, and upserts each survivor in its own
// transaction.
package scanner

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"predengine/internal/config"
	"predengine/internal/store"
	"predengine/internal/venue"
	"predengine/pkg/types"
)

// Scanner polls every configured venue client and upserts qualifying
// markets into the store.
type Scanner struct {
	venues []venue.Client
	store  *store.Store
	cfg    config.ScannerConfig
	logger *slog.Logger
}

// New builds a Scanner over the given venue clients.
func New(venues []venue.Client, st *store.Store, cfg config.ScannerConfig, logger *slog.Logger) *Scanner {
	return &Scanner{
		venues: venues,
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "scanner"),
	}
}

// categoryKeywords maps a lowercased keyword substring found in a market's
// title to its category. Checked in order; first match wins.
var categoryKeywords = []struct {
	keyword  string
	category types.Category
}{
	{"fed", types.CategoryEconomics},
	{"interest rate", types.CategoryEconomics},
	{"inflation", types.CategoryEconomics},
	{"gdp", types.CategoryEconomics},
	{"recession", types.CategoryEconomics},
	{"election", types.CategoryPolitics},
	{"president", types.CategoryPolitics},
	{"senate", types.CategoryPolitics},
	{"congress", types.CategoryPolitics},
	{"governor", types.CategoryPolitics},
	{"hurricane", types.CategoryWeather},
	{"temperature", types.CategoryWeather},
	{"rainfall", types.CategoryWeather},
	{"snow", types.CategoryWeather},
	{"bitcoin", types.CategoryCrypto},
	{"btc", types.CategoryCrypto},
	{"ethereum", types.CategoryCrypto},
	{"eth", types.CategoryCrypto},
	{"crypto", types.CategoryCrypto},
	{"nfl", types.CategorySports},
	{"nba", types.CategorySports},
	{"mlb", types.CategorySports},
	{"super bowl", types.CategorySports},
	{"championship", types.CategorySports},
	{"oscar", types.CategoryEntertainment},
	{"box office", types.CategoryEntertainment},
	{"grammy", types.CategoryEntertainment},
}

func classifyCategory(title string) types.Category {
	lower := strings.ToLower(title)
	for _, ck := range categoryKeywords {
		if strings.Contains(lower, ck.keyword) {
			return ck.category
		}
	}
	return types.CategoryOther
}

func daysToExpiry(closeTime, now time.Time) int {
	d := closeTime.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

func normalize(v types.Venue, raw types.RawMarket, now time.Time) types.Market {
	spread := raw.BestAsk - raw.BestBid
	if spread < 0 {
		spread = 0
	}
	return types.Market{
		Venue:         v,
		VenueMarketID: raw.VenueMarketID,
		Title:         raw.Title,
		Category:      classifyCategory(raw.Title),
		Description:   raw.Description,
		YesPrice:      raw.BestAsk, // executor re-reads the live book before sizing; this is a discovery-time snapshot
		NoPrice:       1 - raw.BestAsk,
		Spread:        spread,
		Volume24h:     raw.Volume24h,
		CloseTime:     raw.CloseTime,
		DaysToExpiry:  daysToExpiry(raw.CloseTime, now),
		FirstSeen:     now,
		LastUpdated:   now,
	}
}

// qualifies applies the scanner's hard discovery filter: enough trading
// activity, not too close to or far from expiry, a book tight enough to
// make a maker fill plausible, and a price that isn't already a near-certain
// resolution (no edge to be found betting on a 3-cent or 97-cent contract).
func qualifies(m types.Market, cfg config.ScannerConfig) bool {
	if m.Volume24h < cfg.MinMarketVolume {
		return false
	}
	if m.DaysToExpiry <= 0 || m.DaysToExpiry > cfg.MaxDaysToExpiry {
		return false
	}
	if m.Spread > config.MaxSpread {
		return false
	}
	if m.YesPrice <= 0.03 || m.YesPrice >= 0.97 {
		return false
	}
	return true
}

type venueOutcome struct {
	fetched, qualifying, created, updated int
	errs                                   []string
}

// Run executes one scan across every venue and returns a summary. The
// caller (scheduler) is responsible for periodicity.
func (s *Scanner) Run(ctx context.Context) types.ScanResult {
	started := time.Now()
	result := types.ScanResult{
		ScanID:    uuid.NewString(),
		StartedAt: started,
	}

	outcomes := make([]venueOutcome, len(s.venues))

	g, gctx := errgroup.WithContext(ctx)
	for i, client := range s.venues {
		i, client := i, client
		g.Go(func() error {
			outcomes[i] = s.scanVenue(gctx, client)
			return nil
		})
	}
	// Errors are accumulated per-venue rather than propagated; one venue's
	// outage should not abort the other venue's scan.
	_ = g.Wait()

	for _, o := range outcomes {
		result.TotalFetched += o.fetched
		result.Qualifying += o.qualifying
		result.New += o.created
		result.Updated += o.updated
		result.Errors = append(result.Errors, o.errs...)
	}
	result.FinishedAt = time.Now()

	s.logger.Info("scan complete",
		"scan_id", result.ScanID,
		"fetched", result.TotalFetched,
		"qualifying", result.Qualifying,
		"new", result.New,
		"updated", result.Updated,
		"errors", len(result.Errors),
	)

	errorsJSON := "[]"
	if len(result.Errors) > 0 {
		if b, err := json.Marshal(result.Errors); err == nil {
			errorsJSON = string(b)
		}
	}
	if err := s.store.RecordScan(ctx, result, errorsJSON); err != nil {
		s.logger.Error("record scan history", "error", err)
	}

	return result
}

func (s *Scanner) scanVenue(ctx context.Context, client venue.Client) venueOutcome {
	var out venueOutcome
	now := time.Now()
	cursor := ""

	for {
		batch, nextCursor, err := client.ListMarkets(ctx, cursor, s.cfg.PageSize)
		if err != nil {
			out.errs = append(out.errs, err.Error())
			s.logger.Warn("list markets failed", "venue", client.Venue(), "error", err)
			break
		}
		out.fetched += len(batch)

		for _, raw := range batch {
			m := normalize(client.Venue(), raw, now)

			if raw.Resolved {
				s.markResolvedIfTracked(ctx, client.Venue(), raw)
			}

			if !qualifies(m, s.cfg) {
				continue
			}
			out.qualifying++

			created, err := s.upsertOne(ctx, m, now)
			if err != nil {
				out.errs = append(out.errs, err.Error())
				continue
			}
			if created {
				out.created++
			} else {
				out.updated++
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	return out
}

func (s *Scanner) upsertOne(ctx context.Context, m types.Market, now time.Time) (bool, error) {
	var isNew bool
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, created, err := store.UpsertMarket(tx, m, now)
		isNew = created
		return err
	})
	return isNew, err
}

func (s *Scanner) markResolvedIfTracked(ctx context.Context, v types.Venue, raw types.RawMarket) {
	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		m, err := store.GetMarketByVenueID(tx, v, raw.VenueMarketID)
		if err != nil {
			return nil // not tracked yet, nothing to mark
		}
		return store.MarkMarketResolvedTx(tx, m.ID, raw.ResolvedYes)
	})
	if err != nil {
		s.logger.Error("mark market resolved", "venue", v, "venue_market_id", raw.VenueMarketID, "error", err)
	}
}
