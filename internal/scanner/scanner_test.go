package scanner

import (
	"testing"
	"time"

	"predengine/internal/config"
	"predengine/pkg/types"
)

func TestClassifyCategoryMatchesKeyword(t *testing.T) {
	t.Parallel()
	cases := map[string]types.Category{
		"Will the Fed cut rates in March":     types.CategoryEconomics,
		"Who wins the 2028 presidential race": types.CategoryPolitics,
		"Will Bitcoin close above 100k":       types.CategoryCrypto,
		"Will the Chiefs win the Super Bowl":  types.CategorySports,
		"Will Dune 3 win an Oscar":            types.CategoryEntertainment,
		"Will it snow in Denver on Christmas": types.CategoryWeather,
		"Some unrelated market title":         types.CategoryOther,
	}
	for title, want := range cases {
		if got := classifyCategory(title); got != want {
			t.Errorf("classifyCategory(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestDaysToExpiryFloorsAndClampsAtZero(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	got := daysToExpiry(now.Add(60*time.Hour), now)
	if got != 2 {
		t.Errorf("daysToExpiry(+60h, 2.5 days) = %d, want 2 (floored, not rounded up)", got)
	}

	got = daysToExpiry(now.Add(-time.Hour), now)
	if got != 0 {
		t.Errorf("daysToExpiry(past) = %d, want 0", got)
	}
}

func TestNormalizeDerivesYesPriceFromBestAsk(t *testing.T) {
	t.Parallel()
	now := time.Now()
	raw := types.RawMarket{
		VenueMarketID: "abc",
		Title:         "Will it rain",
		BestBid:       0.40,
		BestAsk:       0.45,
		Volume24h:     1000,
		CloseTime:     now.Add(5 * 24 * time.Hour),
	}

	m := normalize(types.VenueKalshi, raw, now)
	if m.YesPrice != 0.45 {
		t.Errorf("YesPrice = %v, want 0.45 (best ask)", m.YesPrice)
	}
	if m.NoPrice != 0.55 {
		t.Errorf("NoPrice = %v, want 0.55", m.NoPrice)
	}
	if got := m.YesPrice + m.NoPrice; got < 0.9999 || got > 1.0001 {
		t.Errorf("YesPrice + NoPrice = %v, want 1.0", got)
	}
	if m.Spread < 0.0499 || m.Spread > 0.0501 {
		t.Errorf("Spread = %v, want ~0.05", m.Spread)
	}
}

func TestQualifiesRejectsLowVolumeWideSpreadAndExtremePrice(t *testing.T) {
	t.Parallel()
	cfg := config.ScannerConfig{MinMarketVolume: 200, MaxDaysToExpiry: 30}

	base := types.Market{
		Volume24h:    500,
		DaysToExpiry: 10,
		Spread:       0.05,
		YesPrice:     0.40,
		NoPrice:      0.55,
	}
	if !qualifies(base, cfg) {
		t.Error("expected base market to qualify")
	}

	lowVolume := base
	lowVolume.Volume24h = 50
	if qualifies(lowVolume, cfg) {
		t.Error("low volume market should not qualify")
	}

	tooFarOut := base
	tooFarOut.DaysToExpiry = 60
	if qualifies(tooFarOut, cfg) {
		t.Error("market past max days to expiry should not qualify")
	}

	expired := base
	expired.DaysToExpiry = 0
	if qualifies(expired, cfg) {
		t.Error("market with zero days to expiry should not qualify")
	}

	wideSpread := base
	wideSpread.Spread = 0.30
	if qualifies(wideSpread, cfg) {
		t.Error("wide spread market should not qualify")
	}

	nearCertain := base
	nearCertain.YesPrice = 0.98
	nearCertain.NoPrice = 0.01
	if qualifies(nearCertain, cfg) {
		t.Error("near-certain market should not qualify")
	}

	// A market whose yes_price alone is near-certain must be rejected even
	// when midpointing it against a stale no_price would pass — the gate is
	// on yes_price, not the mid of (yes_price, 1-no_price).
	nearCertainWideBid := base
	nearCertainWideBid.YesPrice = 0.98
	nearCertainWideBid.NoPrice = 0.10 // mid((0.98, 1-0.10)) = 0.94, would wrongly pass a mid-based gate
	if qualifies(nearCertainWideBid, cfg) {
		t.Error("market with near-certain yes_price should not qualify regardless of no_price")
	}
}
