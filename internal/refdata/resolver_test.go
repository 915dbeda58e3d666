package refdata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-cli/internal/model"
)

func testTables() Tables {
	return Tables{
		Channels: []ChannelRule{
			{Source: "shopify", AppIDPattern: "580111", CanonicalChannel: "Shopify-Online"},
			{Source: "shopify", SourceNamePattern: "^pos$", CanonicalChannel: "Shopify-POS"},
			{SourceNamePattern: "instagram|facebook", CanonicalChannel: "Social"},
			{LandingSitePattern: `utm_source=klaviyo`, CanonicalChannel: "Email"},
		},
		SKUs: []SKURow{
			{RawSKU: "TSF-001", CanonicalSKU: "CANDLE-8OZ"},
			{RawSKU: "TSF-002", CanonicalSKU: "CANDLE-16OZ"},
		},
		Promos: []PromoRow{
			{PromoCode: "WELCOME10", PctOfSales: 0.10},
			{PromoCode: "VIP20", PctOfSales: 0.20},
		},
		Influencers: []InfluencerRow{
			{Code: "VIP20", CanonicalInfluencer: "jane-doe", FeeModel: "pct_of_sales"},
		},
	}
}

func TestResolveChannelPrecedence(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testTables())
	require.NoError(t, err)

	tests := []struct {
		name     string
		source   string
		hints    model.AttributionHints
		want     string
		wantRule string
	}{
		{
			name:   "app id beats source name",
			source: "shopify",
			hints:  model.AttributionHints{AppID: "580111", SourceName: "pos"},
			want:   "Shopify-Online", wantRule: RuleAppID,
		},
		{
			name:   "source name pattern",
			source: "shopify",
			hints:  model.AttributionHints{SourceName: "pos"},
			want:   "Shopify-POS", wantRule: RuleSourceName,
		},
		{
			name:   "source name pattern is case insensitive",
			source: "csvfeed",
			hints:  model.AttributionHints{SourceName: "Instagram Shop"},
			want:   "Social", wantRule: RuleSourceName,
		},
		{
			name:   "landing site after source name misses",
			source: "shopify",
			hints:  model.AttributionHints{SourceName: "web", LandingSite: "/landing?utm_source=klaviyo"},
			want:   "Email", wantRule: RuleLandingSite,
		},
		{
			name:   "app id from wrong source falls through",
			source: "csvfeed",
			hints:  model.AttributionHints{AppID: "580111"},
			want:   UnclassifiedChannel, wantRule: RuleFallback,
		},
		{
			name:   "no hints at all",
			source: "shopify",
			hints:  model.AttributionHints{},
			want:   UnclassifiedChannel, wantRule: RuleFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := r.ResolveChannel(tt.source, tt.hints)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantRule, rule)
		})
	}
}

func TestResolveSKU(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testTables())
	require.NoError(t, err)

	assert.Equal(t, "CANDLE-8OZ", r.ResolveSKU("TSF-001"))
	assert.Equal(t, UnresolvedSKU, r.ResolveSKU("TSF-999"))
	assert.Equal(t, UnresolvedSKU, r.ResolveSKU(""))
}

func TestResolvePromo(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testTables())
	require.NoError(t, err)

	assert.Equal(t, "WELCOME10", r.ResolvePromo("welcome10"))
	assert.Equal(t, UnresolvedPromo, r.ResolvePromo("MYSTERY"))

	assert.InDelta(t, 0.20, r.PromoPct("VIP20"), 1e-9)
	assert.Zero(t, r.PromoPct("MYSTERY"))
}

func TestLookupInfluencer(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(testTables())
	require.NoError(t, err)

	row, ok := r.LookupInfluencer("vip20")
	require.True(t, ok)
	assert.Equal(t, "jane-doe", row.CanonicalInfluencer)

	_, ok = r.LookupInfluencer("WELCOME10")
	assert.False(t, ok)
}

func TestDuplicateKeysFailLoad(t *testing.T) {
	t.Parallel()

	dup := testTables()
	dup.SKUs = append(dup.SKUs, SKURow{RawSKU: "TSF-001", CanonicalSKU: "OTHER"})

	_, err := NewResolver(dup)
	require.Error(t, err)

	var dke *DuplicateKeyError
	require.True(t, errors.As(err, &dke))
	assert.Equal(t, TableSKUMap, dke.Table)
	assert.Equal(t, "TSF-001", dke.Key)
}

func TestDuplicateChannelRuleFailsLoad(t *testing.T) {
	t.Parallel()

	dup := testTables()
	dup.Channels = append(dup.Channels, dup.Channels[0])

	_, err := NewResolver(dup)
	require.Error(t, err)

	var dke *DuplicateKeyError
	require.True(t, errors.As(err, &dke))
	assert.Equal(t, TableChannelMap, dke.Table)
}

func TestBadPatternFailsLoad(t *testing.T) {
	t.Parallel()

	bad := testTables()
	bad.Channels = append(bad.Channels, ChannelRule{SourceNamePattern: "([", CanonicalChannel: "Broken"})

	_, err := NewResolver(bad)
	require.Error(t, err)
}

// Adding a previously missing mapping entry and re-resolving the same keys
// must never increase the number of misses for that table.
func TestUnresolvedMonotonicity(t *testing.T) {
	t.Parallel()

	keys := []string{"TSF-001", "TSF-500", "TSF-501", "TSF-999", ""}
	misses := func(r *Resolver) int {
		n := 0
		for _, k := range keys {
			if r.ResolveSKU(k) == UnresolvedSKU {
				n++
			}
		}
		return n
	}

	before, err := NewResolver(testTables())
	require.NoError(t, err)

	patched := testTables()
	patched.SKUs = append(patched.SKUs, SKURow{RawSKU: "TSF-500", CanonicalSKU: "SOAP-BAR"})
	after, err := NewResolver(patched)
	require.NoError(t, err)

	assert.Less(t, misses(after), misses(before))
}

func TestUnresolvedCountsSnapshot(t *testing.T) {
	t.Parallel()

	var u UnresolvedCounts
	u.CountChannel()
	u.CountSKU()
	u.CountSKU()
	u.CountInfluencer()

	snap := u.Snapshot()
	assert.Equal(t, int64(1), snap[TableChannelMap])
	assert.Equal(t, int64(2), snap[TableSKUMap])
	assert.Zero(t, snap[TablePromoBudget])
	assert.Equal(t, int64(1), snap[TableInfluencerMap])
}
