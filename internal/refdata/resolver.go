package refdata

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-cli/internal/model"
)

// Channel resolution rules, in precedence order. Explicit operator-curated
// app mappings always beat heuristic pattern parsing; first match wins and
// partial matches are never merged.
const (
	RuleAppID       = "app_id"
	RuleSourceName  = "source_name"
	RuleLandingSite = "landing_site"
	RuleFallback    = "fallback"
)

// DuplicateKeyError reports an ambiguous mapping table: two rows share a
// natural key. Loading fails rather than letting last-write-wins corrupt
// attribution.
type DuplicateKeyError struct {
	Table string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("refdata: duplicate key %q in %s", e.Key, e.Table)
}

// Resolver holds the loaded mapping tables. It is immutable after
// construction and safe for concurrent resolves across any number of
// runs; miss accounting lives in run-scoped UnresolvedCounts, not here.
type Resolver struct {
	channels    []ChannelRule
	skus        map[string]string
	promos      map[string]PromoRow
	influencers map[string]InfluencerRow
}

// NewResolver builds a Resolver from loaded tables. It fails on duplicate
// natural keys and on channel patterns that do not compile, so a bad
// reference load aborts the run before any transform executes.
func NewResolver(tables Tables) (*Resolver, error) {
	r := &Resolver{
		skus:        make(map[string]string, len(tables.SKUs)),
		promos:      make(map[string]PromoRow, len(tables.Promos)),
		influencers: make(map[string]InfluencerRow, len(tables.Influencers)),
	}

	seen := make(map[string]bool, len(tables.Channels))
	for _, rule := range tables.Channels {
		key := strings.Join([]string{rule.Source, rule.AppIDPattern, rule.SourceNamePattern, rule.LandingSitePattern}, "|")
		if seen[key] {
			return nil, eris.Wrap(&DuplicateKeyError{Table: TableChannelMap, Key: key}, "refdata: load channel_map")
		}
		seen[key] = true

		if rule.SourceNamePattern != "" {
			re, err := regexp.Compile("(?i)" + rule.SourceNamePattern)
			if err != nil {
				return nil, eris.Wrapf(err, "refdata: channel_map source_name pattern %q", rule.SourceNamePattern)
			}
			rule.sourceNameRe = re
		}
		if rule.LandingSitePattern != "" {
			re, err := regexp.Compile("(?i)" + rule.LandingSitePattern)
			if err != nil {
				return nil, eris.Wrapf(err, "refdata: channel_map landing_site pattern %q", rule.LandingSitePattern)
			}
			rule.landingSiteRe = re
		}
		r.channels = append(r.channels, rule)
	}

	for _, row := range tables.SKUs {
		if _, dup := r.skus[row.RawSKU]; dup {
			return nil, eris.Wrap(&DuplicateKeyError{Table: TableSKUMap, Key: row.RawSKU}, "refdata: load sku_map")
		}
		r.skus[row.RawSKU] = row.CanonicalSKU
	}

	for _, row := range tables.Promos {
		code := strings.ToUpper(row.PromoCode)
		if _, dup := r.promos[code]; dup {
			return nil, eris.Wrap(&DuplicateKeyError{Table: TablePromoBudget, Key: row.PromoCode}, "refdata: load promo_budget")
		}
		r.promos[code] = row
	}

	for _, row := range tables.Influencers {
		code := strings.ToUpper(row.Code)
		if _, dup := r.influencers[code]; dup {
			return nil, eris.Wrap(&DuplicateKeyError{Table: TableInfluencerMap, Key: row.Code}, "refdata: load influencer_map")
		}
		r.influencers[code] = row
	}

	return r, nil
}

// ResolveChannel maps raw attribution hints to a canonical channel. The
// precedence is fixed: explicit source+app_id entry, then source_name
// pattern, then landing_site pattern, then the unclassified bucket. The
// matched rule name is returned for observability.
func (r *Resolver) ResolveChannel(source string, hints model.AttributionHints) (string, string) {
	if hints.AppID != "" {
		for _, rule := range r.channels {
			if rule.AppIDPattern != "" && rule.Source == source && rule.AppIDPattern == hints.AppID {
				return rule.CanonicalChannel, RuleAppID
			}
		}
	}

	if hints.SourceName != "" {
		for _, rule := range r.channels {
			if rule.sourceNameRe == nil || (rule.Source != "" && rule.Source != source) {
				continue
			}
			if rule.sourceNameRe.MatchString(hints.SourceName) {
				return rule.CanonicalChannel, RuleSourceName
			}
		}
	}

	if hints.LandingSite != "" {
		for _, rule := range r.channels {
			if rule.landingSiteRe == nil || (rule.Source != "" && rule.Source != source) {
				continue
			}
			if rule.landingSiteRe.MatchString(hints.LandingSite) {
				return rule.CanonicalChannel, RuleLandingSite
			}
		}
	}

	return UnclassifiedChannel, RuleFallback
}

// ResolveSKU maps a raw SKU to its canonical key. Misses (including an
// absent SKU) return the sentinel.
func (r *Resolver) ResolveSKU(rawSKU string) string {
	if canonical, ok := r.skus[rawSKU]; ok {
		return canonical
	}
	return UnresolvedSKU
}

// ResolvePromo maps a promo code to its canonical key. Misses return the
// sentinel.
func (r *Resolver) ResolvePromo(code string) string {
	if row, ok := r.promos[strings.ToUpper(code)]; ok {
		return strings.ToUpper(row.PromoCode)
	}
	return UnresolvedPromo
}

// PromoPct returns the budgeted pct-of-sales cost for a canonical promo
// key, or 0 when unknown.
func (r *Resolver) PromoPct(promoKey string) float64 {
	if row, ok := r.promos[strings.ToUpper(promoKey)]; ok {
		return row.PctOfSales
	}
	return 0
}

// LookupInfluencer is a pure influencer_map lookup with no unresolved
// accounting. Most promo codes are not influencer codes, so a per-code
// counter would drown the signal; the attribution engine records one miss
// per order when none of its codes resolve.
func (r *Resolver) LookupInfluencer(code string) (InfluencerRow, bool) {
	row, ok := r.influencers[strings.ToUpper(code)]
	return row, ok
}
