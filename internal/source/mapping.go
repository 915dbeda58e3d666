package source

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DiscountMode declares how a flat feed represents discounts.
type DiscountMode string

const (
	// DiscountColumns: each line row carries its own discount column.
	DiscountColumns DiscountMode = "columns"
	// DiscountNegativeLines: discount entries appear as extra rows with a
	// negative extended amount and fold into the order-level discount.
	DiscountNegativeLines DiscountMode = "negative_lines"
)

// Columns names the feed columns that populate each canonical field.
// OrderID and CreatedAt are required; everything else is optional and
// defaults to zero when unmapped.
type Columns struct {
	OrderID       string `yaml:"order_id"`
	CreatedAt     string `yaml:"created_at"`
	SKU           string `yaml:"sku"`
	Quantity      string `yaml:"quantity"`
	UnitPrice     string `yaml:"unit_price"`
	Extended      string `yaml:"extended"`
	LineDiscount  string `yaml:"line_discount"`
	OrderDiscount string `yaml:"order_discount"`
	Refunds       string `yaml:"refunds"`
	Shipping      string `yaml:"shipping"`
	Taxes         string `yaml:"taxes"`
	PromoCodes    string `yaml:"promo_codes"`
	SourceName    string `yaml:"source_name"`
	LandingSite   string `yaml:"landing_site"`
	AppID         string `yaml:"app_id"`
}

// Mapping is the declarative field mapping for a flat CSV feed.
type Mapping struct {
	TimeLayout   string       `yaml:"time_layout"`
	Charset      string       `yaml:"charset"`
	DiscountMode DiscountMode `yaml:"discount_mode"`
	Columns      Columns      `yaml:"columns"`
}

// Validate checks that the mapping names the fields the normalizer cannot
// work without.
func (m *Mapping) Validate() error {
	if m.Columns.OrderID == "" {
		return eris.New("source: mapping missing order_id column")
	}
	if m.Columns.CreatedAt == "" {
		return eris.New("source: mapping missing created_at column")
	}
	switch m.DiscountMode {
	case "", DiscountColumns, DiscountNegativeLines:
	default:
		return eris.Errorf("source: unknown discount_mode %q", m.DiscountMode)
	}
	return nil
}

func (m *Mapping) timeLayout() string {
	if m.TimeLayout == "" {
		return time.RFC3339
	}
	return m.TimeLayout
}

// DefaultMarketplaceMapping is the built-in mapping for the marketplace
// settlement export feed.
func DefaultMarketplaceMapping() Mapping {
	return Mapping{
		TimeLayout:   "2006-01-02 15:04:05 -0700",
		DiscountMode: DiscountColumns,
		Columns: Columns{
			OrderID:       "order-id",
			CreatedAt:     "purchase-date",
			SKU:           "sku",
			Quantity:      "quantity",
			UnitPrice:     "item-price",
			Extended:      "item-total",
			LineDiscount:  "item-promotion-discount",
			OrderDiscount: "order-promotion-discount",
			Refunds:       "refund-total",
			Shipping:      "shipping-price",
			Taxes:         "item-tax",
			PromoCodes:    "promotion-ids",
			SourceName:    "sales-channel",
		},
	}
}

// Manifest tags a raw snapshot directory with the source and schema
// version its files were written in. A mapping block turns the directory
// into a CSV feed source without any registered Go code.
type Manifest struct {
	Source  string   `yaml:"source"`
	Version string   `yaml:"version"`
	Mapping *Mapping `yaml:"mapping,omitempty"`
}

// ReadManifest reads dir/schema.yaml. A missing manifest returns nil with
// no error; the caller falls back to resolving the directory name alone.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "schema.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "source: read manifest %s", path)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "source: parse manifest %s", path)
	}
	if m.Source == "" {
		m.Source = filepath.Base(dir)
	}
	if m.Mapping != nil {
		if err := m.Mapping.Validate(); err != nil {
			return nil, eris.Wrapf(err, "source: manifest %s", path)
		}
	}
	return &m, nil
}
