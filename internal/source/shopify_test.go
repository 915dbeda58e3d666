package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sales-cli/internal/model"
)

const shopifySnapshot = `[
  {
    "id": 5001,
    "created_at": "2025-08-15T10:30:00-04:00",
    "source_name": "web",
    "landing_site": "/collections/all?utm_source=klaviyo",
    "app_id": 580111,
    "total_discounts": "11.00",
    "total_tax": "8.00",
    "discount_codes": [{"code": "WELCOME10"}, {"code": "vip20"}, {"code": "WELCOME10"}],
    "shipping_lines": [{"price": "5.00"}],
    "refunds": [{"transactions": [{"amount": "3.00"}, {"amount": "1.50"}]}],
    "line_items": [
      {"id": 1, "sku": "TSF-001", "title": "Candle 8oz", "quantity": 2, "price": "30.00",
       "discount_allocations": [{"amount": "1.00"}]},
      {"id": 2, "sku": "", "title": "Mystery item", "quantity": 1, "price": "40.00"}
    ]
  },
  {
    "id": 5002,
    "created_at": "not-a-timestamp",
    "line_items": []
  },
  {
    "id": 5003,
    "created_at": "2025-08-15T23:59:00-04:00",
    "total_discounts": "2.50",
    "total_tax": "0.00",
    "line_items": []
  }
]`

func TestShopifyNormalize(t *testing.T) {
	t.Parallel()

	s := &Shopify{}
	orders, dropped, err := s.Normalize([]byte(shopifySnapshot))
	require.NoError(t, err)

	assert.Equal(t, int64(1), dropped)
	require.Len(t, orders, 2)

	o := orders[0]
	assert.Equal(t, "shopify", o.Source)
	assert.Equal(t, "5001", o.SourceOrderID)
	assert.Equal(t, "580111", o.Hints.AppID)
	assert.Equal(t, "web", o.Hints.SourceName)

	wantCreated, _ := time.Parse(time.RFC3339, "2025-08-15T10:30:00-04:00")
	assert.True(t, o.CreatedAt.Equal(wantCreated))

	require.Len(t, o.Lines, 2)
	assert.Equal(t, model.Cents(6000), o.Lines[0].Extended)
	assert.Equal(t, model.Cents(100), o.Lines[0].LineDiscount)
	// Missing SKU is retained, not dropped.
	assert.Equal(t, "", o.Lines[1].RawSKU)
	assert.Equal(t, model.Cents(4000), o.Lines[1].Extended)

	// total_discounts (11.00) minus line allocations (1.00) is order level.
	assert.Equal(t, model.Cents(1000), o.OrderDiscount)
	assert.Equal(t, model.Cents(500), o.Shipping)
	assert.Equal(t, model.Cents(450), o.Refunds)
	assert.Equal(t, model.Cents(800), o.Taxes)
	assert.Equal(t, []string{"WELCOME10", "vip20"}, o.PromoCodes)

	// Zero-line order still normalizes with order-level amounts populated.
	z := orders[1]
	assert.Equal(t, "5003", z.SourceOrderID)
	assert.Empty(t, z.Lines)
	assert.Equal(t, model.Cents(250), z.OrderDiscount)
	assert.Equal(t, model.Cents(0), z.GrossRevenue())
}

func TestShopifyNormalizeBadPayload(t *testing.T) {
	t.Parallel()

	s := &Shopify{}
	_, _, err := s.Normalize([]byte(`{"orders": "not an array"}`))
	require.Error(t, err)
}

func TestShopifyNormalizeBadAmount(t *testing.T) {
	t.Parallel()

	payload := `[{"id": 1, "created_at": "2025-08-15T10:00:00Z",
	  "line_items": [{"id": 1, "sku": "A", "quantity": 1, "price": "thirty"}]}]`

	s := &Shopify{}
	_, _, err := s.Normalize([]byte(payload))
	require.Error(t, err)
}

func TestShopifySchemaIdentity(t *testing.T) {
	t.Parallel()

	s := &Shopify{}
	assert.Equal(t, "shopify", s.Source())
	assert.Equal(t, "2024-10", s.Version())
	assert.Equal(t, "shopify@2024-10", s.Name())
}
