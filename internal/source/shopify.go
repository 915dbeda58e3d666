package source

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-cli/internal/model"
)

// shopifyVersion is the Admin REST API version the decoder understands.
const shopifyVersion = "2024-10"

// Shopify decodes order snapshots fetched from the Shopify Admin REST API.
type Shopify struct{}

func (s *Shopify) Name() string    { return schemaName(s.Source(), s.Version()) }
func (s *Shopify) Source() string  { return "shopify" }
func (s *Shopify) Version() string { return shopifyVersion }

type shopifyOrder struct {
	ID             int64  `json:"id"`
	CreatedAt      string `json:"created_at"`
	SourceName     string `json:"source_name"`
	LandingSite    string `json:"landing_site"`
	AppID          int64  `json:"app_id"`
	TotalDiscounts string `json:"total_discounts"`
	TotalTax       string `json:"total_tax"`
	DiscountCodes  []struct {
		Code string `json:"code"`
	} `json:"discount_codes"`
	ShippingLines []struct {
		Price string `json:"price"`
	} `json:"shipping_lines"`
	Refunds []struct {
		Transactions []struct {
			Amount string `json:"amount"`
		} `json:"transactions"`
	} `json:"refunds"`
	LineItems []struct {
		ID                  int64  `json:"id"`
		SKU                 string `json:"sku"`
		Title               string `json:"title"`
		Quantity            int64  `json:"quantity"`
		Price               string `json:"price"`
		DiscountAllocations []struct {
			Amount string `json:"amount"`
		} `json:"discount_allocations"`
	} `json:"line_items"`
}

// Normalize converts a Shopify orders JSON snapshot into canonical raw
// orders. Orders without a parseable created_at are dropped and counted.
func (s *Shopify) Normalize(payload []byte) ([]model.RawOrder, int64, error) {
	var raw []shopifyOrder
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, 0, eris.Wrap(err, "shopify: decode orders payload")
	}

	var orders []model.RawOrder
	var dropped int64

	for _, o := range raw {
		createdAt, err := time.Parse(time.RFC3339, o.CreatedAt)
		if err != nil {
			dropped++
			zap.L().Warn("shopify: dropping order with unusable created_at",
				zap.Int64("order_id", o.ID),
				zap.String("created_at", o.CreatedAt),
			)
			continue
		}

		order := model.RawOrder{
			Source:        s.Source(),
			SourceOrderID: strconv.FormatInt(o.ID, 10),
			CreatedAt:     createdAt,
			Hints: model.AttributionHints{
				SourceName:  o.SourceName,
				LandingSite: o.LandingSite,
			},
		}
		if o.AppID != 0 {
			order.Hints.AppID = strconv.FormatInt(o.AppID, 10)
		}

		var lineDiscounts model.Cents
		for _, li := range o.LineItems {
			unit, err := model.ParseCents(li.Price)
			if err != nil {
				return nil, dropped, eris.Wrapf(err, "shopify: order %d line %d price", o.ID, li.ID)
			}
			var disc model.Cents
			for _, a := range li.DiscountAllocations {
				amt, err := model.ParseCents(a.Amount)
				if err != nil {
					return nil, dropped, eris.Wrapf(err, "shopify: order %d line %d discount", o.ID, li.ID)
				}
				disc += amt
			}
			lineDiscounts += disc

			order.Lines = append(order.Lines, model.RawLineItem{
				LineID:       strconv.FormatInt(li.ID, 10),
				RawSKU:       li.SKU,
				Title:        li.Title,
				Quantity:     li.Quantity,
				UnitPrice:    unit,
				Extended:     unit * model.Cents(li.Quantity),
				LineDiscount: disc,
			})
		}

		totalDiscounts, err := model.ParseCents(o.TotalDiscounts)
		if err != nil {
			return nil, dropped, eris.Wrapf(err, "shopify: order %d total_discounts", o.ID)
		}
		// total_discounts includes the per-line allocations; the remainder
		// is the order-level discount.
		if rem := totalDiscounts - lineDiscounts; rem > 0 {
			order.OrderDiscount = rem
		}

		for _, sl := range o.ShippingLines {
			amt, err := model.ParseCents(sl.Price)
			if err != nil {
				return nil, dropped, eris.Wrapf(err, "shopify: order %d shipping line", o.ID)
			}
			order.Shipping += amt
		}

		for _, rf := range o.Refunds {
			for _, tx := range rf.Transactions {
				amt, err := model.ParseCents(tx.Amount)
				if err != nil {
					return nil, dropped, eris.Wrapf(err, "shopify: order %d refund", o.ID)
				}
				order.Refunds += amt
			}
		}

		order.Taxes, err = model.ParseCents(o.TotalTax)
		if err != nil {
			return nil, dropped, eris.Wrapf(err, "shopify: order %d total_tax", o.ID)
		}

		order.PromoCodes = normalizeCodes(codeList(o))
		orders = append(orders, order)
	}

	return orders, dropped, nil
}

func codeList(o shopifyOrder) []string {
	codes := make([]string, 0, len(o.DiscountCodes))
	for _, dc := range o.DiscountCodes {
		codes = append(codes, dc.Code)
	}
	return codes
}

// normalizeCodes returns the sorted unique promo codes, dropping blanks.
func normalizeCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	var out []string
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
