package source

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/sales-cli/internal/model"
)

// CSVFeed decodes flat CSV order exports (one row per line item, order
// level amounts repeated on every row) driven entirely by a declarative
// Mapping. New flat-file sources are added as mappings, not code.
type CSVFeed struct {
	source  string
	version string
	mapping Mapping
}

// NewCSVFeed builds a schema for a flat CSV feed.
func NewCSVFeed(source, version string, m Mapping) *CSVFeed {
	return &CSVFeed{source: source, version: version, mapping: m}
}

func (c *CSVFeed) Name() string    { return schemaName(c.source, c.version) }
func (c *CSVFeed) Source() string  { return c.source }
func (c *CSVFeed) Version() string { return c.version }

// Normalize parses a CSV snapshot into canonical raw orders. Rows are
// grouped by the order id column in first-seen order; an order whose
// created_at does not parse is dropped whole and counted.
func (c *CSVFeed) Normalize(payload []byte) ([]model.RawOrder, int64, error) {
	var r io.Reader = bytes.NewReader(payload)
	if c.mapping.Charset != "" {
		enc, err := htmlindex.Get(c.mapping.Charset)
		if err != nil {
			return nil, 0, eris.Wrapf(err, "csvfeed: unknown charset %q", c.mapping.Charset)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, eris.Wrap(err, "csvfeed: read header")
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}

	get := func(row []string, name string) string {
		if name == "" {
			return ""
		}
		idx, ok := col[strings.ToLower(name)]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	grouped := make(map[string][][]string)
	var orderIDs []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, eris.Wrap(err, "csvfeed: read row")
		}
		id := get(row, c.mapping.Columns.OrderID)
		if id == "" {
			continue
		}
		if _, seen := grouped[id]; !seen {
			orderIDs = append(orderIDs, id)
		}
		grouped[id] = append(grouped[id], row)
	}

	var orders []model.RawOrder
	var dropped int64

	for _, id := range orderIDs {
		rows := grouped[id]
		first := rows[0]

		createdAt, err := time.Parse(c.mapping.timeLayout(), get(first, c.mapping.Columns.CreatedAt))
		if err != nil {
			dropped++
			zap.L().Warn("csvfeed: dropping order with unusable created_at",
				zap.String("source", c.source),
				zap.String("order_id", id),
			)
			continue
		}

		order := model.RawOrder{
			Source:        c.source,
			SourceOrderID: id,
			CreatedAt:     createdAt,
			Hints: model.AttributionHints{
				AppID:       get(first, c.mapping.Columns.AppID),
				SourceName:  get(first, c.mapping.Columns.SourceName),
				LandingSite: get(first, c.mapping.Columns.LandingSite),
			},
		}

		// Order-level amounts are repeated per row; read them once.
		if order.OrderDiscount, err = c.cents(get(first, c.mapping.Columns.OrderDiscount)); err != nil {
			return nil, dropped, eris.Wrapf(err, "csvfeed: order %s order_discount", id)
		}
		if order.Refunds, err = c.cents(get(first, c.mapping.Columns.Refunds)); err != nil {
			return nil, dropped, eris.Wrapf(err, "csvfeed: order %s refunds", id)
		}
		if order.Shipping, err = c.cents(get(first, c.mapping.Columns.Shipping)); err != nil {
			return nil, dropped, eris.Wrapf(err, "csvfeed: order %s shipping", id)
		}
		if order.Taxes, err = c.cents(get(first, c.mapping.Columns.Taxes)); err != nil {
			return nil, dropped, eris.Wrapf(err, "csvfeed: order %s taxes", id)
		}

		order.PromoCodes = normalizeCodes(strings.Split(get(first, c.mapping.Columns.PromoCodes), ";"))

		for i, row := range rows {
			extended, err := c.cents(get(row, c.mapping.Columns.Extended))
			if err != nil {
				return nil, dropped, eris.Wrapf(err, "csvfeed: order %s row %d extended", id, i)
			}

			// Negative-amount rows are discount entries, not sellable lines.
			if c.mapping.DiscountMode == DiscountNegativeLines && extended < 0 {
				order.OrderDiscount += -extended
				continue
			}

			unit, err := c.cents(get(row, c.mapping.Columns.UnitPrice))
			if err != nil {
				return nil, dropped, eris.Wrapf(err, "csvfeed: order %s row %d unit_price", id, i)
			}
			disc, err := c.cents(get(row, c.mapping.Columns.LineDiscount))
			if err != nil {
				return nil, dropped, eris.Wrapf(err, "csvfeed: order %s row %d line_discount", id, i)
			}

			qty := int64(1)
			if q := get(row, c.mapping.Columns.Quantity); q != "" {
				qty, err = strconv.ParseInt(q, 10, 64)
				if err != nil {
					return nil, dropped, eris.Wrapf(err, "csvfeed: order %s row %d quantity", id, i)
				}
			}

			if extended == 0 && unit != 0 {
				extended = unit * model.Cents(qty)
			}

			order.Lines = append(order.Lines, model.RawLineItem{
				RawSKU:       get(row, c.mapping.Columns.SKU),
				Quantity:     qty,
				UnitPrice:    unit,
				Extended:     extended,
				LineDiscount: disc,
			})
		}

		orders = append(orders, order)
	}

	return orders, dropped, nil
}

func (c *CSVFeed) cents(s string) (model.Cents, error) {
	return model.ParseCents(s)
}
