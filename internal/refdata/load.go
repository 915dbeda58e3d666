package refdata

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// csvFiles maps table names to their file names under the reference dir.
var csvFiles = map[string]string{
	TableChannelMap:    "channel_map.csv",
	TableSKUMap:        "sku_map.csv",
	TablePromoBudget:   "promo_budget.csv",
	TableInfluencerMap: "influencer_map.csv",
}

// required tables must exist; the other two default to empty when absent.
var required = map[string]bool{
	TableChannelMap: true,
	TableSKUMap:     true,
}

// LoadCSVDir reads the four mapping tables from CSV files in dir.
// Lines starting with '#' are comments. promo_budget.csv and
// influencer_map.csv may be absent; channel_map.csv and sku_map.csv may not.
func LoadCSVDir(dir string) (Tables, error) {
	var tables Tables

	for table, file := range csvFiles {
		path := filepath.Join(dir, file)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) && !required[table] {
				continue
			}
			return Tables{}, eris.Wrapf(err, "refdata: open %s", path)
		}

		rows, err := readCSV(f)
		f.Close()
		if err != nil {
			return Tables{}, eris.Wrapf(err, "refdata: read %s", path)
		}

		if err := fillTable(&tables, table, rows); err != nil {
			return Tables{}, err
		}
	}

	return tables, nil
}

// LoadWorkbook reads the mapping tables from an XLSX workbook with one
// sheet per table, named after the table.
func LoadWorkbook(path string) (Tables, error) {
	wb, err := xlsx.OpenFile(path)
	if err != nil {
		return Tables{}, eris.Wrapf(err, "refdata: open workbook %s", path)
	}

	var tables Tables
	for table := range csvFiles {
		sheet, ok := wb.Sheet[table]
		if !ok {
			if required[table] {
				return Tables{}, eris.Errorf("refdata: workbook %s missing sheet %q", path, table)
			}
			continue
		}

		var rows [][]string
		for _, row := range sheet.Rows {
			cells := make([]string, len(row.Cells))
			for i, c := range row.Cells {
				cells[i] = strings.TrimSpace(c.String())
			}
			rows = append(rows, cells)
		}

		if err := fillTable(&tables, table, rows); err != nil {
			return Tables{}, err
		}
	}

	return tables, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// fillTable parses header-addressed rows into the named table. Rows with an
// empty natural key are skipped, matching how operators leave scratch lines
// in the mapping sheets.
func fillTable(tables *Tables, table string, rows [][]string) error {
	if len(rows) == 0 {
		if required[table] {
			return eris.Errorf("refdata: table %s is empty", table)
		}
		return nil
	}

	col := mapColumns(rows[0])
	get := func(row []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	for _, row := range rows[1:] {
		switch table {
		case TableChannelMap:
			rule := ChannelRule{
				Source:             get(row, "source"),
				AppIDPattern:       get(row, "app_id_pattern"),
				SourceNamePattern:  get(row, "source_name_pattern"),
				LandingSitePattern: get(row, "landing_site_pattern"),
				CanonicalChannel:   get(row, "canonical_channel"),
			}
			if rule.CanonicalChannel == "" {
				continue
			}
			tables.Channels = append(tables.Channels, rule)

		case TableSKUMap:
			r := SKURow{RawSKU: get(row, "raw_sku"), CanonicalSKU: get(row, "canonical_sku")}
			if r.RawSKU == "" {
				continue
			}
			tables.SKUs = append(tables.SKUs, r)

		case TablePromoBudget:
			code := get(row, "promo_code")
			if code == "" {
				continue
			}
			pct, err := parsePct(get(row, "pct_of_sales"))
			if err != nil {
				return eris.Wrapf(err, "refdata: promo_budget row %q", code)
			}
			tables.Promos = append(tables.Promos, PromoRow{PromoCode: code, PctOfSales: pct})

		case TableInfluencerMap:
			r := InfluencerRow{
				Code:                get(row, "code"),
				CanonicalInfluencer: get(row, "canonical_influencer"),
				FeeModel:            get(row, "fee_model"),
			}
			if r.Code == "" {
				continue
			}
			tables.Influencers = append(tables.Influencers, r)
		}
	}

	return nil
}

func parsePct(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
}

// mapColumns builds a lowercase header name -> index map.
func mapColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return col
}
