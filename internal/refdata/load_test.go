package refdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeRefDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoadCSVDir(t *testing.T) {
	t.Parallel()

	dir := writeRefDir(t, map[string]string{
		"channel_map.csv": `source,app_id_pattern,source_name_pattern,landing_site_pattern,canonical_channel
# operator note: POS app
shopify,580111,,,Shopify-Online
shopify,,^pos$,,Shopify-POS
,,instagram,,Social
`,
		"sku_map.csv": `raw_sku,canonical_sku
TSF-001,CANDLE-8OZ

TSF-002,CANDLE-16OZ
`,
		"promo_budget.csv": `promo_code,pct_of_sales
WELCOME10,0.10
VIP20,0.20
`,
		"influencer_map.csv": `code,canonical_influencer,fee_model
VIP20,jane-doe,pct_of_sales
`,
	})

	tables, err := LoadCSVDir(dir)
	require.NoError(t, err)

	require.Len(t, tables.Channels, 3)
	assert.Equal(t, "Shopify-Online", tables.Channels[0].CanonicalChannel)
	assert.Equal(t, "580111", tables.Channels[0].AppIDPattern)

	require.Len(t, tables.SKUs, 2)
	assert.Equal(t, "CANDLE-8OZ", tables.SKUs[0].CanonicalSKU)

	require.Len(t, tables.Promos, 2)
	assert.InDelta(t, 0.10, tables.Promos[0].PctOfSales, 1e-9)

	require.Len(t, tables.Influencers, 1)
	assert.Equal(t, "jane-doe", tables.Influencers[0].CanonicalInfluencer)
}

func TestLoadCSVDirOptionalTables(t *testing.T) {
	t.Parallel()

	dir := writeRefDir(t, map[string]string{
		"channel_map.csv": "source,app_id_pattern,source_name_pattern,landing_site_pattern,canonical_channel\nshopify,1,,,Web\n",
		"sku_map.csv":     "raw_sku,canonical_sku\nA,B\n",
	})

	tables, err := LoadCSVDir(dir)
	require.NoError(t, err)
	assert.Empty(t, tables.Promos)
	assert.Empty(t, tables.Influencers)
}

func TestLoadCSVDirMissingRequired(t *testing.T) {
	t.Parallel()

	dir := writeRefDir(t, map[string]string{
		"sku_map.csv": "raw_sku,canonical_sku\nA,B\n",
	})

	_, err := LoadCSVDir(dir)
	require.Error(t, err)
}

func TestLoadCSVDirBadPct(t *testing.T) {
	t.Parallel()

	dir := writeRefDir(t, map[string]string{
		"channel_map.csv":  "source,app_id_pattern,source_name_pattern,landing_site_pattern,canonical_channel\nshopify,1,,,Web\n",
		"sku_map.csv":      "raw_sku,canonical_sku\nA,B\n",
		"promo_budget.csv": "promo_code,pct_of_sales\nOOPS,ten percent\n",
	})

	_, err := LoadCSVDir(dir)
	require.Error(t, err)
}

func TestLoadWorkbook(t *testing.T) {
	t.Parallel()

	f := xlsx.NewFile()
	addSheet := func(name string, rows [][]string) {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, r := range rows {
			row := sheet.AddRow()
			for _, v := range r {
				row.AddCell().Value = v
			}
		}
	}

	addSheet(TableChannelMap, [][]string{
		{"source", "app_id_pattern", "source_name_pattern", "landing_site_pattern", "canonical_channel"},
		{"shopify", "580111", "", "", "Shopify-Online"},
	})
	addSheet(TableSKUMap, [][]string{
		{"raw_sku", "canonical_sku"},
		{"TSF-001", "CANDLE-8OZ"},
	})
	addSheet(TablePromoBudget, [][]string{
		{"promo_code", "pct_of_sales"},
		{"WELCOME10", "0.10"},
	})

	path := filepath.Join(t.TempDir(), "maps.xlsx")
	require.NoError(t, f.Save(path))

	tables, err := LoadWorkbook(path)
	require.NoError(t, err)

	require.Len(t, tables.Channels, 1)
	assert.Equal(t, "Shopify-Online", tables.Channels[0].CanonicalChannel)
	require.Len(t, tables.SKUs, 1)
	require.Len(t, tables.Promos, 1)
	assert.Empty(t, tables.Influencers)
}

func TestLoadWorkbookMissingRequiredSheet(t *testing.T) {
	t.Parallel()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(TableSKUMap)
	require.NoError(t, err)
	row := sheet.AddRow()
	row.AddCell().Value = "raw_sku"

	path := filepath.Join(t.TempDir(), "maps.xlsx")
	require.NoError(t, f.Save(path))

	_, err = LoadWorkbook(path)
	require.Error(t, err)
}
