package ads

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenJSON(t *testing.T) {
	var obj map[string]any
	raw := `{
		"campaign": {"id": "123", "advertisingChannelType": "SEARCH"},
		"metrics": {"costMicros": "2500000", "conversions": 1.5},
		"adGroupAd": {"ad": {"responsiveSearchAd": {"headlines": [{"text": "a"}]}}}
	}`
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&obj))

	row := FlattenJSON(obj)

	assert.Equal(t, "123", row.Text("campaign.id"))
	assert.Equal(t, "SEARCH", row.Text("campaign.advertising_channel_type"))

	cost, err := row.Int64("metrics.cost_micros")
	require.NoError(t, err)
	assert.Equal(t, int64(2500000), cost)

	conv, err := row.Float64("metrics.conversions")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, conv, 1e-9)

	assert.True(t, row.Has("ad_group_ad.ad.responsive_search_ad.headlines"))
}

func TestRowAccessors(t *testing.T) {
	row := Row{
		"a.int":   "42",
		"a.float": float64(3),
		"a.frac":  float64(3.5),
		"a.bad":   "x",
		"a.date":  "2026-10-17",
		"a.null":  nil,
	}

	n, err := row.Int64("a.int")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)

	n, err = row.Int64("a.float")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = row.Int64("a.frac")
	assert.Error(t, err)

	_, err = row.Int64("a.bad")
	assert.Error(t, err)

	n, err = row.Int64("missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	qs, err := row.OptionalInt("a.null")
	require.NoError(t, err)
	assert.Nil(t, qs)

	d, err := row.Date("a.date")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "2026-10-17", d.Format("2006-01-02"))

	_, err = row.RequireText("a.null")
	assert.Error(t, err)
}

func TestRowSubtree(t *testing.T) {
	row := Row{
		"ad_group_ad.ad.id":         "1",
		"ad_group_ad.ad.type":       "RSA",
		"ad_group_ad.ad.final_urls": []any{"https://example.com"},
		"ad_group_ad.status":        "ENABLED",
	}

	sub := row.Subtree("ad_group_ad.ad", "id", "type")

	assert.Equal(t, map[string]any{"final_urls": []any{"https://example.com"}}, sub)
}
