package ads

import (
	"testing"
	"time"

	"github.com/Guizzs26/go-ads-sync/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestQueryString(t *testing.T) {
	w := models.DateWindow{
		Start: time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC),
	}
	q := Query{
		Resource: "campaign",
		Fields:   []string{"campaign.id", "metrics.clicks"},
		Where:    []string{"campaign.status != 'REMOVED'"},
		Window:   &w,
		OrderBy:  "campaign.id",
	}

	assert.Equal(t,
		"SELECT campaign.id, metrics.clicks FROM campaign WHERE campaign.status != 'REMOVED' AND segments.date BETWEEN '2026-10-11' AND '2026-10-17' ORDER BY campaign.id",
		q.String())
}

func TestQueryStringWithoutConditions(t *testing.T) {
	q := Query{Resource: "customer", Fields: []string{"customer.id"}}
	assert.Equal(t, "SELECT customer.id FROM customer", q.String())
}

func TestNormalizeCustomerID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"123-456-7890", "1234567890", true},
		{"1234567890", "1234567890", true},
		{" 123-456-7890 ", "1234567890", true},
		{"123-456-789", "123456789", false},
		{"12345abcde", "12345abcde", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeCustomerID(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
