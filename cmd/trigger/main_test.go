package main

import (
	"testing"

	"github.com/Guizzs26/go-ads-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusAccountIDAcceptsDisplayForm(t *testing.T) {
	for _, raw := range []string{"123-456-7890", "1234567890", " 123-456-7890 "} {
		id, err := statusAccountID(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "1234567890", id)
	}

	_, err := statusAccountID("12-34")
	assert.Error(t, err)
}

func TestRequestFromFlags(t *testing.T) {
	req := options{
		manager:     "999-000-1111",
		mode:        string(models.ModeSingleAccount),
		client:      "1110001111",
		daysBack:    3,
		entityTypes: []string{"campaigns"},
	}.request()

	assert.Equal(t, "999-000-1111", req.ManagerAccountID)
	assert.Equal(t, models.ModeSingleAccount, req.Mode)
	assert.Equal(t, 3, req.DaysBack)
	assert.Equal(t, []string{"campaigns"}, req.EntityTypes)
	assert.Contains(t, req.CorrelationID, "cli-")
}
