package seed

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomers(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	got := Customers(200, rand.New(rand.NewPCG(1, 2)), now)
	require.Len(t, got, 200)

	emails := map[string]bool{}
	for _, c := range got {
		assert.False(t, emails[c.Email], "duplicate email %s", c.Email)
		emails[c.Email] = true
		assert.GreaterOrEqual(t, c.TotalSpend, 0.0)
		assert.Less(t, c.TotalSpend, 20000.0)
		if c.LastVisit == nil {
			assert.Zero(t, c.TotalVisits)
			continue
		}
		assert.False(t, c.LastVisit.After(now))
		assert.True(t, c.LastVisit.After(now.AddDate(-1, 0, -1)))
	}

	again := Customers(200, rand.New(rand.NewPCG(1, 2)), now)
	assert.Equal(t, got, again, "same seed yields the same data")
}
