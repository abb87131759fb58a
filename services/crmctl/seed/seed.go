// Package seed generates demo customers for local environments.
package seed

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/Mutter0815/SegmentMailer/internal/audience"
)

var (
	firstNames = []string{"Aarav", "Diya", "Ishaan", "Meera", "Rohan", "Ananya", "Kabir", "Saanvi", "Vihaan", "Zara"}
	lastNames  = []string{"Sharma", "Patel", "Iyer", "Khan", "Reddy", "Das", "Mehta", "Nair", "Gupta", "Singh"}
)

// Customers returns n customers with spend in [0, 20000), visits in [0, 50)
// and a last visit within the year before now. A quarter have never visited.
func Customers(n int, rnd *rand.Rand, now time.Time) []audience.Customer {
	out := make([]audience.Customer, 0, n)
	for i := 0; i < n; i++ {
		first := firstNames[rnd.IntN(len(firstNames))]
		last := lastNames[rnd.IntN(len(lastNames))]
		c := audience.Customer{
			Name:        first + " " + last,
			Email:       fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), i+1),
			TotalSpend:  float64(rnd.IntN(2_000_000)) / 100,
			TotalVisits: int64(rnd.IntN(50)),
		}
		if rnd.IntN(4) != 0 {
			lv := now.AddDate(0, 0, -rnd.IntN(365)).UTC().Truncate(24 * time.Hour)
			c.LastVisit = &lv
		} else {
			c.TotalVisits = 0
		}
		out = append(out, c)
	}
	return out
}
