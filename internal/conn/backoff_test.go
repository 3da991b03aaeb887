package conn

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestDelay_Table(t *testing.T) {
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		3 * time.Second,
		5 * time.Second,
		5 * time.Second,
		10 * time.Second,
		10 * time.Second,
		15 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := Delay(i); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
	if got := Delay(-1); got != want[0] {
		t.Errorf("Delay(-1) = %v, want %v", got, want[0])
	}
}

// Property: every attempt index at or past the table length waits 30 s, and
// delays never decrease as attempts grow.
func TestDelay_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("attempts past the table use the last value", prop.ForAll(
		func(n int) bool {
			return Delay(n) == 30*time.Second
		},
		gen.IntRange(len(backoffTable), 1<<20),
	))

	properties.Property("delays are monotonic", prop.ForAll(
		func(n int) bool {
			return Delay(n) <= Delay(n+1)
		},
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}
