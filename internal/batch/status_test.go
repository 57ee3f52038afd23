package batch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	cases := []struct {
		name   string
		counts Counts
		cancel bool
		want   Status
	}{
		{"empty", Counts{}, false, StatusPending},
		{"all pending", Counts{Pending: 3}, false, StatusRunning},
		{"some running", Counts{Running: 1, Completed: 2}, false, StatusRunning},
		{"pending with failures", Counts{Pending: 1, Failed: 2}, false, StatusRunning},
		{"all completed", Counts{Completed: 3}, false, StatusCompleted},
		{"all failed", Counts{Failed: 3}, false, StatusFailed},
		{"mixed", Counts{Completed: 2, Failed: 1}, false, StatusPartial},
		{"completed and cancelled", Counts{Completed: 1, Cancelled: 1}, false, StatusPartial},
		{"cancel wins over running", Counts{Running: 2}, true, StatusCancelled},
		{"cancel wins over completed", Counts{Completed: 3}, true, StatusCancelled},
		{"cancel wins over empty", Counts{}, true, StatusCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Derive(tc.counts, tc.cancel))
		})
	}
}

func TestDeriveTerminalOnlyWhenNothingInFlight(t *testing.T) {
	for pending := 0; pending < 3; pending++ {
		for running := 0; running < 3; running++ {
			for done := 0; done < 3; done++ {
				c := Counts{Pending: pending, Running: running, Completed: done, Failed: done}
				s := Derive(c, false)
				if pending+running > 0 {
					require.Equal(t, StatusRunning, s, c)
				} else if c.Total() > 0 {
					require.True(t, s.Terminal(), c)
				}
			}
		}
	}
}

func TestCountsAdd(t *testing.T) {
	var c Counts
	c.Add(ChildPending, 2)
	c.Add(ChildFailed, 1)
	c.Add(ChildStatus("bogus"), 5)
	require.Equal(t, Counts{Pending: 2, Failed: 1}, c)
	require.Equal(t, 3, c.Total())
}
