package auction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/galarux/subastapp/pkg/types"
)

func roster(orders ...int) []types.Participant {
	ps := make([]types.Participant, 0, len(orders))
	for _, o := range orders {
		ps = append(ps, types.Participant{Order: o})
	}
	return ps
}

func TestNextTurn(t *testing.T) {
	tests := []struct {
		name    string
		orders  []int
		current int
		want    int
	}{
		{name: "advances to next order", orders: []int{1, 2, 3}, current: 1, want: 2},
		{name: "wraps after last", orders: []int{1, 2, 3}, current: 3, want: 1},
		{name: "unknown turn restarts rotation", orders: []int{1, 2, 3}, current: 99, want: 1},
		{name: "ignores declaration order", orders: []int{3, 1, 2}, current: 2, want: 3},
		{name: "sparse orders", orders: []int{2, 5, 9}, current: 5, want: 9},
		{name: "single participant keeps the turn", orders: []int{4}, current: 4, want: 4},
		{name: "empty roster is a no-op", orders: nil, current: 7, want: 7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NextTurn(roster(tc.orders...), tc.current))
		})
	}
}

// A full cycle starting from any participant must visit everyone exactly
// once before returning to the start.
func TestNextTurnFullCycle(t *testing.T) {
	participants := roster(4, 1, 3, 2)

	turn := 1
	seen := map[int]bool{}
	for i := 0; i < len(participants); i++ {
		seen[turn] = true
		turn = NextTurn(participants, turn)
	}

	require.Len(t, seen, len(participants))
	require.Equal(t, 1, turn)
}
