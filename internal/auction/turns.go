package auction

import (
	"sort"

	"github.com/galarux/subastapp/pkg/types"
)

// NextTurn returns the rotation-order value of the participant who
// nominates after currentTurn. Rotation is strictly by order, wrapping to
// the first participant after the last; a currentTurn that matches nobody
// also wraps to the first. The result is recomputed from the live
// participant set every cycle, so joins and removals between lots are
// picked up naturally.
func NextTurn(participants []types.Participant, currentTurn int) int {
	if len(participants) == 0 {
		return currentTurn
	}

	sorted := make([]types.Participant, len(participants))
	copy(sorted, participants)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	for i, p := range sorted {
		if p.Order == currentTurn {
			if i == len(sorted)-1 {
				return sorted[0].Order
			}
			return sorted[i+1].Order
		}
	}
	// Unknown turn value: restart the rotation.
	return sorted[0].Order
}
