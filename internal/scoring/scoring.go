// Package scoring holds the round engine bookkeeping: score increments,
// end-of-game reward splits and display placement. All functions are pure
// over the points mapping.
package scoring

// AwardRound gives the round winner exactly one point.
func AwardRound(points map[string]int, winner string) {
	points[winner]++
}

// FinalReward is the player's share of the single unit of reward handed out
// at game end: 1/n for each of the n players tied at the maximum score,
// zero for everyone else.
func FinalReward(points map[string]int, uid string) float64 {
	if len(points) == 0 {
		return 0
	}
	max := 0
	first := true
	for _, v := range points {
		if first || v > max {
			max = v
			first = false
		}
	}
	if points[uid] != max {
		return 0
	}
	ties := 0
	for _, v := range points {
		if v == max {
			ties++
		}
	}
	return 1 / float64(ties)
}

// Placement is 1 plus the count of other players with a strictly greater
// score; tied players share the same placement number.
func Placement(points map[string]int, uid string) int {
	own := points[uid]
	placement := 1
	for p, v := range points {
		if p != uid && v > own {
			placement++
		}
	}
	return placement
}
