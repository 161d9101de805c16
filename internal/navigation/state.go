package navigation

// State is the controller's behaviour state.
type State int

const (
	LineFollowing State = iota
	ObstacleAvoidance
	RescueSearching
	RescueApproachingBall
	RescueCatching
	RescueApproachingCage
	RescueReleasing
	Stopped
)

var stateNames = [...]string{
	LineFollowing:         "line_following",
	ObstacleAvoidance:     "obstacle_avoidance",
	RescueSearching:       "rescue_searching",
	RescueApproachingBall: "rescue_approaching_ball",
	RescueCatching:        "rescue_catching",
	RescueApproachingCage: "rescue_approaching_cage",
	RescueReleasing:       "rescue_releasing",
	Stopped:               "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// InRescue reports whether s belongs to the rescue area behaviour.
func (s State) InRescue() bool {
	return s >= RescueSearching && s <= RescueReleasing
}

// ParseState is the inverse of String.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}
