package matchdoc

// User is the per-person record. The uid comes from the auth provider and
// is the only stable identity; nickname and points change after matches.
// An empty MatchName means the user is not in a match.
type User struct {
	UID         string  `json:"uid"`
	Nickname    string  `json:"nickname"`
	Points      float64 `json:"points"`
	MatchPlayed int     `json:"matchPlayed"`
	MatchName   string  `json:"matchName,omitempty"`
}
