package rating

import "time"

// Categories a rater may score besides the overall score.
const (
	CategoryCommunication = "communication"
	CategoryItemAccuracy  = "item_accuracy"
	CategoryPunctuality   = "punctuality"
)

var knownCategories = map[string]bool{
	CategoryCommunication: true,
	CategoryItemAccuracy:  true,
	CategoryPunctuality:   true,
}

// Rating is one participant's review of the other after a completed swap.
type Rating struct {
	ID         string         `json:"id"`
	SwapID     string         `json:"swap_id"`
	RaterID    string         `json:"rater_id"`
	RatedID    string         `json:"rated_id"`
	Score      int            `json:"score"`
	Categories map[string]int `json:"categories,omitempty"`
	Comment    string         `json:"comment,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Summary aggregates the ratings a user has received.
type Summary struct {
	UserID  string  `json:"user_id"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}
