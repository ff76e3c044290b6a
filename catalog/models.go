package catalog

import (
	"fmt"
	"strings"
	"time"
)

// Condition is the physical condition rank of a listed item.
// The zero value is not a valid condition.
type Condition uint8

const (
	ConditionPoor Condition = iota + 1
	ConditionFair
	ConditionGood
	ConditionLikeNew
	ConditionNew
)

// Conditions lists every condition from best to worst.
var Conditions = []Condition{ConditionNew, ConditionLikeNew, ConditionGood, ConditionFair, ConditionPoor}

// Rank orders conditions; higher is better.
func (c Condition) Rank() int { return int(c) }

func (c Condition) Valid() bool { return c >= ConditionPoor && c <= ConditionNew }

func (c Condition) String() string {
	switch c {
	case ConditionNew:
		return "NEW"
	case ConditionLikeNew:
		return "LIKE_NEW"
	case ConditionGood:
		return "GOOD"
	case ConditionFair:
		return "FAIR"
	case ConditionPoor:
		return "POOR"
	default:
		return fmt.Sprintf("Condition(%d)", uint8(c))
	}
}

// ParseCondition accepts the canonical upper-case names, case-insensitively.
func ParseCondition(s string) (Condition, error) {
	for _, c := range Conditions {
		if strings.EqualFold(strings.TrimSpace(s), c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("catalog: unknown condition %q", s)
}

func (c Condition) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("catalog: invalid condition %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Condition) UnmarshalText(b []byte) error {
	parsed, err := ParseCondition(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Status is the listing lifecycle of an item.
type Status uint8

const (
	StatusActive Status = iota + 1
	StatusPending
	StatusSwapped
	StatusExpired
	StatusRemoved
)

var statusNames = map[Status]string{
	StatusActive:  "ACTIVE",
	StatusPending: "PENDING",
	StatusSwapped: "SWAPPED",
	StatusExpired: "EXPIRED",
	StatusRemoved: "REMOVED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("catalog: unknown item status %q", s)
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("catalog: invalid item status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Item mirrors the items table.
type Item struct {
	ID        string
	OwnerID   string
	Title     string
	Category  string
	Condition Condition
	AgeMonths int
	Points    int64
	Status    Status
	Location  *Location
	ListedAt  time.Time
	SwappedAt *time.Time
	UpdatedAt time.Time
}

// Sale is a comparable completed exchange used as a market signal.
type Sale struct {
	ItemID   string
	Category string
	Points   int64
	SoldAt   time.Time
}
