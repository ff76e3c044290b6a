// Package notify carries the events the swap core emits. Events are written
// to a transactional outbox with the state change that caused them and
// relayed to Kafka afterwards; delivery and retry live here, not in the core.
package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TopicSwapStateChanged    = "swap.state_changed"
	TopicDisputeOpened       = "swap.dispute_opened"
	TopicSettlementCompleted = "swap.settlement_completed"
	TopicWishlistChanged     = "wishlist.changed"
)

type SwapStateChanged struct {
	SwapID  string    `json:"swap_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Version int64     `json:"version"`
	ActorID string    `json:"actor_id"`
	At      time.Time `json:"at"`
}

type DisputeOpened struct {
	SwapID    string    `json:"swap_id"`
	DisputeID string    `json:"dispute_id"`
	OpenedBy  string    `json:"opened_by"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

type SettlementEntry struct {
	UserID       string `json:"user_id"`
	Delta        int64  `json:"delta"`
	BalanceAfter int64  `json:"balance_after"`
	Kind         string `json:"kind"`
}

type SettlementCompleted struct {
	SwapID  string            `json:"swap_id"`
	Entries []SettlementEntry `json:"entries"`
	At      time.Time         `json:"at"`
}

type WishlistChanged struct {
	WishlistID string    `json:"wishlist_id"`
	OwnerID    string    `json:"owner_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Message is one outbox row.
type Message struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

// NewMessage serialises an event for the outbox. Key is used as the Kafka
// partition key so events of one swap stay ordered.
func NewMessage(topic, key string, event any) (Message, error) {
	if topic == "" {
		return Message{}, fmt.Errorf("notify: empty topic")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Message{}, fmt.Errorf("notify: marshal %s: %w", topic, err)
	}
	return Message{Topic: topic, Key: key, Payload: payload}, nil
}
