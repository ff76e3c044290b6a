package ledger

import (
	"fmt"
	"time"
)

// Kind distinguishes the original settlement from resolver corrections.
type Kind uint8

const (
	KindSettlement Kind = iota + 1
	KindCompensation
)

func (k Kind) String() string {
	switch k {
	case KindSettlement:
		return "SETTLEMENT"
	case KindCompensation:
		return "COMPENSATION"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) Valid() bool { return k == KindSettlement || k == KindCompensation }

func ParseKind(s string) (Kind, error) {
	switch s {
	case "SETTLEMENT":
		return KindSettlement, nil
	case "COMPENSATION":
		return KindCompensation, nil
	default:
		return 0, fmt.Errorf("ledger: unknown entry kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("ledger: invalid entry kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Entry is one append-only row of the points ledger.
type Entry struct {
	ID           string    `json:"id"`
	SwapID       string    `json:"swap_id"`
	UserID       string    `json:"user_id"`
	Delta        int64     `json:"delta"`
	BalanceAfter int64     `json:"balance_after"`
	Kind         Kind      `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
}

// Settlement moves Amount points from Payer to Payee for a swap.
type Settlement struct {
	SwapID  string
	PayerID string
	PayeeID string
	Amount  int64
	Kind    Kind
}

// ForDifference derives the settlement of a swap from its signed points
// difference: positive means the recipient owes the initiator.
func ForDifference(swapID, initiatorID, recipientID string, difference int64) Settlement {
	s := Settlement{SwapID: swapID, Kind: KindSettlement}
	if difference >= 0 {
		s.PayerID, s.PayeeID, s.Amount = recipientID, initiatorID, difference
	} else {
		s.PayerID, s.PayeeID, s.Amount = initiatorID, recipientID, -difference
	}
	return s
}
