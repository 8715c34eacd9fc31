// Package round holds the shared records of the engine: revealed results and
// the wagers placed against them, plus the store contracts both live behind.
package round

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrWrongPhase        = errors.New("round: wagering closed for this round")
	ErrAlreadyWagered    = errors.New("round: already wagered on this round")
	ErrInsufficientFunds = errors.New("round: insufficient funds")
	ErrRateLimited       = errors.New("round: backend rate limited")
	ErrInvalidWager      = errors.New("round: invalid wager")
	ErrUnknownGame       = errors.New("round: unknown game")
	ErrAlreadySettled    = errors.New("round: wager already settled")
)

// Outcome is the revealed value of one round. Winners lists the wager keys
// that pay; Multiplier is only set by variants whose outcome is itself a payout factor.
type Outcome struct {
	Roll       int               `json:"roll"`
	Label      string            `json:"label"`
	Winners    []string          `json:"winners"`
	Multiplier float64           `json:"multiplier,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
}

func (o Outcome) Wins(key string) bool {
	return slices.Contains(o.Winners, key)
}

// Result is created at most once per (GameID, RoundID) and never changes.
type Result struct {
	GameID    string    `json:"gameId"`
	RoundID   string    `json:"roundId"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"createdAt"`
}

// Modifier is the rate breakdown recorded on a settled wager for audit.
type Modifier struct {
	ItemID    string  `json:"itemId"`
	ItemRate  float64 `json:"itemRate"`
	TitleTag  string  `json:"titleTag,omitempty"`
	TitleRate float64 `json:"titleRate"`
	Rate      float64 `json:"rate"`
}

// Wager is one participant's stake on one round. Total drives payout math,
// Charged is what the wallet was actually debited.
type Wager struct {
	ID            string           `json:"id"`
	GameID        string           `json:"gameId"`
	RoundID       string           `json:"roundId"`
	ParticipantID string           `json:"participantId"`
	Name          string           `json:"name"`
	Amounts       map[string]int64 `json:"amounts"`
	Total         int64            `json:"total"`
	Charged       int64            `json:"charged"`
	DiscountRate  float64          `json:"discountRate"`
	Settled       bool             `json:"settled"`
	CreatedAt     time.Time        `json:"createdAt"`
	SettledAt     *time.Time       `json:"settledAt,omitempty"`
	Outcome       *Outcome         `json:"outcome,omitempty"`
	Payout        int64            `json:"payout"`
	Cashback      int64            `json:"cashback"`
	Modifier      *Modifier        `json:"modifier,omitempty"`
}

func (w *Wager) clone() *Wager {
	if w == nil {
		return nil
	}
	c := *w
	if w.Amounts != nil {
		c.Amounts = make(map[string]int64, len(w.Amounts))
		for k, v := range w.Amounts {
			c.Amounts[k] = v
		}
	}
	if w.SettledAt != nil {
		t := *w.SettledAt
		c.SettledAt = &t
	}
	if w.Outcome != nil {
		o := *w.Outcome
		c.Outcome = &o
	}
	if w.Modifier != nil {
		m := *w.Modifier
		c.Modifier = &m
	}
	return &c
}

// SumAmounts totals per-key stakes.
func SumAmounts(amounts map[string]int64) int64 {
	var total int64
	for _, v := range amounts {
		total += v
	}
	return total
}
