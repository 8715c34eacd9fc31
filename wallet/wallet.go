// Package wallet is the narrow contract the engine uses to move points, plus
// an in-process implementation for single-node deployments and tests.
package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Meta is opaque to the wallet except for the "tx_id" key, which makes a
// movement idempotent: replaying a tx id returns the first result unchanged.
type Meta map[string]string

const (
	MetaTxID      = "tx_id"
	MetaRoundID   = "round_id"
	MetaGameID    = "game_id"
	MetaSessionID = "session_id"
)

// Movement reasons used by the engine.
const (
	ReasonWager      = "wager"
	ReasonRefund     = "wager_refund"
	ReasonSettlement = "settlement"
)

type DebitResult struct {
	OK      bool  `json:"ok"`
	Balance int64 `json:"balance"`
	Charged int64 `json:"charged"`
}

// Gateway debits and credits points. A debit that would go negative returns
// OK=false and no error.
type Gateway interface {
	Debit(ctx context.Context, participantID string, amount int64, reason string, meta Meta) (DebitResult, error)
	Credit(ctx context.Context, participantID string, amount int64, reason string, meta Meta) error
}

// Entry is one applied movement.
type Entry struct {
	TxID          string    `json:"txId,omitempty"`
	ParticipantID string    `json:"participantId"`
	Delta         int64     `json:"delta"`
	Balance       int64     `json:"balance"`
	Reason        string    `json:"reason"`
	Meta          Meta      `json:"meta,omitempty"`
	At            time.Time `json:"at"`
}

// Memory keeps balances in a map. Every movement is atomic and balances never go negative.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	applied  map[string]DebitResult
	ledger   []Entry
	initial  int64
	now      func() time.Time
}

// NewMemory creates a wallet where unseen participants start with initial points.
func NewMemory(initial int64) *Memory {
	return &Memory{
		balances: make(map[string]int64),
		applied:  make(map[string]DebitResult),
		initial:  initial,
		now:      time.Now,
	}
}

func (m *Memory) balanceLocked(id string) int64 {
	b, ok := m.balances[id]
	if !ok {
		b = m.initial
		m.balances[id] = b
	}
	return b
}

func (m *Memory) Balance(_ context.Context, participantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(participantID), nil
}

// SetBalance overwrites a balance (admin top-up, tests).
func (m *Memory) SetBalance(participantID string, balance int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[participantID] = balance
}

func (m *Memory) Debit(_ context.Context, participantID string, amount int64, reason string, meta Meta) (DebitResult, error) {
	if amount < 0 {
		return DebitResult{}, fmt.Errorf("wallet.Debit: negative amount %d", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txID := meta[MetaTxID]
	if txID != "" {
		if res, ok := m.applied[txID]; ok {
			return res, nil
		}
	}
	bal := m.balanceLocked(participantID)
	if bal < amount {
		// insufficient funds are not recorded, so a later retry with funds can succeed
		return DebitResult{OK: false, Balance: bal}, nil
	}
	bal -= amount
	m.balances[participantID] = bal
	res := DebitResult{OK: true, Balance: bal, Charged: amount}
	m.recordLocked(txID, participantID, -amount, bal, reason, meta, res)
	return res, nil
}

func (m *Memory) Credit(_ context.Context, participantID string, amount int64, reason string, meta Meta) error {
	if amount < 0 {
		return fmt.Errorf("wallet.Credit: negative amount %d", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	txID := meta[MetaTxID]
	if txID != "" {
		if _, ok := m.applied[txID]; ok {
			return nil
		}
	}
	bal := m.balanceLocked(participantID) + amount
	m.balances[participantID] = bal
	m.recordLocked(txID, participantID, amount, bal, reason, meta, DebitResult{OK: true, Balance: bal})
	return nil
}

func (m *Memory) recordLocked(txID, participantID string, delta, bal int64, reason string, meta Meta, res DebitResult) {
	if txID != "" {
		m.applied[txID] = res
	}
	var copied Meta
	if len(meta) > 0 {
		copied = make(Meta, len(meta))
		for k, v := range meta {
			copied[k] = v
		}
	}
	m.ledger = append(m.ledger, Entry{
		TxID:          txID,
		ParticipantID: participantID,
		Delta:         delta,
		Balance:       bal,
		Reason:        reason,
		Meta:          copied,
		At:            m.now(),
	})
}

// Entries returns the applied movements for participantID, oldest first.
func (m *Memory) Entries(participantID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.ledger {
		if e.ParticipantID == participantID {
			out = append(out, e)
		}
	}
	return out
}
