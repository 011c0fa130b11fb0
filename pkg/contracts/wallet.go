package contracts

import (
	"fmt"
	"time"
)

// Money is a monetary value in integer minor units, avoiding floating point.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 code
}

// NewMoney creates a Money value.
func NewMoney(amountMinor int64, currency string) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Add returns m + other. Cross-currency arithmetic is an error; conversion
// is out of scope for the ledger.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// IsPositive reports amount > 0.
func (m Money) IsPositive() bool { return m.AmountMinor > 0 }

// IsNegative reports amount < 0.
func (m Money) IsNegative() bool { return m.AmountMinor < 0 }

// TransactionStatus of a wallet transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
)

// WalletTransaction records one debit or credit. Immutable once confirmed.
type WalletTransaction struct {
	ID             string            `json:"tx_id"`
	WalletID       string            `json:"wallet_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Amount         Money             `json:"amount"`
	BalanceAfter   Money             `json:"balance_after"`
	Status         TransactionStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// WalletBalance is the versioned balance record held in the state store.
type WalletBalance struct {
	WalletID string `json:"wallet_id"`
	Balance  Money  `json:"balance"`
	Version  int64  `json:"version"`
}
