// Package wallet maintains agent balances as an idempotent ledger on top of
// the versioned state store. Debits and credits are serialized per wallet,
// deduplicated by idempotency key, and never leave a wallet negative.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JMKlausv/project-chimera-w0/pkg/contracts"
	"github.com/JMKlausv/project-chimera-w0/pkg/faults"
	"github.com/JMKlausv/project-chimera-w0/pkg/retry"
	"github.com/JMKlausv/project-chimera-w0/pkg/statestore"
)

const (
	balancePrefix = "wallet:"
	txPrefix      = "wallettx:"
)

// Ledger executes wallet operations.
type Ledger struct {
	store statestore.Store
	exec  *retry.Executor
	log   *slog.Logger
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a Ledger over store.
func NewLedger(store statestore.Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		store: store,
		exec:  retry.New(),
		log:   log,
		clock: time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// WithClock overrides time for tests.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithExecutor overrides the retry executor for tests.
func (l *Ledger) WithExecutor(exec *retry.Executor) *Ledger {
	l.exec = exec
	return l
}

// walletLock returns the mutex serializing operations on one wallet. Holding
// it makes the read-check-write below race-free within this process; the
// versioned write still guards against other processes.
func (l *Ledger) walletLock(walletID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[walletID]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[walletID] = lk
	}
	return lk
}

// Open creates a wallet with an initial balance. Opening an existing wallet
// is a RES_ALREADY_EXISTS fault.
func (l *Ledger) Open(ctx context.Context, walletID string, initial contracts.Money) (*contracts.WalletBalance, error) {
	if initial.IsNegative() {
		return nil, faults.New("FIN_WALLET_ERROR", "initial balance must not be negative")
	}
	bal := &contracts.WalletBalance{WalletID: walletID, Balance: initial}
	data, err := json.Marshal(bal)
	if err != nil {
		return nil, fmt.Errorf("marshal balance: %w", err)
	}
	rec, err := l.store.WriteIfVersion(ctx, balancePrefix+walletID, 0, data)
	if err != nil {
		if faults.CodeOf(err) == "STATE_CONFLICT" {
			return nil, faults.Newf("RES_ALREADY_EXISTS", "wallet %q already open", walletID)
		}
		return nil, err
	}
	bal.Version = rec.Version
	return bal, nil
}

// Balance returns the current balance.
func (l *Ledger) Balance(ctx context.Context, walletID string) (*contracts.WalletBalance, error) {
	rec, err := l.store.Get(ctx, balancePrefix+walletID)
	if err != nil {
		return nil, err
	}
	var bal contracts.WalletBalance
	if err := json.Unmarshal(rec.Data, &bal); err != nil {
		return nil, fmt.Errorf("decode balance %q: %w", walletID, err)
	}
	bal.Version = rec.Version
	return &bal, nil
}

// Debit withdraws amount from the wallet. Replaying the same idempotency key
// returns the original transaction without moving funds again. Insufficient
// balance fails immediately and is never retried.
func (l *Ledger) Debit(ctx context.Context, walletID string, amount contracts.Money, idempotencyKey string) (*contracts.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, faults.New("FIN_WALLET_ERROR", "debit amount must be positive")
	}
	return l.apply(ctx, walletID, contracts.Money{AmountMinor: -amount.AmountMinor, Currency: amount.Currency}, idempotencyKey)
}

// Credit deposits amount into the wallet under the same idempotency rules.
func (l *Ledger) Credit(ctx context.Context, walletID string, amount contracts.Money, idempotencyKey string) (*contracts.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, faults.New("FIN_WALLET_ERROR", "credit amount must be positive")
	}
	return l.apply(ctx, walletID, amount, idempotencyKey)
}

func (l *Ledger) apply(ctx context.Context, walletID string, delta contracts.Money, idempotencyKey string) (*contracts.WalletTransaction, error) {
	if idempotencyKey == "" {
		return nil, faults.New("VAL_MISSING_REQUIRED_FIELD", "idempotency key is required").WithField("idempotency_key")
	}

	lk := l.walletLock(walletID)
	lk.Lock()
	defer lk.Unlock()

	txKey := txPrefix + walletID + ":" + idempotencyKey
	if prior, err := l.priorTransaction(ctx, txKey); err != nil {
		return nil, err
	} else if prior != nil {
		l.log.Debug("wallet transaction replayed", "wallet_id", walletID, "tx_id", prior.ID)
		if prior.Status == contracts.TxFailed {
			return prior, faults.New("FIN_TRANSACTION_FAILED", "transaction previously failed")
		}
		return prior, nil
	}

	// Currency is checked once up front: a mismatch is the caller's input
	// error, not a transient condition, so it must not burn retries or leave
	// a failed transaction blocking a corrected replay.
	if bal, err := l.Balance(ctx, walletID); err != nil {
		return nil, err
	} else if bal.Balance.Currency != delta.Currency {
		return nil, faults.Newf("FIN_CURRENCY_CONVERSION_ERROR",
			"wallet %q holds %s, operation in %s", walletID, bal.Balance.Currency, delta.Currency)
	}

	tx := &contracts.WalletTransaction{
		ID:             uuid.NewString(),
		WalletID:       walletID,
		IdempotencyKey: idempotencyKey,
		Amount:         delta,
		Status:         contracts.TxConfirmed,
		CreatedAt:      l.clock().UTC(),
	}

	// Re-read and re-check on every attempt: a conflict means another
	// process moved the balance, so the old version and sufficiency check
	// are both stale.
	err := l.exec.Do(ctx, retry.Wallet, txKey, func(ctx context.Context) error {
		bal, err := l.Balance(ctx, walletID)
		if err != nil {
			return err
		}
		if bal.Balance.Currency != delta.Currency {
			return faults.Newf("FIN_CURRENCY_CONVERSION_ERROR",
				"wallet %q holds %s, operation in %s", walletID, bal.Balance.Currency, delta.Currency)
		}
		next, err := bal.Balance.Add(delta)
		if err != nil {
			return faults.Wrap("FIN_CURRENCY_CONVERSION_ERROR", "apply delta", err)
		}
		if next.IsNegative() {
			return faults.Newf("FIN_INSUFFICIENT_BALANCE",
				"wallet %q has %d, needs %d", walletID, bal.Balance.AmountMinor, -delta.AmountMinor)
		}
		if err := l.writeBalance(ctx, bal, next); err != nil {
			return err
		}
		tx.BalanceAfter = next
		return nil
	})
	if err != nil {
		code := faults.CodeOf(err)
		if code == "FIN_CURRENCY_CONVERSION_ERROR" ||
			(!faults.IsRetryable(err) && code != "STATE_CONFLICT") {
			// Validation failures are the caller's to fix; no transaction
			// is recorded so a corrected replay can succeed.
			return nil, err
		}
		tx.Status = contracts.TxFailed
		if recErr := l.recordTransaction(ctx, txKey, tx); recErr != nil {
			l.log.Error("failed to record failed transaction", "wallet_id", walletID, "error", recErr)
		}
		l.log.Warn("wallet transaction failed", "wallet_id", walletID, "tx_id", tx.ID, "error", err)
		return tx, faults.Wrap("FIN_TRANSACTION_FAILED", "balance write failed after retries", err)
	}

	if err := l.recordTransaction(ctx, txKey, tx); err != nil {
		return nil, err
	}
	l.log.Info("wallet transaction confirmed",
		"wallet_id", walletID, "tx_id", tx.ID, "amount_minor", delta.AmountMinor, "balance_minor", tx.BalanceAfter.AmountMinor)
	return tx, nil
}

// writeBalance applies the new balance with a compare-and-swap. On conflict
// it re-reads and re-checks sufficiency before surfacing the conflict to the
// retry executor.
func (l *Ledger) writeBalance(ctx context.Context, bal *contracts.WalletBalance, next contracts.Money) error {
	updated := &contracts.WalletBalance{WalletID: bal.WalletID, Balance: next}
	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("marshal balance: %w", err)
	}
	_, err = l.store.WriteIfVersion(ctx, balancePrefix+bal.WalletID, bal.Version, data)
	return err
}

func (l *Ledger) priorTransaction(ctx context.Context, txKey string) (*contracts.WalletTransaction, error) {
	rec, err := l.store.Get(ctx, txKey)
	if err != nil {
		if faults.CodeOf(err) == "RES_NOT_FOUND" {
			return nil, nil
		}
		return nil, err
	}
	var tx contracts.WalletTransaction
	if err := json.Unmarshal(rec.Data, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction %q: %w", txKey, err)
	}
	return &tx, nil
}

func (l *Ledger) recordTransaction(ctx context.Context, txKey string, tx *contracts.WalletTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	_, err = l.store.WriteIfVersion(ctx, txKey, 0, data)
	return err
}
