// Package paper provides in-process venue, custody and claim-token
// collaborators with virtual balances. Every mutation is journaled so the
// engine can roll a failed call back across them.
package paper

import (
	"context"
	"fmt"
	"sync"

	"trailing_go/internal/domain"
	"trailing_go/pkg/journal"
	"trailing_go/pkg/safe"

	"github.com/shopspring/decimal"
)

type walletKey struct {
	account domain.Account
	asset   domain.Asset
}

// Wallets is a balance book of (account, asset) pairs.
type Wallets struct {
	mu       sync.Mutex
	balances map[walletKey]decimal.Decimal
	journal  *journal.Journal
}

// NewWallets creates an empty balance book.
func NewWallets() *Wallets {
	return &Wallets{
		balances: make(map[walletKey]decimal.Decimal),
		journal:  journal.New(),
	}
}

// Credit adds funds to an account.
func (w *Wallets) Credit(account domain.Account, asset domain.Asset, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.credit(account, asset, amount)
}

// Debit removes funds from an account, failing if it cannot cover the amount.
func (w *Wallets) Debit(account domain.Account, asset domain.Asset, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.debit(account, asset, amount)
}

// Transfer moves funds between accounts.
func (w *Wallets) Transfer(from, to domain.Account, asset domain.Asset, amount decimal.Decimal) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := w.journal.Snapshot()
	if err := w.debit(from, asset, amount); err != nil {
		return err
	}
	if err := w.credit(to, asset, amount); err != nil {
		w.journal.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// Balance returns the balance of an account.
func (w *Wallets) Balance(account domain.Account, asset domain.Asset) decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[walletKey{account, asset}]
}

func (w *Wallets) credit(account domain.Account, asset domain.Asset, amount decimal.Decimal) error {
	k := walletKey{account, asset}
	next, err := safe.Add(w.balances[k], amount)
	if err != nil {
		return fmt.Errorf("credit %s %s to %s: %w", amount, asset, account, err)
	}
	journal.SetKey(w.journal, w.balances, k, next)
	return nil
}

func (w *Wallets) debit(account domain.Account, asset domain.Asset, amount decimal.Decimal) error {
	k := walletKey{account, asset}
	next, err := safe.Sub(w.balances[k], amount)
	if err != nil {
		return fmt.Errorf("debit %s %s from %s: %w: %w", amount, asset, account, domain.ErrInsufficientBalance, err)
	}
	journal.SetKey(w.journal, w.balances, k, next)
	return nil
}

// Snapshot implements domain.Transactional.
func (w *Wallets) Snapshot() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.journal.Snapshot()
}

// RevertToSnapshot implements domain.Transactional.
func (w *Wallets) RevertToSnapshot(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.journal.RevertToSnapshot(id)
}

// Commit implements domain.Transactional.
func (w *Wallets) Commit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.journal.Commit()
}

// Vault is the engine's custody account inside a Wallets book.
type Vault struct {
	wallets *Wallets
	account domain.Account
}

// NewVault returns a custody view over account.
func NewVault(wallets *Wallets, account domain.Account) *Vault {
	return &Vault{wallets: wallets, account: account}
}

// Account returns the custody account.
func (v *Vault) Account() domain.Account {
	return v.account
}

// Deposit implements domain.Custody.
func (v *Vault) Deposit(_ context.Context, from domain.Account, asset domain.Asset, amount decimal.Decimal) error {
	return v.wallets.Transfer(from, v.account, asset, amount)
}

// Withdraw implements domain.Custody.
func (v *Vault) Withdraw(_ context.Context, to domain.Account, asset domain.Asset, amount decimal.Decimal) error {
	return v.wallets.Transfer(v.account, to, asset, amount)
}

// Transactional returns the book that backs the vault.
func (v *Vault) Transactional() domain.Transactional {
	return v.wallets
}
