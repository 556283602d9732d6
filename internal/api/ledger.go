package api

import (
	"context" // Request scoped context

	"finance_ledger/internal/domain" // Importing domain models
	"finance_ledger/internal/ledger" // Transaction ledger
)

// TransactionLedger is the write path the transaction handlers depend on
//
//go:generate mockgen -source=ledger.go -destination=ledger_mock.go -package=api
type TransactionLedger interface {
	Get(ctx context.Context, id uint) (*domain.Transaction, error)
	Create(ctx context.Context, p ledger.CreateParams) (*ledger.Result, error)
	Update(ctx context.Context, id uint, ch ledger.Changes) (*ledger.Result, error)
	Delete(ctx context.Context, id uint) (*ledger.Result, error)
}

var _ TransactionLedger = (*ledger.Ledger)(nil)
