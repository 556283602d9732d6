package ledger_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"finance_ledger/internal/domain"
	"finance_ledger/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T { return &v }

var errInjected = errors.New("injected failure")

// failBalanceWrites makes every UPDATE on the users table fail, simulating a crash
// between the transaction row mutation and the balance mutation.
func failBalanceWrites(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	err := gdb.Callback().Update().Before("gorm:update").Register("test:fail_balance", func(tx *gorm.DB) {
		if tx.Statement.Table == "users" {
			tx.AddError(errInjected)
		}
	})
	require.NoError(t, err)
}

func TestLedger_Scenario(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "1000")
	l := ledger.New(gdb, nil)
	ctx := context.Background()

	income, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: domain.TypeIncome, Amount: dec("500"), Description: "Salary"})
	require.NoError(t, err)
	assertBalance(t, "1500", income.User.Balance)

	expense, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: domain.TypeExpense, Amount: dec("200"), Description: "Groceries"})
	require.NoError(t, err)
	assertBalance(t, "1300", expense.User.Balance)

	updated, err := l.Update(ctx, expense.Transaction.ID, ledger.Changes{Amount: ptr(dec("300"))})
	require.NoError(t, err)
	assertBalance(t, "1200", updated.User.Balance)
	assertBalance(t, "300", updated.Transaction.Amount)

	deleted, err := l.Delete(ctx, income.Transaction.ID)
	require.NoError(t, err)
	assertBalance(t, "700", deleted.User.Balance)
	assert.Equal(t, income.Transaction.ID, deleted.Transaction.ID)

	assertBalance(t, "700", storedBalance(t, gdb, user.ID))
	assert.Equal(t, int64(1), countTransactions(t, gdb, user.ID))
}

func TestLedger_Create(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "0")
	groceries := seedCategory(t, gdb, "Groceries")
	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	l := ledger.New(gdb, nil)

	res, err := l.Create(context.Background(), ledger.CreateParams{
		UserID:        user.ID,
		Type:          domain.TypeExpense,
		Amount:        dec("42.50"),
		CategoryTitle: "Groceries",
		Description:   "Market",
		Date:          date,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Transaction.CategoryID)
	assert.Equal(t, groceries.ID, *res.Transaction.CategoryID)
	require.NotNil(t, res.Transaction.Category)
	assert.Equal(t, "Groceries", res.Transaction.Category.Title)
	assert.True(t, date.Equal(res.Transaction.Date))
	assertBalance(t, "-42.50", res.User.Balance)
	assertBalance(t, "-42.50", storedBalance(t, gdb, user.ID))
}

func TestLedger_Create_DefaultsDate(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "0")
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	l := ledger.New(gdb, nil, ledger.WithClock(func() time.Time { return now }))

	res, err := l.Create(context.Background(), ledger.CreateParams{UserID: user.ID, Type: domain.TypeIncome, Amount: dec("1")})
	require.NoError(t, err)
	assert.True(t, now.Equal(res.Transaction.Date))
}

func TestLedger_Create_UnknownCategoryIsIgnored(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "100")
	l := ledger.New(gdb, ledger.NewResolver(ledger.PolicyIgnore))

	res, err := l.Create(context.Background(), ledger.CreateParams{
		UserID: user.ID, Type: domain.TypeIncome, Amount: dec("10"), CategoryTitle: "Nope",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Transaction.CategoryID)
	assertBalance(t, "110", res.User.Balance)
}

func TestLedger_Create_Errors(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "100")
	l := ledger.New(gdb, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  ledger.CreateParams
		wantErr error
	}{
		{
			name:    "unknown user",
			params:  ledger.CreateParams{UserID: user.ID + 100, Type: domain.TypeIncome, Amount: dec("1")},
			wantErr: ledger.ErrUserNotFound,
		},
		{
			name:   "zero amount",
			params: ledger.CreateParams{UserID: user.ID, Type: domain.TypeIncome, Amount: decimal.Zero},
		},
		{
			name:   "negative amount",
			params: ledger.CreateParams{UserID: user.ID, Type: domain.TypeExpense, Amount: dec("-5")},
		},
		{
			name:   "unknown type",
			params: ledger.CreateParams{UserID: user.ID, Type: "transfer", Amount: dec("5")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := l.Create(ctx, tt.params)
			require.Error(t, err)
			assert.Nil(t, res)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ledger.ErrNotFound)
			} else {
				var vErr *ledger.ValidationError
				assert.ErrorAs(t, err, &vErr)
			}
		})
	}

	assertBalance(t, "100", storedBalance(t, gdb, user.ID))
	assert.Zero(t, countTransactions(t, gdb, user.ID))
}

func TestLedger_Update(t *testing.T) {
	tests := []struct {
		name        string
		initialType domain.TransactionType
		changes     ledger.Changes
		wantBalance string
		wantType    domain.TransactionType
		wantAmount  string
	}{
		{
			name:        "type flip",
			initialType: domain.TypeExpense,
			changes:     ledger.Changes{Type: ptr(domain.TypeIncome), Amount: ptr(dec("50"))},
			wantBalance: "1050", // -50 reversed, +50 applied
			wantType:    domain.TypeIncome,
			wantAmount:  "50",
		},
		{
			name:        "type flip with new amount",
			initialType: domain.TypeIncome,
			changes:     ledger.Changes{Type: ptr(domain.TypeExpense), Amount: ptr(dec("20"))},
			wantBalance: "980",
			wantType:    domain.TypeExpense,
			wantAmount:  "20",
		},
		{
			name:        "incremental amount",
			initialType: domain.TypeExpense,
			changes:     ledger.Changes{Amount: ptr(dec("80"))},
			wantBalance: "920",
			wantType:    domain.TypeExpense,
			wantAmount:  "80",
		},
		{
			name:        "unchanged amount and type",
			initialType: domain.TypeExpense,
			changes:     ledger.Changes{Amount: ptr(dec("50")), Type: ptr(domain.TypeExpense), Description: ptr("renamed")},
			wantBalance: "950",
			wantType:    domain.TypeExpense,
			wantAmount:  "50",
		},
		{
			name:        "description only",
			initialType: domain.TypeIncome,
			changes:     ledger.Changes{Description: ptr("renamed")},
			wantBalance: "1050",
			wantType:    domain.TypeIncome,
			wantAmount:  "50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb := newTestDB(t)
			user := seedUser(t, gdb, "jane", "1000")
			l := ledger.New(gdb, nil)
			ctx := context.Background()

			created, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: tt.initialType, Amount: dec("50")})
			require.NoError(t, err)
			before := created.User.Balance

			res, err := l.Update(ctx, created.Transaction.ID, tt.changes)
			require.NoError(t, err)

			assertBalance(t, tt.wantBalance, res.User.Balance)
			assertBalance(t, tt.wantBalance, storedBalance(t, gdb, user.ID))
			assert.Equal(t, tt.wantType, res.Transaction.Type)
			assertBalance(t, tt.wantAmount, res.Transaction.Amount)
			if tt.changes.Description != nil {
				assert.Equal(t, *tt.changes.Description, res.Transaction.Description)
			}
			if tt.name == "unchanged amount and type" || tt.name == "description only" {
				assert.True(t, before.Equal(res.User.Balance))
			}
		})
	}
}

func TestLedger_Update_TypeFlipMovesBalanceByHundred(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "0")
	l := ledger.New(gdb, nil)
	ctx := context.Background()

	created, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: domain.TypeExpense, Amount: dec("50")})
	require.NoError(t, err)

	res, err := l.Update(ctx, created.Transaction.ID, ledger.Changes{Type: ptr(domain.TypeIncome), Amount: ptr(dec("50"))})
	require.NoError(t, err)
	assertBalance(t, "100", res.User.Balance.Sub(created.User.Balance))
}

func TestLedger_Update_Category(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "0")
	food := seedCategory(t, gdb, "Food")
	rent := seedCategory(t, gdb, "Rent")
	l := ledger.New(gdb, nil)
	ctx := context.Background()

	created, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: domain.TypeExpense, Amount: dec("10"), CategoryTitle: "Food"})
	require.NoError(t, err)
	require.Equal(t, food.ID, *created.Transaction.CategoryID)

	res, err := l.Update(ctx, created.Transaction.ID, ledger.Changes{CategoryTitle: ptr("Rent")})
	require.NoError(t, err)
	require.NotNil(t, res.Transaction.Category)
	assert.Equal(t, rent.ID, *res.Transaction.CategoryID)
	assert.Equal(t, "Rent", res.Transaction.Category.Title)

	// An unknown title keeps the previous category
	res, err = l.Update(ctx, created.Transaction.ID, ledger.Changes{CategoryTitle: ptr("Unknown")})
	require.NoError(t, err)
	assert.Equal(t, rent.ID, *res.Transaction.CategoryID)
	assertBalance(t, "-10", res.User.Balance)
}

func TestLedger_Update_Errors(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "0")
	l := ledger.New(gdb, nil)
	ctx := context.Background()

	_, err := l.Update(ctx, 999, ledger.Changes{Amount: ptr(dec("1"))})
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)

	created, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: domain.TypeIncome, Amount: dec("10")})
	require.NoError(t, err)

	var vErr *ledger.ValidationError
	_, err = l.Update(ctx, created.Transaction.ID, ledger.Changes{Amount: ptr(dec("-1"))})
	assert.ErrorAs(t, err, &vErr)
	_, err = l.Update(ctx, created.Transaction.ID, ledger.Changes{Type: ptr(domain.TransactionType("gift"))})
	assert.ErrorAs(t, err, &vErr)

	assertBalance(t, "10", storedBalance(t, gdb, user.ID))
}

func TestLedger_Delete(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "1000.1234")
	seedCategory(t, gdb, "Salary")
	l := ledger.New(gdb, nil)
	ctx := context.Background()

	created, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: domain.TypeIncome, Amount: dec("0.1"), CategoryTitle: "Salary"})
	require.NoError(t, err)

	res, err := l.Delete(ctx, created.Transaction.ID)
	require.NoError(t, err)

	assert.Equal(t, created.Transaction.ID, res.Transaction.ID)
	require.NotNil(t, res.Transaction.Category)
	assert.Equal(t, "Salary", res.Transaction.Category.Title)
	assert.Equal(t, user.Balance.String(), res.User.Balance.String())
	assertBalance(t, "1000.1234", storedBalance(t, gdb, user.ID))
	assert.Zero(t, countTransactions(t, gdb, user.ID))

	_, err = l.Delete(ctx, created.Transaction.ID)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestLedger_Atomicity(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "1000")
	l := ledger.New(gdb, ledger.NewResolver(ledger.PolicyCreate))
	ctx := context.Background()

	existing, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: domain.TypeExpense, Amount: dec("50"), Description: "before"})
	require.NoError(t, err)
	assertBalance(t, "950", existing.User.Balance)

	failBalanceWrites(t, gdb)

	t.Run("create", func(t *testing.T) {
		_, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: domain.TypeIncome, Amount: dec("500"), CategoryTitle: "Bonus"})
		var aErr *ledger.AtomicityError
		require.ErrorAs(t, err, &aErr)
		assert.Equal(t, "create", aErr.Op)
		assert.ErrorIs(t, err, errInjected)

		assert.Equal(t, int64(1), countTransactions(t, gdb, user.ID))
		var categories int64
		require.NoError(t, gdb.Model(&domain.Category{}).Where("title = ?", "Bonus").Count(&categories).Error)
		assert.Zero(t, categories, "category created in the failed unit must roll back")
	})

	t.Run("update", func(t *testing.T) {
		_, err := l.Update(ctx, existing.Transaction.ID, ledger.Changes{Amount: ptr(dec("80")), Description: ptr("after")})
		var aErr *ledger.AtomicityError
		require.ErrorAs(t, err, &aErr)

		var stored domain.Transaction
		require.NoError(t, gdb.First(&stored, existing.Transaction.ID).Error)
		assertBalance(t, "50", stored.Amount)
		assert.Equal(t, "before", stored.Description)
	})

	t.Run("delete", func(t *testing.T) {
		_, err := l.Delete(ctx, existing.Transaction.ID)
		var aErr *ledger.AtomicityError
		require.ErrorAs(t, err, &aErr)
		assert.Equal(t, int64(1), countTransactions(t, gdb, user.ID))
	})

	assertBalance(t, "950", storedBalance(t, gdb, user.ID))
}

func TestLedger_IdempotentCreate(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "0")
	other := seedUser(t, gdb, "john", "0")
	l := ledger.New(gdb, nil)
	ctx := context.Background()

	params := ledger.CreateParams{UserID: user.ID, Type: domain.TypeIncome, Amount: dec("25"), IdempotencyKey: "k-1"}
	first, err := l.Create(ctx, params)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := l.Create(ctx, params)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assertBalance(t, "25", second.User.Balance)
	assert.Equal(t, int64(1), countTransactions(t, gdb, user.ID))

	// Keys are scoped per user
	params.UserID = other.ID
	third, err := l.Create(ctx, params)
	require.NoError(t, err)
	assert.False(t, third.Replayed)
	assertBalance(t, "25", third.User.Balance)

	// A key whose transaction was deleted is not replayed into a new one
	_, err = l.Delete(ctx, first.Transaction.ID)
	require.NoError(t, err)
	params.UserID = user.ID
	_, err = l.Create(ctx, params)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
	assertBalance(t, "0", storedBalance(t, gdb, user.ID))
}

func TestLedger_ConcurrentWrites(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "0")
	l := ledger.New(gdb, nil)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			typ := domain.TypeIncome
			if i%2 == 1 {
				typ = domain.TypeExpense
			}
			_, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: typ, Amount: dec("10.05")})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assertBalance(t, "0", storedBalance(t, gdb, user.ID))
	assert.Equal(t, int64(workers), countTransactions(t, gdb, user.ID))
}

func TestLedger_Conservation(t *testing.T) {
	gdb := newTestDB(t)
	user := seedUser(t, gdb, "jane", "250")
	l := ledger.New(gdb, nil)
	reconciler := ledger.NewReconciler(gdb)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	types := []domain.TransactionType{domain.TypeIncome, domain.TypeExpense}

	var ids []uint
	for step := 0; step < 200; step++ {
		amount := decimal.New(int64(rng.Intn(100000)+1), -2) // 0.01 .. 1000.00
		switch op := rng.Intn(3); {
		case op == 0 || len(ids) == 0:
			res, err := l.Create(ctx, ledger.CreateParams{UserID: user.ID, Type: types[rng.Intn(2)], Amount: amount})
			require.NoError(t, err)
			ids = append(ids, res.Transaction.ID)
		case op == 1:
			changes := ledger.Changes{}
			if rng.Intn(2) == 0 {
				changes.Amount = &amount
			}
			if rng.Intn(2) == 0 {
				changes.Type = &types[rng.Intn(2)]
			}
			_, err := l.Update(ctx, ids[rng.Intn(len(ids))], changes)
			require.NoError(t, err)
		default:
			i := rng.Intn(len(ids))
			_, err := l.Delete(ctx, ids[i])
			require.NoError(t, err)
			ids = append(ids[:i], ids[i+1:]...)
		}

		expected, err := reconciler.Recompute(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, expected.Equal(storedBalance(t, gdb, user.ID)), "step %d: derived %s", step, expected)
	}
}
