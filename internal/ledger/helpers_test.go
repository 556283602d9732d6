package ledger_test

import (
	"fmt"
	"regexp"
	"testing"

	"finance_ledger/internal/db"
	"finance_ledger/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// newTestDB opens a private in-memory SQLite database with the schema migrated
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", nonAlnum.ReplaceAllString(t.Name(), "_"))
	gdb, err := db.Open("sqlite", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedUser(t *testing.T, gdb *gorm.DB, name, balance string) *domain.User {
	t.Helper()
	user := domain.User{
		Username:       name,
		Email:          name + "@example.com",
		Password:       "hash",
		Balance:        dec(balance),
		InitialBalance: dec(balance),
	}
	require.NoError(t, gdb.Create(&user).Error)
	return &user
}

func seedCategory(t *testing.T, gdb *gorm.DB, title string) *domain.Category {
	t.Helper()
	category := domain.Category{Title: title}
	require.NoError(t, gdb.Create(&category).Error)
	return &category
}

// storedBalance reads the balance straight from the store
func storedBalance(t *testing.T, gdb *gorm.DB, userID uint) decimal.Decimal {
	t.Helper()
	var user domain.User
	require.NoError(t, gdb.First(&user, userID).Error)
	return user.Balance
}

func assertBalance(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "balance: want %s, got %s", want, got)
}

func countTransactions(t *testing.T, gdb *gorm.DB, userID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(&domain.Transaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}
