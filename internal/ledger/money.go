package ledger

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits every stored amount and balance carries
const MoneyScale = 4

// maxMoney bounds the magnitude of amounts and balances. Together with MoneyScale it keeps
// every value within 15 significant digits, which decimal(20,4) holds exactly on MySQL and
// Postgres and SQLite's REAL storage round-trips without loss.
var maxMoney = decimal.New(1, 11)

// CheckMoney reports whether v can be stored without rounding
func CheckMoney(field string, v decimal.Decimal) error {
	if !v.Equal(v.Round(MoneyScale)) {
		return &ValidationError{Field: field, Message: "must have at most 4 decimal places"}
	}
	if v.Abs().GreaterThanOrEqual(maxMoney) {
		return &ValidationError{Field: field, Message: "must be less than 100000000000 in magnitude"}
	}
	return nil
}
