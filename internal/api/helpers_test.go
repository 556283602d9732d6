package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"
	"time"

	"finance_ledger/internal/db"
	"finance_ledger/internal/domain"
	"finance_ledger/internal/ledger"
	"finance_ledger/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared", nonAlnum.ReplaceAllString(t.Name(), "_"))
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

// newTestRouter wires the full router on gdb; a nil l uses a real ledger
func newTestRouter(t *testing.T, gdb *gorm.DB, l TransactionLedger) *gin.Engine {
	t.Helper()
	if l == nil {
		l = ledger.New(gdb, nil)
	}
	return NewRouter(RouterConfig{
		DB:         gdb,
		Ledger:     l,
		Reconciler: ledger.NewReconciler(gdb),
		JWTSecret:  testSecret,
		JWTTTL:     time.Hour,
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedUser(t *testing.T, gdb *gorm.DB, name, balance string) *domain.User {
	t.Helper()
	hash, err := utils.HashPassword("secret123")
	require.NoError(t, err)
	user := domain.User{
		Username:       name,
		Email:          name + "@example.com",
		Password:       hash,
		Role:           domain.RoleUser,
		Balance:        dec(balance),
		InitialBalance: dec(balance),
	}
	require.NoError(t, gdb.Create(&user).Error)
	return &user
}

func bearer(t *testing.T, user *domain.User) string {
	t.Helper()
	tok, err := utils.GenerateJWT(user.ID, user.Email, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

// request performs method path with an optional JSON body and bearer token
func request(t *testing.T, r http.Handler, method, path string, body any, tok string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// validationBody is the shape of a 400 response
type validationBody struct {
	Error  string       `json:"error"`
	Errors []FieldError `json:"errors"`
}

func assertValidation(t *testing.T, w *httptest.ResponseRecorder, field string) {
	t.Helper()
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	body := decode[validationBody](t, w)
	assert.Equal(t, "Validation Failed.", body.Error)
	fields := make([]string, 0, len(body.Errors))
	for _, fe := range body.Errors {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, field)
}

func assertBalance(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "balance: want %s, got %s", want, got)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
