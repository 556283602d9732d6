package api

import (
	"encoding/json" // JSON decode errors
	"errors"        // Error inspection
	"fmt"           // Message formatting
	"io"            // Empty body detection
	"net/http"      // HTTP status codes
	"reflect"       // Struct tags for field names
	"strings"       // String manipulation

	"finance_ledger/internal/ledger"     // Ledger error taxonomy
	"finance_ledger/internal/middleware" // Request id key

	"github.com/gin-gonic/gin"               // Gin web framework
	"github.com/gin-gonic/gin/binding"       // Gin validator engine
	"github.com/go-playground/validator/v10" // Validation errors
	"github.com/sirupsen/logrus"             // Logging library
)

// FieldError is one entry of a validation failure response
type FieldError struct {
	Field   string `json:"field"`   // JSON name of the offending field
	Message string `json:"message"` // Human readable reason
}

func init() {
	// Report JSON field names instead of Go struct field names
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})
	}
}

// respondValidation writes a 400 with a field indexed error list
func respondValidation(c *gin.Context, errs ...FieldError) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Validation Failed.", "errors": errs})
}

// bindErrors converts a binding error into field errors
func bindErrors(err error) []FieldError {
	var (
		vErrs     validator.ValidationErrors
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
	)
	switch {
	case errors.As(err, &vErrs):
		out := make([]FieldError, 0, len(vErrs))
		for _, fe := range vErrs {
			out = append(out, FieldError{Field: fe.Field(), Message: validationMessage(fe)})
		}
		return out
	case errors.As(err, &typeErr):
		return []FieldError{{Field: typeErr.Field, Message: "must be a " + typeErr.Type.String()}}
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return []FieldError{{Field: "body", Message: "must be a valid JSON object"}}
	default:
		return []FieldError{{Field: "body", Message: err.Error()}}
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

// respondError maps ledger and store errors to HTTP responses
func respondError(c *gin.Context, err error, action string) {
	var (
		vErr *ledger.ValidationError
		aErr *ledger.AtomicityError
	)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMessage(err)})
	case errors.As(err, &vErr):
		respondValidation(c, FieldError{Field: vErr.Field, Message: vErr.Message})
	default:
		fields := logrus.Fields{"error": err.Error(), "request_id": c.GetString(middleware.ContextRequestID)}
		if errors.As(err, &aErr) {
			fields["op"] = aErr.Op
		}
		logrus.WithFields(fields).Error(action + " failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, ledger.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return "Transaction not found"
	case errors.Is(err, ledger.ErrCategoryNotFound):
		return "Category not found"
	default:
		return "Not found"
	}
}
