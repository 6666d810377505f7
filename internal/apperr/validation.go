package apperr

import (
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FromValidation turns a validator error into InvalidRequest naming the
// offending fields.  Any other error is wrapped as InvalidRequest as-is.
func FromValidation(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return &Error{Kind: InvalidRequest, Op: op, Msg: "request is not valid", Err: err}
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fe.Field())
	}
	sort.Strings(fields)
	return &Error{
		Kind: InvalidRequest,
		Op:   op,
		Msg:  "missing or malformed: " + strings.Join(fields, ", "),
		Err:  err,
	}
}
