// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `internal/config/loader.go` calls `validateStruct` immediately after it
// unmarshals the merged Koanf tree into a `Config` instance.  Any tag
// mismatch or validation error aborts startup, so the binary never runs
// with partial, malformed, or missing configuration.
//
// Besides the built-in rules we enforce one cross-field constraint: a
// non-zero send rate needs a positive burst, otherwise the limiter would
// refuse every request.

package config

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = validator.New()

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.HTTP.SendRate > 0 && c.HTTP.SendBurst == 0 {
		return errors.New("http.send_burst must be positive when http.send_rate is set")
	}
	return nil
}
