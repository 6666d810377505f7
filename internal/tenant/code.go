// internal/tenant/code.go
//
// Tenant-code helpers.
//
// Context
// -------
// Tenant codes reach the API in three shapes:
//
//   • full code        – "spotty42"
//   • bare number      – "42"  (the group switcher links by number)
//   • opaque token     – base64 of the full code, used in shared links
//
// `Codes` normalises all three into the canonical full code before any
// registry I/O happens, and derives the short form used in media paths.
//
// Notes
// -----
// • Validation failures are apperr.InvalidRequest; no I/O is attempted.
// • No logging here; caller decides what to log.

package tenant

import (
	"encoding/base64"
	"strings"
	"unicode"

	"github.com/yanizio/wachat/internal/apperr"
)

// maxCodeLen bounds codes well above anything the registry stores.
const maxCodeLen = 64

// Codes knows the deployment’s tenant-code prefix.
type Codes struct {
	Prefix string // e.g. "spotty"
}

// Normalize validates raw and returns the canonical tenant code.
func (c Codes) Normalize(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return "", apperr.New(apperr.InvalidRequest, "tenant.normalize", "tenant_code is required")
	}
	if len(code) > maxCodeLen || strings.IndexFunc(code, invalidCodeRune) >= 0 {
		return "", apperr.New(apperr.InvalidRequest, "tenant.normalize", "tenant_code is malformed")
	}
	if c.Prefix != "" && isDigits(code) {
		code = c.Prefix + code
	}
	return code, nil
}

// Decode turns an opaque base64 token into a canonical code.
func (c Codes) Decode(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperr.New(apperr.InvalidRequest, "tenant.decode", "tenant_token is required")
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	}
	if err != nil {
		return "", apperr.New(apperr.InvalidRequest, "tenant.decode", "tenant_token is not valid")
	}
	return c.Normalize(string(raw))
}

// Encode is the inverse of Decode, used by the CLI to mint share links.
func (c Codes) Encode(code string) string {
	return base64.StdEncoding.EncodeToString([]byte(code))
}

// Short strips the prefix: "spotty42" → "42".
func (c Codes) Short(code string) string {
	if c.Prefix == "" {
		return code
	}
	return strings.TrimPrefix(code, c.Prefix)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func invalidCodeRune(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
}
