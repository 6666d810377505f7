// internal/config/secrets.go
//
// `vault:` reference resolution.
//
// Context
// -------
// Secrets never live in YAML.  Operators write a reference instead:
//
//	registry:
//	  password: "vault:secret/wachat/registry#password"
//
// ResolveSecrets walks the handful of secret-bearing fields and replaces
// each reference with the value fetched through a SecretGetter (the
// concrete *vault.Client in production, a map in tests).
//
// Notes
// -----
// • Format is `vault:<mount>/<path>#<key>`; a missing `#key` is an error.
// • Plain values pass through untouched, so dev setups can skip Vault.

package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// VaultPrefix marks a value that must be fetched from Vault.
const VaultPrefix = "vault:"

// SecretGetter is satisfied by *vault.Client.
type SecretGetter interface {
	GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error)
}

// ResolveSecrets replaces vault references in cfg in place.
func ResolveSecrets(ctx context.Context, cfg *Config, sg SecretGetter) error {
	fields := []*string{
		&cfg.Registry.Password,
	}
	for _, f := range fields {
		if !strings.HasPrefix(*f, VaultPrefix) {
			continue
		}
		path, key, err := parseRef(*f)
		if err != nil {
			return err
		}
		val, err := sg.GetKV(ctx, path, key, cfg.Vault.CacheTTL)
		if err != nil {
			return fmt.Errorf("resolve %s#%s: %w", path, key, err)
		}
		*f = val
	}
	return nil
}

// HasVaultRefs reports whether any secret field still holds a reference.
func HasVaultRefs(cfg *Config) bool {
	return strings.HasPrefix(cfg.Registry.Password, VaultPrefix)
}

func parseRef(ref string) (path, key string, err error) {
	body := strings.TrimPrefix(ref, VaultPrefix)
	i := strings.LastIndexByte(body, '#')
	if i <= 0 || i == len(body)-1 {
		return "", "", fmt.Errorf("malformed vault reference %q (want vault:<path>#<key>)", ref)
	}
	return body[:i], body[i+1:], nil
}
