// internal/provider/credentials.go
//
// Per-tenant Kaleyra credentials.
//
// Context
// -------
// Each tenant stores its provider account in the registry’s settings table
// as key/value rows.  All required keys must be present and non-blank
// before any request leaves the process; a gap is a setup problem on the
// tenant side (ProviderConfigIncomplete), not a provider failure.
//
// Notes
// -----
//   - Missing keys are reported by name only.  Values never reach a log
//     line or an error string.
package provider

import (
	"context"
	"strings"

	"github.com/yanizio/wachat/internal/apperr"
)

// Settings keys in adm_Impostazioni.  The callback key keeps the
// registry’s historical spelling.
const (
	KeySID         = "wa_kaleyra_sid"
	KeyAPIKey      = "wa_kaleyra_apikey"
	KeyWABAID      = "wa_kaleyra_wabaid"
	KeyPhoneNumber = "wa_kaleyra_numero_telefono"
	KeyCallbackURL = "wa_kaleyra_url_calback"
)

// RequiredKeys lists every setting a tenant needs to send.
var RequiredKeys = []string{KeySID, KeyAPIKey, KeyWABAID, KeyPhoneNumber}

// SettingKeys is what the gateway reads.  The callback URL is optional;
// the deployment-wide provider.callback_url stands in when it is unset.
var SettingKeys = append(append([]string{}, RequiredKeys...), KeyCallbackURL)

// SettingsSource reads settings rows; *registry.Resolver satisfies it.
type SettingsSource interface {
	Settings(ctx context.Context, code string, keys []string) (map[string]string, error)
}

// Credentials is one tenant’s provider account.
type Credentials struct {
	SID         string
	APIKey      string
	WABAID      string
	From        string
	CallbackURL string
}

// String never prints the API key.
func (c Credentials) String() string {
	return "kaleyra{sid=" + c.SID + " from=" + c.From + " apikey=***}"
}

// CredentialsFrom validates settings for tenant.
func CredentialsFrom(tenant string, settings map[string]string) (Credentials, error) {
	var missing []string
	get := func(k string) string {
		v := strings.TrimSpace(settings[k])
		if v == "" {
			missing = append(missing, k)
		}
		return v
	}
	c := Credentials{
		SID:         get(KeySID),
		APIKey:      get(KeyAPIKey),
		WABAID:      get(KeyWABAID),
		From:        get(KeyPhoneNumber),
		CallbackURL: strings.TrimSpace(settings[KeyCallbackURL]),
	}
	if len(missing) > 0 {
		return Credentials{}, &apperr.Error{
			Kind:    apperr.ProviderConfigIncomplete,
			Op:      "provider.credentials",
			Tenant:  tenant,
			Missing: missing,
		}
	}
	return c, nil
}

// Missing reports which required keys settings lacks.
func Missing(settings map[string]string) []string {
	var out []string
	for _, k := range RequiredKeys {
		if strings.TrimSpace(settings[k]) == "" {
			out = append(out, k)
		}
	}
	return out
}
