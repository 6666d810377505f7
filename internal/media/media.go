// internal/media/media.go
//
// Public media URLs and MIME inference.
//
// Context
// -------
// Template images live on an external media host under a per-tenant
// folder named after the tenant code with its deployment prefix stripped:
//
//	https://media.example.app/wa/42/images/promo.jpg   (tenant "spotty42")
//
// This package only builds the URL string; it never serves bytes.
//
// MIME types come from the extension table below, falling back to
// application/octet-stream.  Uploads whose extension is unknown are
// sniffed from their first bytes with gabriel-vasile/mimetype.
package media

import (
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/yanizio/wachat/internal/tenant"
)

// Fallback is returned for unknown extensions.
const Fallback = "application/octet-stream"

var byExt = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"mp4":  "video/mp4",
	"pdf":  "application/pdf",
}

// Host builds public media URLs.
type Host struct {
	BaseURL string
	Codes   tenant.Codes
}

// ImageURL returns the public URL of file in code’s image folder, or ""
// when file is empty.
func (h Host) ImageURL(code, file string) string {
	file = strings.TrimSpace(file)
	if file == "" {
		return ""
	}
	u, err := url.JoinPath(h.BaseURL, h.Codes.Short(code), "images", path.Base(file))
	if err != nil {
		return ""
	}
	return u
}

// MIMEType infers a type from filename’s extension.
func MIMEType(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if t, ok := byExt[ext]; ok {
		return t
	}
	return Fallback
}

// Detect picks the MIME type for an upload: the declared header when it
// is specific, then the extension table, then content sniffing of r.
func Detect(declared, filename string, r io.Reader) string {
	if d := strings.TrimSpace(declared); d != "" && d != Fallback {
		return d
	}
	if t := MIMEType(filename); t != Fallback {
		return t
	}
	if r == nil {
		return Fallback
	}
	m, err := mimetype.DetectReader(r)
	if err != nil {
		return Fallback
	}
	return m.String()
}
