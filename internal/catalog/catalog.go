// internal/catalog/catalog.go
//
// Approved WhatsApp templates for one tenant, grouped by language.
//
// A template row (`spottymkt_messaggi`) joins to one text per language
// (`spottymkt_messaggi_testo`).  A template with an image is a media
// template; its image is exposed as a public media URL with an inferred
// MIME type so the UI can preview it and send it as template_media.
//
// Tenants that never enabled marketing templates have no such tables;
// that reads as an empty catalog, not an error.
package catalog

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/wachat/internal/database"
	"github.com/yanizio/wachat/internal/media"
)

// UnknownLanguage groups texts with a NULL language.
const UnknownLanguage = "und"

// Template is one approved template in one language.
type Template struct {
	UUID            string    `json:"uuid"`
	Title           string    `json:"title"`
	Name            string    `json:"template_name"`
	Channel         string    `json:"channel,omitempty"`
	SenderName      string    `json:"sender_name,omitempty"`
	Image           string    `json:"image,omitempty"`
	Status          string    `json:"status"`
	Created         time.Time `json:"created,omitzero"`
	Modified        time.Time `json:"modified,omitzero"`
	Language        string    `json:"language"`
	Body            string    `json:"body"`
	Subject         string    `json:"subject,omitempty"`
	IsMediaTemplate bool      `json:"is_media_template"`
	MediaURL        string    `json:"media_url,omitempty"`
	MIMEType        string    `json:"mime_type,omitempty"`
}

type row struct {
	UUID       string         `db:"Uuid"`
	Title      sql.NullString `db:"Nome"`
	Name       string         `db:"NomeTemplate"`
	Channel    sql.NullString `db:"Canale"`
	SenderName sql.NullString `db:"NomeMittente"`
	Image      sql.NullString `db:"Immagine"`
	Status     string         `db:"Status"`
	Created    sql.NullTime   `db:"DataCreazione"`
	Modified   sql.NullTime   `db:"DataModifica"`
	Language   sql.NullString `db:"Lingua"`
	Body       sql.NullString `db:"CorpoMessaggio"`
	Subject    sql.NullString `db:"Oggetto"`
}

// Catalog reads templates through an open tenant handle.
type Catalog struct {
	DB    *sqlx.DB
	Media media.Host
}

// ByLanguage returns approved templates keyed by language code, each
// list ordered by template name.
func (c *Catalog) ByLanguage(ctx context.Context, tenantCode string) (map[string][]Template, error) {
	var rows []row
	err := c.DB.SelectContext(ctx, &rows, `
        SELECT  m.Uuid, m.Nome, m.NomeTemplate, m.Canale, m.NomeMittente, m.Immagine,
                m.Status, m.DataCreazione, m.DataModifica,
                t.Lingua, t.CorpoMessaggio, t.Oggetto
        FROM    spottymkt_messaggi m
        LEFT JOIN spottymkt_messaggi_testo t ON m.Uuid = t.UuidMessaggio
        WHERE   m.Status = 'Approved'
        ORDER BY m.NomeTemplate ASC`)
	if database.IsUnknownTable(err) {
		return map[string][]Template{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make(map[string][]Template)
	for _, r := range rows {
		lang := r.Language.String
		if lang == "" {
			lang = UnknownLanguage
		}
		t := Template{
			UUID:       r.UUID,
			Title:      r.Title.String,
			Name:       r.Name,
			Channel:    r.Channel.String,
			SenderName: r.SenderName.String,
			Image:      r.Image.String,
			Status:     r.Status,
			Created:    r.Created.Time,
			Modified:   r.Modified.Time,
			Language:   lang,
			Body:       r.Body.String,
			Subject:    r.Subject.String,
		}
		if r.Image.String != "" {
			t.IsMediaTemplate = true
			t.MediaURL = c.Media.ImageURL(tenantCode, r.Image.String)
			t.MIMEType = media.MIMEType(r.Image.String)
		}
		out[lang] = append(out[lang], t)
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return out, nil
}

// Find returns the template called name in lang, if any.
func Find(groups map[string][]Template, name, lang string) (Template, bool) {
	for _, t := range groups[lang] {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}
