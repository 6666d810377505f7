package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/wachat/internal/media"
	"github.com/yanizio/wachat/internal/tenant"
)

var cols = []string{
	"Uuid", "Nome", "NomeTemplate", "Canale", "NomeMittente", "Immagine",
	"Status", "DataCreazione", "DataModifica", "Lingua", "CorpoMessaggio", "Oggetto",
}

func newCatalog(t *testing.T) (*Catalog, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &Catalog{
		DB:    sqlx.NewDb(db, "mysql"),
		Media: media.Host{BaseURL: "https://media.example.app/wa", Codes: tenant.Codes{Prefix: "spotty"}},
	}, mock
}

func TestByLanguageGroupsAndFlagsMedia(t *testing.T) {
	c, mock := newCatalog(t)
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM spottymkt_messaggi m LEFT JOIN spottymkt_messaggi_testo t").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("u1", "Promo", "autumn_promo", "whatsapp", "Hotel", "promo.png", "Approved", now, now, "it", "Ciao {{1}}", nil).
			AddRow("u1", "Promo", "autumn_promo", "whatsapp", "Hotel", "promo.png", "Approved", now, now, "en", "Hi {{1}}", nil).
			AddRow("u2", "Welcome", "welcome", "whatsapp", "Hotel", nil, "Approved", now, nil, "it", "Benvenuto", "Oggetto").
			AddRow("u3", "Draft", "no_text", "whatsapp", nil, "", "Approved", nil, nil, nil, nil, nil))

	groups, err := c.ByLanguage(context.Background(), "spotty42")
	require.NoError(t, err)
	require.Len(t, groups["it"], 2)
	require.Len(t, groups["en"], 1)
	require.Len(t, groups[UnknownLanguage], 1)

	promo := groups["it"][0]
	assert.Equal(t, "autumn_promo", promo.Name)
	assert.True(t, promo.IsMediaTemplate)
	assert.Equal(t, "https://media.example.app/wa/42/images/promo.png", promo.MediaURL)
	assert.Equal(t, "image/png", promo.MIMEType)

	welcome, ok := Find(groups, "welcome", "it")
	require.True(t, ok)
	assert.False(t, welcome.IsMediaTemplate)
	assert.Empty(t, welcome.MediaURL)
	assert.Equal(t, "Oggetto", welcome.Subject)

	_, ok = Find(groups, "welcome", "en")
	assert.False(t, ok)
}

func TestMissingTablesReadAsEmpty(t *testing.T) {
	c, mock := newCatalog(t)
	mock.ExpectQuery("FROM spottymkt_messaggi").
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 't42.spottymkt_messaggi' doesn't exist"})

	groups, err := c.ByLanguage(context.Background(), "spotty42")
	require.NoError(t, err)
	assert.Empty(t, groups)
}
