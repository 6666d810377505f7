// internal/chat/store.go
//
// Tenant-side chat data.
//
// Context
// -------
// A conversation has no table of its own.  Inbound messages arrive in
// `spottywa_risposte` through the provider webhook pipeline; outbound ones
// are the console’s own `LogInvioWhatsApp` rows.  Store reads both, maps
// rows into typed records at this boundary, and merges them in Go.
//
// Workflow
// --------
//   - Conversations: latest row per contact from each table (MAX(id) join),
//     fetched in parallel, merged so the newest message wins.
//   - Messages: every row for one contact from each table, fetched in
//     parallel, rows with an invalid timestamp dropped and logged, stray
//     dd/MM/yyyy lines stripped from content, sorted ascending.
//   - AppendOutbound: one INSERT per provider attempt.
//
// Notes
// -----
//   - Store never opens or closes the handle; the caller owns it.
//   - Parallel reads need a handle with at least two connections.
package chat

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/wachat/internal/provider"
	"github.com/yanizio/wachat/internal/window"
)

// SenderSelf labels outbound messages.
const SenderSelf = "Me"

var dateLine = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)

// Message is one transcript entry.
type Message struct {
	ID        string           `json:"id"`
	Direction window.Direction `json:"-"`
	Sender    string           `json:"sender"`
	Name      string           `json:"name,omitempty"`
	Content   string           `json:"content"`
	MediaURL  string           `json:"media_url,omitempty"`
	MIMEType  string           `json:"mime_type,omitempty"`
	Time      time.Time        `json:"time"`
	Status    string           `json:"status,omitempty"`
	IsSystem  bool             `json:"is_system"`
	Outgoing  bool             `json:"outgoing"`
}

// Conversation summarises one contact.
type Conversation struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LastMessage  string    `json:"last_message"`
	LastTime     time.Time `json:"last_time"`
	LastInbound  time.Time `json:"last_inbound,omitzero"`
	LastOutbound time.Time `json:"last_outbound,omitzero"`
}

// Events feeds a conversation’s latest activity to the window evaluator.
func (c Conversation) Events() []window.Event {
	var ev []window.Event
	if !c.LastInbound.IsZero() {
		ev = append(ev, window.Event{ID: c.ID, At: c.LastInbound, Direction: window.Inbound})
	}
	if !c.LastOutbound.IsZero() {
		ev = append(ev, window.Event{ID: c.ID, At: c.LastOutbound, Direction: window.Outbound})
	}
	return ev
}

// Events converts a transcript for the window evaluator.  Rows without a
// valid time were already dropped by Messages.
func Events(msgs []Message) []window.Event {
	ev := make([]window.Event, len(msgs))
	for i, m := range msgs {
		ev[i] = window.Event{ID: m.ID, At: m.Time, Direction: m.Direction}
	}
	return ev
}

// Store reads and writes one tenant’s chat tables.
type Store struct {
	DB  *sqlx.DB
	Log *zap.SugaredLogger
}

// NewStore wraps an open tenant handle.
func NewStore(db *sqlx.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.S()
	}
	return &Store{DB: db, Log: log}
}

//
// Conversations
//

type inboundHead struct {
	Mobile  string         `db:"mobile"`
	Name    sql.NullString `db:"name"`
	Message sql.NullString `db:"message"`
	At      sql.NullTime   `db:"created_at"`
}

type outboundHead struct {
	Phone   string         `db:"Telefono"`
	Message sql.NullString `db:"Messaggio"`
	At      sql.NullTime   `db:"Data"`
}

// Conversations lists every contact, newest activity first.
func (s *Store) Conversations(ctx context.Context) ([]Conversation, error) {
	var (
		in  []inboundHead
		out []outboundHead
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.DB.SelectContext(gctx, &in, `
            SELECT  r.mobile, r.name, r.message, r.created_at
            FROM    spottywa_risposte r
            JOIN    (SELECT mobile, MAX(id) AS id FROM spottywa_risposte GROUP BY mobile) last
                    ON last.id = r.id`)
	})
	g.Go(func() error {
		return s.DB.SelectContext(gctx, &out, `
            SELECT  l.Telefono, l.Messaggio, l.Data
            FROM    LogInvioWhatsApp l
            JOIN    (SELECT Telefono, MAX(Id) AS Id FROM LogInvioWhatsApp GROUP BY Telefono) last
                    ON last.Id = l.Id`)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]*Conversation, len(in)+len(out))
	for _, r := range in {
		if !r.At.Valid || r.At.Time.IsZero() {
			s.Log.Warnw("skipping inbound head with invalid timestamp", "mobile", r.Mobile)
			continue
		}
		c := &Conversation{
			ID:          r.Mobile,
			Name:        nonEmpty(r.Name.String, r.Mobile),
			LastMessage: stripDateLines(inboundText(r.Message.String)),
			LastTime:    r.At.Time,
			LastInbound: r.At.Time,
		}
		byID[r.Mobile] = c
	}
	for _, r := range out {
		if !r.At.Valid || r.At.Time.IsZero() {
			s.Log.Warnw("skipping outbound head with invalid timestamp", "mobile", r.Phone)
			continue
		}
		c, ok := byID[r.Phone]
		if !ok {
			c = &Conversation{ID: r.Phone, Name: r.Phone}
			byID[r.Phone] = c
		}
		c.LastOutbound = r.At.Time
		if r.At.Time.After(c.LastTime) {
			c.LastTime = r.At.Time
			c.LastMessage = stripDateLines(r.Message.String)
		}
	}

	list := make([]Conversation, 0, len(byID))
	for _, c := range byID {
		list = append(list, *c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastTime.Equal(list[j].LastTime) {
			return list[i].LastTime.After(list[j].LastTime)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

//
// Transcript
//

type inboundRow struct {
	ID       int64          `db:"id"`
	Sender   sql.NullString `db:"sender"`
	Name     sql.NullString `db:"name"`
	Message  sql.NullString `db:"message"`
	MediaURL sql.NullString `db:"media_url"`
	MIMEType sql.NullString `db:"mime_type"`
	At       sql.NullTime   `db:"created_at"`
}

type outboundRow struct {
	ID      int64          `db:"Id"`
	Message sql.NullString `db:"Messaggio"`
	At      sql.NullTime   `db:"Data"`
	Status  sql.NullString `db:"Status"`
}

// Messages returns mobile’s transcript in ascending time order.
func (s *Store) Messages(ctx context.Context, mobile string) ([]Message, error) {
	var (
		in  []inboundRow
		out []outboundRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.DB.SelectContext(gctx, &in, `
            SELECT  id, sender, name, message, media_url, mime_type, created_at
            FROM    spottywa_risposte
            WHERE   mobile = ?`, mobile)
	})
	g.Go(func() error {
		return s.DB.SelectContext(gctx, &out, `
            SELECT  Id, Messaggio, Data, Status
            FROM    LogInvioWhatsApp
            WHERE   Telefono = ?`, mobile)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(in)+len(out))
	for _, r := range in {
		id := strconv.FormatInt(r.ID, 10)
		if !r.At.Valid || r.At.Time.IsZero() {
			s.Log.Warnw("dropping inbound message with invalid timestamp", "id", id, "mobile", mobile)
			continue
		}
		msgs = append(msgs, Message{
			ID:        id,
			Direction: window.Inbound,
			Sender:    r.Sender.String,
			Name:      r.Name.String,
			Content:   stripDateLines(inboundText(r.Message.String)),
			MediaURL:  r.MediaURL.String,
			MIMEType:  r.MIMEType.String,
			Time:      r.At.Time,
			IsSystem:  r.Sender.String == "System",
		})
	}
	for _, r := range out {
		id := "out-" + strconv.FormatInt(r.ID, 10)
		if !r.At.Valid || r.At.Time.IsZero() {
			s.Log.Warnw("dropping outbound message with invalid timestamp", "id", id, "mobile", mobile)
			continue
		}
		msgs = append(msgs, Message{
			ID:        id,
			Direction: window.Outbound,
			Sender:    SenderSelf,
			Content:   stripDateLines(r.Message.String),
			Time:      r.At.Time,
			Status:    r.Status.String,
			Outgoing:  true,
		})
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Time.Before(msgs[j].Time) })
	return msgs, nil
}

//
// Outbound log
//

// AppendOutbound writes one LogInvioWhatsApp row.
func (s *Store) AppendOutbound(ctx context.Context, rec provider.AuditRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO LogInvioWhatsApp
                (Data, CodiceCliente, Telefono, Messaggio, MessageId, TipoInvio, NomeTemplate, Status)
        VALUES  (?, ?, ?, ?, ?, ?, ?, ?)`,
		at.UTC(), rec.Tenant, rec.To, rec.Text,
		nullable(rec.MessageID), string(rec.Type), nullable(rec.Template), rec.Status)
	return err
}

//
// helpers
//

// inboundText extracts the body from the webhook payload
// `[{"text":{"body":"…"}}]`, falling back to a media caption.  Rows
// stored as plain text are returned unchanged, including replies such as
// "1" or "true" that happen to parse as JSON scalars.
func inboundText(payload string) string {
	if !gjson.Valid(payload) {
		return payload
	}
	if doc := gjson.Parse(payload); !doc.IsArray() && !doc.IsObject() {
		return payload
	}
	for _, p := range []string{"0.text.body", "0.image.caption", "0.video.caption", "0.document.caption"} {
		if v := gjson.Get(payload, p); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func stripDateLines(s string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if dateLine.MatchString(strings.TrimSpace(l)) {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
