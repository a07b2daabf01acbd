package archive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"crowdsale/core/events"
	"crowdsale/core/types"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Record is one archived event. Sequence numbers follow commit order.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence   uint64    `gorm:"uniqueIndex;not null" json:"sequence"`
	Type       string    `gorm:"size:64;index" json:"type"`
	Attributes string    `gorm:"type:text" json:"-"`
	Digest     string    `gorm:"size:64" json:"digest"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "sale_events" }

// Event decodes the archived payload.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Verify reports whether the stored digest matches the payload.
func (r Record) Verify() bool {
	return r.Digest == digest(r.Sequence, r.Type, r.Attributes)
}

// Query filters List results.
type Query struct {
	Type  string
	After uint64
	Limit int
}

// Open connects to the archive database. The sqlite driver accepts a file
// path or a file: URI.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", driver, err)
	}
	return db, nil
}

// Archive persists committed events. It implements events.Emitter so it can
// sit in the publish fan-out.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	next uint64
}

// New migrates the schema and resumes numbering after the last archived event.
func New(db *gorm.DB, logger *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, errors.New("archive: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	var last Record
	err := db.Order("sequence desc").Limit(1).Take(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, fmt.Errorf("archive: load cursor: %w", err)
	}
	return &Archive{db: db, logger: logger, now: time.Now, next: last.Sequence + 1}, nil
}

// Emit implements events.Emitter. Storage failures are logged; the event has
// already been committed and cannot be rejected.
func (a *Archive) Emit(evt events.Event) {
	if a == nil || evt == nil {
		return
	}
	payload, ok := events.Unwrap(evt)
	if !ok {
		return
	}
	if _, err := a.Append(context.Background(), payload); err != nil {
		a.logger.Error("archive event", slog.String("type", payload.Type), slog.Any("error", err))
	}
}

// Append stores evt and returns the archived record.
func (a *Archive) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if evt == nil {
		return nil, errors.New("archive: nil event")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("archive: encode attributes: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	record := &Record{
		ID:         uuid.New(),
		Sequence:   a.next,
		Type:       evt.Type,
		Attributes: string(encoded),
		CreatedAt:  a.now().UTC(),
	}
	record.Digest = digest(record.Sequence, record.Type, record.Attributes)
	if err := a.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("archive: insert: %w", err)
	}
	a.next++
	return record, nil
}

// List returns archived events in sequence order.
func (a *Archive) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	tx := a.db.WithContext(ctx).Where("sequence > ?", q.After)
	if eventType := strings.TrimSpace(q.Type); eventType != "" {
		tx = tx.Where("type = ?", eventType)
	}
	var records []Record
	if err := tx.Order("sequence asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return records, nil
}

// digest binds the payload to its position in the archive.
func digest(sequence uint64, eventType, attributes string) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%d\x00%s\x00", sequence, eventType)
	h.Write([]byte(attributes))
	return hex.EncodeToString(h.Sum(nil))
}
