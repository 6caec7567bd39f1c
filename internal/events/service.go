package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/pi-cam-service/picamd/internal/bus"
	"github.com/pi-cam-service/picamd/internal/database"
)

// Service records and queries audit events.
type Service struct {
	db     *database.DB
	logger *slog.Logger
}

// NewService creates an event service backed by db.
func NewService(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: slog.Default().With("component", "events"),
	}
}

// subjectTypes maps bus subjects to audit event types.
var subjectTypes = map[string]Type{
	bus.SubjectCameraReconfigured: TypeReconfiguration,
	bus.SubjectCameraControl:      TypeControl,
	bus.SubjectStreamingState:     TypeStreaming,
	bus.SubjectConfigChanged:      TypeConfig,
}

// Attach subscribes the service to the audit subjects so every published
// event lands in the database.
func (s *Service) Attach(eb *bus.EventBus) error {
	for subject, typ := range subjectTypes {
		subject, typ := subject, typ
		_, err := eb.Subscribe(subject, func(msg *nats.Msg) {
			ev := &Event{Type: typ, Subject: subject, Payload: msg.Data}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Create(ctx, ev); err != nil {
				s.logger.Error("recording event failed", "subject", subject, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
	}
	return nil
}

// Create persists an event, filling in ID and timestamp when absent.
func (s *Service) Create(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if len(event.Payload) == 0 {
		event.Payload = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, type, subject, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, string(event.Type), event.Subject, string(event.Payload), event.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Get retrieves one event by ID.
func (s *Service) Get(ctx context.Context, id string) (*Event, error) {
	event := &Event{}
	var typ, payload string
	var createdAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, subject, payload, created_at FROM events WHERE id = ?
	`, id).Scan(&event.ID, &typ, &event.Subject, &payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	event.Type = Type(typ)
	event.Payload = json.RawMessage(payload)
	event.CreatedAt = time.Unix(createdAt, 0)
	return event, nil
}

// List retrieves events matching opts, newest first, with the total count
// before pagination.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Event, int, error) {
	query := `SELECT id, type, subject, payload, created_at FROM events WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM events WHERE 1=1`
	args := []any{}

	if opts.Type != "" {
		query += " AND type = ?"
		countQuery += " AND type = ?"
		args = append(args, string(opts.Type))
	}
	if !opts.StartTime.IsZero() {
		query += " AND created_at >= ?"
		countQuery += " AND created_at >= ?"
		args = append(args, opts.StartTime.Unix())
	}
	if !opts.EndTime.IsZero() {
		query += " AND created_at <= ?"
		countQuery += " AND created_at <= ?"
		args = append(args, opts.EndTime.Unix())
	}

	countArgs := make([]any, len(args))
	copy(countArgs, args)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY created_at DESC, id"

	limit := 50
	if opts.Limit > 0 && opts.Limit <= 1000 {
		limit = opts.Limit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		var typ, payload string
		var createdAt int64
		if err := rows.Scan(&event.ID, &typ, &event.Subject, &payload, &createdAt); err != nil {
			return nil, 0, err
		}
		event.Type = Type(typ)
		event.Payload = json.RawMessage(payload)
		event.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, event)
	}
	return events, total, rows.Err()
}

// Prune deletes events older than the retention window and returns how
// many were removed.
func (s *Service) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned events", "count", n)
	}
	return n, nil
}
