package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/appointment-scheduling-core/internal/appointment"
)

const reminderConstraint = "notifications_reminder_key"

var notificationColumns = []any{
	"id", "user_id", "user_type", "appointment_id", "type", "message", "status", "channels",
	"attempts", "retryable", "last_error", "created_at", "updated_at", "read_at",
}

const returningNotification = `
	RETURNING id, user_id, user_type, appointment_id, type, message, status, channels,
	          attempts, retryable, last_error, created_at, updated_at, read_at`

type PgRepository struct {
	pool    appointment.PgxPool
	dialect goqu.DialectWrapper
}

func NewPgRepository(pool appointment.PgxPool) *PgRepository {
	return &PgRepository{pool: pool, dialect: goqu.Dialect("postgres")}
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var (
		n        Notification
		channels []byte
	)
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.UserType,
		&n.AppointmentID,
		&n.Type,
		&n.Message,
		&n.Status,
		&channels,
		&n.Attempts,
		&n.Retryable,
		&n.LastError,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.ReadAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	n.Channels = newChannels()
	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &n.Channels); err != nil {
			return nil, fmt.Errorf("decode channels: %w", err)
		}
	}
	return &n, nil
}

func (r *PgRepository) CreateNotification(ctx context.Context, n *Notification) (*Notification, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return nil, fmt.Errorf("encode channels: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, user_type, appointment_id, type, message, status, channels,
		                           attempts, retryable, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`+returningNotification,
		n.ID, n.UserID, n.UserType, n.AppointmentID, n.Type, n.Message, n.Status, channels,
		n.Attempts, n.Retryable, n.LastError, n.CreatedAt, n.UpdatedAt)

	created, err := scanNotification(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == reminderConstraint {
			return nil, ErrDuplicateReminder
		}
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return created, nil
}

func (r *PgRepository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query, args, err := r.dialect.From("notifications").
		Select(notificationColumns...).
		Where(goqu.C("id").Eq(id)).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build notification query: %w", err)
	}
	return scanNotification(r.pool.QueryRow(ctx, query, args...))
}

func (r *PgRepository) SaveDelivery(ctx context.Context, n *Notification) error {
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = $2,
		    channels = $3,
		    attempts = $4,
		    retryable = $5,
		    last_error = $6,
		    updated_at = $7
		WHERE id = $1
		  AND status <> 'read'
	`, n.ID, n.Status, channels, n.Attempts, n.Retryable, n.LastError, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PgRepository) ListForUser(ctx context.Context, userID string, userType UserType, unreadOnly bool) ([]Notification, error) {
	ds := r.dialect.From("notifications").
		Select(notificationColumns...).
		Where(goqu.C("user_id").Eq(userID), goqu.C("user_type").Eq(string(userType))).
		Order(goqu.C("created_at").Desc())
	if unreadOnly {
		ds = ds.Where(goqu.C("status").Neq(string(StatusRead)))
	}
	return r.list(ctx, ds)
}

func (r *PgRepository) ListRetryCandidates(ctx context.Context, q RetryQuery) ([]Notification, error) {
	ds := r.dialect.From("notifications").
		Select(notificationColumns...).
		Where(
			goqu.C("status").In(string(StatusPending), string(StatusFailed)),
			goqu.C("retryable").IsTrue(),
			goqu.C("attempts").Lt(q.MaxAttempts),
			goqu.C("created_at").Gte(q.CreatedAfter),
			goqu.C("updated_at").Lte(q.UpdatedBefore),
		).
		Order(goqu.C("created_at").Asc())
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	return r.list(ctx, ds)
}

func (r *PgRepository) list(ctx context.Context, ds *goqu.SelectDataset) ([]Notification, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build notification query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'read', read_at = $2, updated_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (r *PgRepository) MarkAllRead(ctx context.Context, userID string, userType UserType, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'read', read_at = $3, updated_at = $3
		WHERE user_id = $1
		  AND user_type = $2
		  AND status <> 'read'
	`, userID, userType, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ReminderExists(ctx context.Context, appointmentID uuid.UUID, userType UserType) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE appointment_id = $1 AND type = $2 AND user_type = $3
		)
	`, appointmentID, TypeAppointmentReminder, userType).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check reminder: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) ExpireStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed',
		    retryable = FALSE,
		    last_error = 'expired before delivery',
		    updated_at = now()
		WHERE status IN ('pending', 'failed')
		  AND retryable
		  AND created_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("expire stale notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) GetPreference(ctx context.Context, userID string) (*Preference, error) {
	var p Preference
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, role, email, sms, voice, push, voice_type, language,
		       dnd_enabled, dnd_from, dnd_to, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`, userID).Scan(
		&p.UserID, &p.Role, &p.Email, &p.SMS, &p.Voice, &p.Push, &p.VoiceType, &p.Language,
		&p.DoNotDisturb.Enabled, &p.DoNotDisturb.From, &p.DoNotDisturb.To, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &p, nil
}

func (r *PgRepository) UpsertPreference(ctx context.Context, p *Preference) (*Preference, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_preferences (user_id, role, email, sms, voice, push, voice_type, language,
		                                      dnd_enabled, dnd_from, dnd_to, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE
		SET role = EXCLUDED.role,
		    email = EXCLUDED.email,
		    sms = EXCLUDED.sms,
		    voice = EXCLUDED.voice,
		    push = EXCLUDED.push,
		    voice_type = EXCLUDED.voice_type,
		    language = EXCLUDED.language,
		    dnd_enabled = EXCLUDED.dnd_enabled,
		    dnd_from = EXCLUDED.dnd_from,
		    dnd_to = EXCLUDED.dnd_to,
		    updated_at = EXCLUDED.updated_at
	`, p.UserID, p.Role, p.Email, p.SMS, p.Voice, p.Push, p.VoiceType, p.Language,
		p.DoNotDisturb.Enabled, p.DoNotDisturb.From, p.DoNotDisturb.To, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert preference: %w", err)
	}
	out := *p
	return &out, nil
}
