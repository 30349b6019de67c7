package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"botdash/internal/models"
)

// ErrNotificationNotFound - уведомление не найдено
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository - работа с таблицей notifications
//
// Журнал событий ботов: warning от бота, неудачные start/stop,
// переходы в failed/error, результаты деплоя.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `id, timestamp, type, severity, bot_id, message, meta`

// Create сохраняет уведомление
func (r *NotificationRepository) Create(notif *models.Notification) error {
	query := `
		INSERT INTO notifications (timestamp, type, severity, bot_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}

	var meta []byte
	if len(notif.Meta) > 0 {
		var err error
		meta, err = json.Marshal(notif.Meta)
		if err != nil {
			return err
		}
	}

	return r.db.QueryRow(
		query,
		notif.Timestamp,
		notif.Type,
		notif.Severity,
		notif.BotID,
		notif.Message,
		meta,
	).Scan(&notif.ID)
}

// GetByID возвращает уведомление по ID
func (r *NotificationRepository) GetByID(id int) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	notif, err := scanNotification(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return notif, nil
}

// GetRecent возвращает последние limit уведомлений
func (r *NotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications ORDER BY timestamp DESC LIMIT $1`
	return r.queryNotifications(query, limit)
}

// GetByTypes возвращает уведомления указанных типов
func (r *NotificationRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	if len(types) == 0 {
		return r.GetRecent(limit)
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE type = ANY($1) ORDER BY timestamp DESC LIMIT $2`
	return r.queryNotifications(query, pq.Array(types), limit)
}

// GetByBotID возвращает уведомления одного бота
func (r *NotificationRepository) GetByBotID(botID string, limit int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE bot_id = $1 ORDER BY timestamp DESC LIMIT $2`
	return r.queryNotifications(query, botID, limit)
}

// DeleteAll очищает журнал уведомлений
func (r *NotificationRepository) DeleteAll() error {
	_, err := r.db.Exec(`DELETE FROM notifications`)
	return err
}

// DeleteByBotID удаляет уведомления бота (при удалении конфигурации)
func (r *NotificationRepository) DeleteByBotID(botID string) error {
	_, err := r.db.Exec(`DELETE FROM notifications WHERE bot_id = $1`, botID)
	return err
}

// DeleteOlderThan удаляет уведомления старше before
func (r *NotificationRepository) DeleteOlderThan(before time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM notifications WHERE timestamp < $1`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// KeepRecent оставляет только последние keep уведомлений
func (r *NotificationRepository) KeepRecent(keep int) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE id NOT IN (SELECT id FROM notifications ORDER BY timestamp DESC LIMIT $1)`

	result, err := r.db.Exec(query, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count возвращает общее количество уведомлений
func (r *NotificationRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM notifications`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *NotificationRepository) queryNotifications(query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, notif)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	notif := &models.Notification{}
	var botID sql.NullString
	var meta []byte

	err := row.Scan(
		&notif.ID,
		&notif.Timestamp,
		&notif.Type,
		&notif.Severity,
		&botID,
		&notif.Message,
		&meta,
	)
	if err != nil {
		return nil, err
	}

	if botID.Valid {
		id := botID.String
		notif.BotID = &id
	}
	if len(meta) > 0 {
		// поврежденный meta не мешает показать само уведомление
		_ = json.Unmarshal(meta, &notif.Meta)
	}

	return notif, nil
}
