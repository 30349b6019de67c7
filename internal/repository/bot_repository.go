package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"botdash/internal/models"
)

// Ошибки репозитория ботов
var (
	ErrBotNotFound = errors.New("bot not found")
	ErrBotExists   = errors.New("bot with this strategy already exists")
)

// pqUniqueViolation - SQLSTATE нарушения UNIQUE constraint
const pqUniqueViolation = "23505"

// BotRepository - работа с таблицей bot_configurations
//
// Помимо CRUD реализует liveness.ConfigStore: last_known_status и
// exchange_binding - подсказки для движка сверки, а не live-статус.
type BotRepository struct {
	db *sql.DB
}

// NewBotRepository создает новый экземпляр репозитория
func NewBotRepository(db *sql.DB) *BotRepository {
	return &BotRepository{db: db}
}

const botColumns = `id, user_id, name, strategy_slug, strategy, exchange, exchange_binding,
		last_known_status, config, exchange_secret, created_at, updated_at`

// Create сохраняет новую конфигурацию бота
func (r *BotRepository) Create(bot *models.BotConfig) error {
	query := `
		INSERT INTO bot_configurations (id, user_id, name, strategy_slug, strategy, exchange, config, exchange_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	now := time.Now()
	bot.CreatedAt = now
	bot.UpdatedAt = now

	_, err := r.db.Exec(
		query,
		bot.ID,
		bot.UserID,
		bot.Name,
		bot.StrategySlug,
		bot.Strategy,
		bot.Exchange,
		nullableJSON(bot.Config),
		bot.ExchangeSecret,
		bot.CreatedAt,
		bot.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrBotExists
		}
		return err
	}

	return nil
}

// GetByID возвращает конфигурацию бота по ID
func (r *BotRepository) GetByID(id string) (*models.BotConfig, error) {
	query := `SELECT ` + botColumns + ` FROM bot_configurations WHERE id = $1`

	bot, err := scanBot(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}

	return bot, nil
}

// GetByUser возвращает всех ботов пользователя
func (r *BotRepository) GetByUser(userID string) ([]*models.BotConfig, error) {
	query := `SELECT ` + botColumns + ` FROM bot_configurations WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*models.BotConfig
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		bots = append(bots, bot)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return bots, nil
}

// Update обновляет редактируемые поля бота
//
// exchange_binding и last_known_status здесь не трогаются: их пишет
// только движок сверки через UpdateLastKnown.
func (r *BotRepository) Update(bot *models.BotConfig) error {
	query := `
		UPDATE bot_configurations
		SET name = $1, strategy_slug = $2, exchange = $3, config = $4, exchange_secret = $5, updated_at = $6
		WHERE id = $7`

	bot.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		query,
		bot.Name,
		bot.StrategySlug,
		bot.Exchange,
		nullableJSON(bot.Config),
		bot.ExchangeSecret,
		bot.UpdatedAt,
		bot.ID,
	)
	if err != nil {
		return err
	}

	return expectAffected(result, ErrBotNotFound)
}

// Delete удаляет конфигурацию бота
func (r *BotRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM bot_configurations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrBotNotFound)
}

// CountByUser возвращает количество ботов пользователя
func (r *BotRepository) CountByUser(userID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM bot_configurations WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetLastKnown возвращает сохраненные привязку к домену и статус
//
// Отсутствие записи - не ошибка: возвращается пустой LastKnown.
func (r *BotRepository) GetLastKnown(ctx context.Context, botID string) (models.LastKnown, error) {
	query := `SELECT exchange_binding, last_known_status FROM bot_configurations WHERE id = $1`

	var binding, status sql.NullString
	err := r.db.QueryRowContext(ctx, query, botID).Scan(&binding, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.LastKnown{}, nil
		}
		return models.LastKnown{}, err
	}

	return models.LastKnown{
		ExchangeBinding: binding.String,
		Status:          models.LiveStatus(status.String),
	}, nil
}

// UpdateLastKnown сохраняет привязку к домену и последний статус
//
// Пустая привязка не затирает ранее сохраненную.
func (r *BotRepository) UpdateLastKnown(ctx context.Context, botID string, lk models.LastKnown) error {
	query := `
		UPDATE bot_configurations
		SET exchange_binding = COALESCE(NULLIF($1, ''), exchange_binding),
		    last_known_status = $2,
		    updated_at = $3
		WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, lk.ExchangeBinding, string(lk.Status), time.Now(), botID)
	if err != nil {
		return err
	}
	return expectAffected(result, ErrBotNotFound)
}

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBot(row rowScanner) (*models.BotConfig, error) {
	bot := &models.BotConfig{}
	var binding, status sql.NullString
	var config []byte

	err := row.Scan(
		&bot.ID,
		&bot.UserID,
		&bot.Name,
		&bot.StrategySlug,
		&bot.Strategy,
		&bot.Exchange,
		&binding,
		&status,
		&config,
		&bot.ExchangeSecret,
		&bot.CreatedAt,
		&bot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	bot.ExchangeBinding = binding.String
	bot.LastKnownStatus = status.String
	if len(config) > 0 {
		bot.Config = config
	}

	return bot, nil
}

// nullableJSON превращает пустую конфигурацию в NULL
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// expectAffected возвращает notFound, если запрос не затронул строк
func expectAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
