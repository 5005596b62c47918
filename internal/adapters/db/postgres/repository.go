package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"message-relay/internal/domain"
)

// forwardedMessage is the row stored for every message the sink accepts.
type forwardedMessage struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Destination string    `gorm:"index:idx_destination_received,priority:1;not null;default:''"`
	Sender      string    `gorm:"not null"`
	Body        string    `gorm:"type:text;not null"`
	ReceivedAt  time.Time `gorm:"index:idx_destination_received,priority:2;not null"`
}

func (forwardedMessage) TableName() string { return "forwarded_messages" }

func toRow(m domain.ForwardedMessage) forwardedMessage {
	return forwardedMessage{
		ID:          m.ID,
		Destination: m.Destination,
		Sender:      m.Sender,
		Body:        m.Body,
		ReceivedAt:  m.ReceivedAt,
	}
}

func (r forwardedMessage) toDomain() domain.ForwardedMessage {
	return domain.ForwardedMessage{
		ID:          r.ID,
		Destination: r.Destination,
		Sender:      r.Sender,
		Body:        r.Body,
		ReceivedAt:  r.ReceivedAt,
	}
}

// Repository implements ports.MessageRepository using PostgreSQL.
type Repository struct {
	db *gorm.DB
}

// New opens a PostgreSQL connection and returns a Repository.
func New(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Repository{db: db}, nil
}

// NewWithDB wraps an already opened gorm handle.
func NewWithDB(db *gorm.DB) *Repository { return &Repository{db: db} }

// Migrate creates or updates the forwarded_messages table.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&forwardedMessage{}); err != nil {
		return fmt.Errorf("migrate forwarded_messages: %w", err)
	}
	return nil
}

// Close closes the underlying database connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveMessage inserts one forwarded message.
func (r *Repository) SaveMessage(ctx context.Context, m domain.ForwardedMessage) error {
	row := toRow(m)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert forwarded message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages for destination, newest first.
func (r *Repository) ListMessages(ctx context.Context, destination string, limit int) ([]domain.ForwardedMessage, error) {
	var rows []forwardedMessage
	err := r.db.WithContext(ctx).
		Where("destination = ?", destination).
		Order("received_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query forwarded messages: %w", err)
	}

	out := make([]domain.ForwardedMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}
