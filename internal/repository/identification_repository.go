package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zelara-ai/zelara-plant/internal/kindwise"
)

// Status is the lifecycle state of an identification record.
type Status string

const (
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusError      Status = "Error"
)

var (
	// ErrNotFound indicates the record id is unknown to the store.
	ErrNotFound = errors.New("identification record not found")

	// ErrAlreadyTerminal indicates a terminal transition was attempted on a
	// record that already left Processing. Transitions are one-way and
	// single-writer; hitting this means the workflow ran twice for one id.
	ErrAlreadyTerminal = errors.New("identification record is already terminal")
)

// IdentificationRecord is the persisted state of one identification request.
// Exactly one of Result and ErrorMessage is set once the record is terminal.
type IdentificationRecord struct {
	ID           string           `gorm:"primaryKey;column:id;size:64" json:"_id"`
	Status       Status           `gorm:"column:status;size:16;index" json:"status"`
	Result       *kindwise.Result `gorm:"column:result;serializer:json" json:"result,omitempty"`
	ErrorMessage string           `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time        `gorm:"column:created_at" json:"-"`
	UpdatedAt    time.Time        `gorm:"column:updated_at" json:"-"`
}

// TableName overrides the default table name.
func (IdentificationRecord) TableName() string {
	return "identifications"
}

// IdentificationRepository provides persistence APIs for identification
// records.
type IdentificationRepository struct {
	db *gorm.DB
}

// NewIdentificationRepository creates a new repository instance.
func NewIdentificationRepository(db *gorm.DB) *IdentificationRepository {
	return &IdentificationRepository{db: db}
}

// AutoMigrate ensures the schema is available.
func (r *IdentificationRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&IdentificationRecord{})
}

// Create allocates a new record in the Processing state and returns its id.
func (r *IdentificationRepository) Create(ctx context.Context) (string, error) {
	record := &IdentificationRecord{
		ID:     uuid.NewString(),
		Status: StatusProcessing,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", err
	}
	return record.ID, nil
}

// Complete transitions a Processing record to Completed with the given
// result.
func (r *IdentificationRepository) Complete(ctx context.Context, id string, result *kindwise.Result) error {
	return r.transition(ctx, id, IdentificationRecord{
		Status: StatusCompleted,
		Result: result,
	}, "status", "result")
}

// Fail transitions a Processing record to Error with the given message.
func (r *IdentificationRepository) Fail(ctx context.Context, id, message string) error {
	return r.transition(ctx, id, IdentificationRecord{
		Status:       StatusError,
		ErrorMessage: message,
	}, "status", "error_message")
}

// transition performs the guarded Processing -> terminal update. The status
// filter makes the transition a conditional write: a record that already
// reached a terminal state is never overwritten, it surfaces
// ErrAlreadyTerminal instead.
func (r *IdentificationRepository) transition(ctx context.Context, id string, updates IdentificationRecord, columns ...string) error {
	tx := r.db.WithContext(ctx).
		Model(&IdentificationRecord{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Select(columns).
		Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrAlreadyTerminal
}

// Get retrieves a record by id, or ErrNotFound when the id is unknown.
func (r *IdentificationRepository) Get(ctx context.Context, id string) (*IdentificationRecord, error) {
	var record IdentificationRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// List retrieves all records, newest first.
func (r *IdentificationRepository) List(ctx context.Context) ([]IdentificationRecord, error) {
	var records []IdentificationRecord
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
