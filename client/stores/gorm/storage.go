//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SessionValueModel is the GORM model for one stored session value
type SessionValueModel struct {
	Namespace string    `gorm:"primaryKey;size:128"`
	Key       string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SessionValueModel) TableName() string {
	return "session_values"
}

// AutoMigrate creates or updates the session_values table
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&SessionValueModel{})
}

// Storage implements client.Storage using GORM. Rows are scoped by namespace
// so several front ends can share a table.
type Storage struct {
	db        *gorm.DB
	namespace string
}

// New migrates the table and returns a Storage for namespace
func New(db *gorm.DB, namespace string) (*Storage, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate session_values: %w", err)
	}
	return NewStorage(db, namespace), nil
}

// NewStorage returns a Storage without migrating
func NewStorage(db *gorm.DB, namespace string) *Storage {
	if namespace == "" {
		namespace = "default"
	}
	return &Storage{db: db, namespace: namespace}
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	var model SessionValueModel
	err := s.db.WithContext(ctx).
		Where(map[string]any{"namespace": s.namespace, "key": key}).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.Value, true, nil
}

// SetMany upserts every value in one transaction
func (s *Storage) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	models := make([]SessionValueModel, 0, len(values))
	for k, v := range values {
		models = append(models, SessionValueModel{Namespace: s.namespace, Key: k, Value: v})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&models).Error
	})
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Where(map[string]any{"namespace": s.namespace, "key": keys}).
		Delete(&SessionValueModel{}).Error
}
