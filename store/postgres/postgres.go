// Package postgres is the durable ConsumptionStore backend. The
// exactly-once guarantee rides on the table's composite primary key:
// the conditional insert either lands or conflicts, there is no
// read-then-write window.
package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kamiyo/x402/store"
	"github.com/kamiyo/x402/types"
)

type consumptionModel struct {
	Chain        string    `gorm:"primaryKey;size:32"`
	TxID         string    `gorm:"column:tx_id;primaryKey;size:128"`
	CredentialID string    `gorm:"column:credential_id;not null"`
	Principal    string    `gorm:"not null"`
	Amount       string    `gorm:"not null"`
	ConsumedAt   time.Time `gorm:"not null"`
	ExpiresAt    time.Time `gorm:"index;not null"`
}

func (consumptionModel) TableName() string {
	return "x402_consumptions"
}

type Store struct {
	db *gorm.DB
}

var _ store.ConsumptionStore = (*Store)(nil)

// Open connects to postgres and migrates the consumption table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing gorm handle.
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&consumptionModel{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Consume(ctx context.Context, rec store.ConsumptionRecord) error {
	model := consumptionModel{
		Chain:        string(rec.Chain),
		TxID:         rec.TxID,
		CredentialID: rec.CredentialID,
		Principal:    rec.Principal,
		Amount:       rec.Amount,
		ConsumedAt:   rec.ConsumedAt,
		ExpiresAt:    rec.ExpiresAt,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return errors.Join(store.ErrUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return store.ErrAlreadyConsumed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, chain types.Chain, txID string) (*store.ConsumptionRecord, error) {
	var model consumptionModel
	err := s.db.WithContext(ctx).
		Where("chain = ? AND tx_id = ?", string(chain), txID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Join(store.ErrUnavailable, err)
	}
	return &store.ConsumptionRecord{
		Chain:        types.Chain(model.Chain),
		TxID:         model.TxID,
		CredentialID: model.CredentialID,
		Principal:    model.Principal,
		Amount:       model.Amount,
		ConsumedAt:   model.ConsumedAt,
		ExpiresAt:    model.ExpiresAt,
	}, nil
}

func (s *Store) Purge(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&consumptionModel{})
	if res.Error != nil {
		return 0, errors.Join(store.ErrUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}
