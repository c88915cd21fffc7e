package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moodjournal/internal/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormStore 基于 gorm 的 sheet_rows 表实现 TableStore，sqlite 与 postgres 通用。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 构造 GormStore。
func NewGormStore(gdb *gorm.DB) *GormStore {
	return &GormStore{db: gdb}
}

// ReadTable 按行号顺序读取整张表。
func (s *GormStore) ReadTable(ctx context.Context, name string) ([]Row, error) {
	if !knownTable(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	if s.db == nil {
		return nil, errors.New("database not initialized")
	}

	var records []db.SheetRow
	if err := s.db.WithContext(ctx).
		Where("sheet = ?", name).
		Order("position ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("read table %s: %w", name, err)
	}

	rows := make([]Row, 0, len(records))
	for _, record := range records {
		row := Row{}
		if len(record.Cells) > 0 {
			if err := json.Unmarshal(record.Cells, &row); err != nil {
				return nil, fmt.Errorf("decode table %s row %d: %w", name, record.Position, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Overwrite 在一个事务内删除整张表并按顺序重新写入。
func (s *GormStore) Overwrite(ctx context.Context, name string, rows []Row) error {
	if !knownTable(name) {
		return fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	if s.db == nil {
		return errors.New("database not initialized")
	}

	records := make([]db.SheetRow, 0, len(rows))
	for i, row := range rows {
		cells, err := json.Marshal(row.Clone())
		if err != nil {
			return fmt.Errorf("encode table %s row %d: %w", name, i, err)
		}
		records = append(records, db.SheetRow{
			Sheet:    name,
			Position: i,
			Cells:    datatypes.JSON(cells),
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("sheet = ?", name).Delete(&db.SheetRow{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(&records, 200).Error
	})
	if err != nil {
		return fmt.Errorf("overwrite table %s: %w", name, err)
	}
	return nil
}
