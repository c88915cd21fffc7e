package db

import (
	"time"

	"gorm.io/datatypes"
)

// SheetRow 以“工作表 + 行号”的形式保存一行数据，Cells 为列名到文本值的 JSON 映射。
// 同一张逻辑表的所有行共享 Sheet 值，Position 决定行顺序。
// 列集合不做约束：旧版本缺失的列在读取时按“缺失”处理。
type SheetRow struct {
	ID        uint           `gorm:"primaryKey"`
	Sheet     string         `gorm:"size:64;not null;index:idx_sheet_rows_position,priority:1"`
	Position  int            `gorm:"not null;index:idx_sheet_rows_position,priority:2"`
	Cells     datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
}

// TableName 自定义表名以保持命名一致。
func (SheetRow) TableName() string {
	return "sheet_rows"
}
