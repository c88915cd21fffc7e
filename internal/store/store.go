// Package store 提供“整表读取 / 整表覆盖”的表格存储抽象。
//
// 存储层没有行级写入与事务：每次修改都需要读取整张表、在内存副本上修改、
// 再把整张表写回。两个会话并发覆盖同一张表时，后写入者整体生效，
// 先写入者对其他行的修改会被丢弃。这是外部表格存储契约的一部分，调用方需要知晓。
package store

import (
	"context"
	"errors"
)

// 逻辑表名。
const (
	TableUsers        = "users"
	TableDiaryEntries = "diary_entries"
)

// users 表列名。
const (
	ColUserID       = "user_id"
	ColUsername     = "username"
	ColPasswordHash = "password_hash"
	ColName         = "name"
	ColRole         = "role"
)

// diary_entries 表列名。
const (
	ColID          = "id"
	ColDate        = "date"
	ColContent     = "content"
	ColAdvice      = "ai_advice"
	ColEmotionTag  = "emotion_tag"
	ColTimestamp   = "timestamp"
	ColChatHistory = "chat_history"
)

// ErrUnknownTable 在读取或写入未登记的表名时返回。
var ErrUnknownTable = errors.New("unknown table")

// TableStore 是持久化层的唯一契约：读取整表快照、覆盖整表。
type TableStore interface {
	// ReadTable 返回最新提交的整表快照，不经过任何缓存。
	ReadTable(ctx context.Context, name string) ([]Row, error)
	// Overwrite 用 rows 整体替换表内容，对调用方而言是原子的。
	Overwrite(ctx context.Context, name string, rows []Row) error
}

// Row 是一行可选字段记录，键为列名。
type Row map[string]string

// Get 返回列值以及该列是否存在，用于区分“缺失”与“空值”。
func (r Row) Get(col string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r[col]
	return v, ok
}

// Value 返回列值，缺失时返回空串。
func (r Row) Value(col string) string {
	v, _ := r.Get(col)
	return v
}

// Clone 返回行的深拷贝。
func (r Row) Clone() Row {
	if r == nil {
		return Row{}
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CloneRows 深拷贝整张表，保证快照不会在不同操作之间共享引用。
func CloneRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}

func knownTable(name string) bool {
	return name == TableUsers || name == TableDiaryEntries
}
