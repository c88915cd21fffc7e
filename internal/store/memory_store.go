package store

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore 是进程内的 TableStore，实现与 GormStore 相同的整表语义。
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string][]Row
	// 测试钩子：非空时 ReadTable / Overwrite 直接返回该错误。
	readErr  error
	writeErr error
}

// NewMemoryStore 构造空的 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: map[string][]Row{}}
}

// ReadTable 返回整表的深拷贝。
func (s *MemoryStore) ReadTable(_ context.Context, name string) ([]Row, error) {
	if !knownTable(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return CloneRows(s.tables[name]), nil
}

// Overwrite 用 rows 的深拷贝整体替换表内容。
func (s *MemoryStore) Overwrite(_ context.Context, name string, rows []Row) error {
	if !knownTable(name) {
		return fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.tables[name] = CloneRows(rows)
	return nil
}

// FailReads 让后续读取返回 err，传 nil 恢复正常。
func (s *MemoryStore) FailReads(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

// FailWrites 让后续写入返回 err，传 nil 恢复正常。
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}
