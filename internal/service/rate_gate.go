package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 受频率限制的操作类型。
const (
	ActionCreateEntry    = "create_entry"
	ActionEditEntry      = "edit_entry"
	ActionChatTurn       = "chat_turn"
	ActionUpdateIdentity = "update_identity"
)

var rateGateActions = []string{ActionCreateEntry, ActionEditEntry, ActionChatTurn, ActionUpdateIdentity}

// RateGate 对同一会话的同类操作施加最小间隔。它只用于控制成本，不承担正确性保证。
type RateGate interface {
	// Allow 判断操作是否放行，拒绝时返回还需等待的时间。
	Allow(ctx context.Context, sessionID, action string, interval time.Duration) (bool, time.Duration, error)
	// Clear 在登出时清除会话的全部记录。
	Clear(ctx context.Context, sessionID string) error
}

// memoryGateSweepEvery 是清理过期记录的最短间隔。
const memoryGateSweepEvery = time.Minute

// MemoryRateGate 是进程内实现，适合单实例部署。
type MemoryRateGate struct {
	mu        sync.Mutex
	expires   map[string]time.Time
	nextSweep time.Time
	now       func() time.Time
}

// NewMemoryRateGate 构造 MemoryRateGate。
func NewMemoryRateGate() *MemoryRateGate {
	return &MemoryRateGate{expires: map[string]time.Time{}, now: time.Now}
}

// SetNow 替换时钟，主要用于测试。
func (g *MemoryRateGate) SetNow(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	g.now = now
}

// Allow 实现 RateGate。
func (g *MemoryRateGate) Allow(_ context.Context, sessionID, action string, interval time.Duration) (bool, time.Duration, error) {
	if interval <= 0 {
		return true, 0, nil
	}
	key := rateGateKey(sessionID, action)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweep(now)
	if until, ok := g.expires[key]; ok {
		if wait := until.Sub(now); wait > 0 {
			return false, wait, nil
		}
	}
	g.expires[key] = now.Add(interval)
	return true, 0, nil
}

// sweep 删除已过期的记录，调用方需持有锁。
func (g *MemoryRateGate) sweep(now time.Time) {
	if now.Before(g.nextSweep) {
		return
	}
	for key, until := range g.expires {
		if !now.Before(until) {
			delete(g.expires, key)
		}
	}
	g.nextSweep = now.Add(memoryGateSweepEvery)
}

func (g *MemoryRateGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.expires)
}

// Clear 实现 RateGate。
func (g *MemoryRateGate) Clear(_ context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, action := range rateGateActions {
		delete(g.expires, rateGateKey(sessionID, action))
	}
	return nil
}

// RedisRateGate 基于 SET NX PX 实现，多实例部署时共享限制。
type RedisRateGate struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisRateGate 构造 RedisRateGate，prefix 为空时使用 "moodjournal:rate:"。
func NewRedisRateGate(rdb redis.UniversalClient, prefix string) *RedisRateGate {
	if strings.TrimSpace(prefix) == "" {
		prefix = "moodjournal:rate:"
	}
	return &RedisRateGate{rdb: rdb, prefix: prefix}
}

// NewRedisClient 连接 Redis 并做一次 Ping。
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        strings.TrimSpace(addr),
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Allow 实现 RateGate。
func (g *RedisRateGate) Allow(ctx context.Context, sessionID, action string, interval time.Duration) (bool, time.Duration, error) {
	if interval <= 0 {
		return true, 0, nil
	}
	key := g.prefix + rateGateKey(sessionID, action)

	ok, err := g.rdb.SetNX(ctx, key, time.Now().UnixMilli(), interval).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate gate set: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	wait, err := g.rdb.PTTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate gate ttl: %w", err)
	}
	if wait < 0 {
		wait = interval
	}
	return false, wait, nil
}

// Clear 实现 RateGate。
func (g *RedisRateGate) Clear(ctx context.Context, sessionID string) error {
	keys := make([]string, 0, len(rateGateActions))
	for _, action := range rateGateActions {
		keys = append(keys, g.prefix+rateGateKey(sessionID, action))
	}
	if err := g.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("rate gate clear: %w", err)
	}
	return nil
}

func rateGateKey(sessionID, action string) string {
	return sessionID + ":" + action
}
