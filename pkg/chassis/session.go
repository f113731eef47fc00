package chassis

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/KodaTao/PluginKernel/pkg/conversation"
	"github.com/KodaTao/PluginKernel/pkg/observability"
)

// LoopFactory 为会话 ID 创建对话循环
type LoopFactory func(id string) (*conversation.Loop, error)

// SessionInfo 会话概要
type SessionInfo struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Turns     int       `json:"turns"`
	Active    bool      `json:"active"` // 是否在内存中
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SessionManager 会话管理器
// 每个会话对应一个独立的对话循环，支持并发访问
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*conversation.Loop
	factory  LoopFactory
	ttl      time.Duration
}

// NewSessionManager 创建会话管理器
func NewSessionManager(factory LoopFactory, ttl time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*conversation.Loop),
		factory:  factory,
		ttl:      ttl,
	}
}

// Get 获取会话
func (m *SessionManager) Get(id string) (*conversation.Loop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loop, ok := m.sessions[id]
	return loop, ok
}

// GetOrCreate 获取或创建会话
// 新建时尝试从持久化记录恢复历史
func (m *SessionManager) GetOrCreate(ctx context.Context, id string) (*conversation.Loop, error) {
	if loop, ok := m.Get(id); ok {
		return loop, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if loop, ok := m.sessions[id]; ok {
		return loop, nil
	}

	loop, err := m.factory(id)
	if err != nil {
		return nil, err
	}
	restored, err := loop.Restore(ctx)
	if err != nil {
		observability.WarnContext(ctx, "Failed to restore session, starting fresh", "session_id", id, "error", err)
	} else if restored {
		observability.InfoContext(ctx, "Session restored", "session_id", id, "turns", len(loop.History()))
	}

	m.sessions[id] = loop
	return loop, nil
}

// Delete 删除会话
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		delete(m.sessions, id)
		return true
	}
	return false
}

// List 列出所有会话，按 ID 排序
func (m *SessionManager) List() []SessionInfo {
	m.mu.RLock()
	loops := make([]*conversation.Loop, 0, len(m.sessions))
	for _, loop := range m.sessions {
		loops = append(loops, loop)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(loops))
	for _, loop := range loops {
		infos = append(infos, describe(loop))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len 返回会话数
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanExpired 清理空闲超过 TTL 的会话
// 正在处理中的会话不会被清理；持久化记录保留
func (m *SessionManager) CleanExpired() int {
	if m.ttl <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	expireTime := time.Now().Add(-m.ttl)
	for id, loop := range m.sessions {
		if loop.State() != conversation.AwaitingUserInput {
			continue
		}
		if loop.UpdatedAt().Before(expireTime) {
			delete(m.sessions, id)
			count++
		}
	}
	return count
}

func describe(loop *conversation.Loop) SessionInfo {
	return SessionInfo{
		ID:        loop.ID(),
		State:     loop.State().String(),
		Turns:     len(loop.History()),
		Active:    true,
		CreatedAt: loop.CreatedAt(),
		UpdatedAt: loop.UpdatedAt(),
	}
}
