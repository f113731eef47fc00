package chassis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/KodaTao/PluginKernel/pkg/conversation"
	"github.com/KodaTao/PluginKernel/pkg/observability"
	"github.com/KodaTao/PluginKernel/pkg/types"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("session not found")

// Agent 对话入口
// 按会话 ID 把请求路由到对应的对话循环
type Agent struct {
	sessions   *SessionManager
	transcript *conversation.TranscriptStore
}

// NewAgent 创建 Agent，transcript 可为 nil
func NewAgent(sessions *SessionManager, transcript *conversation.TranscriptStore) *Agent {
	return &Agent{
		sessions:   sessions,
		transcript: transcript,
	}
}

// Chat 处理对话请求
// 未指定 session ID 时创建新会话
func (a *Agent) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx = observability.WithConversationID(ctx, sessionID)
	if req.Channel != nil {
		observability.DebugContext(ctx, "Chat request", "channel", req.Channel.Type, "chat_id", req.Channel.ChatID)
	}

	loop, err := a.sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	reply, err := loop.Send(ctx, req.Message)
	if err != nil {
		return nil, err
	}

	resp := &types.ChatResponse{
		SessionID: sessionID,
		Reply:     reply.Answer,
		Hops:      reply.Hops,
	}
	for _, c := range reply.Calls {
		resp.FunctionCalls = append(resp.FunctionCalls, types.FunctionCall{
			Name:      c.Name,
			Arguments: c.Arguments,
			Status:    c.Status,
			Result:    c.Result,
		})
	}
	return resp, nil
}

// History 返回会话历史
// 内存中没有时从持久化记录读取
func (a *Agent) History(ctx context.Context, id string) ([]conversation.Turn, error) {
	if loop, ok := a.sessions.Get(id); ok {
		return loop.History(), nil
	}
	if a.transcript == nil {
		return nil, ErrSessionNotFound
	}
	turns, err := a.transcript.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, ErrSessionNotFound
	}
	return turns, nil
}

// ListSessions 列出会话，包括仅存在于持久化记录中的会话
func (a *Agent) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	infos := a.sessions.List()
	if a.transcript == nil {
		return infos, nil
	}

	ids, err := a.transcript.Conversations(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		seen[info.ID] = true
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		infos = append(infos, SessionInfo{
			ID:    id,
			State: conversation.AwaitingUserInput.String(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// DeleteSession 删除会话及其持久化记录
func (a *Agent) DeleteSession(ctx context.Context, id string) (bool, error) {
	deleted := a.sessions.Delete(id)
	if a.transcript != nil {
		removed, err := a.transcript.Delete(ctx, id)
		if err != nil {
			return deleted, err
		}
		deleted = deleted || removed > 0
	}
	if deleted {
		observability.InfoContext(ctx, "Session deleted", "session_id", id)
	}
	return deleted, nil
}

// Sessions 返回会话管理器
func (a *Agent) Sessions() *SessionManager {
	return a.sessions
}
