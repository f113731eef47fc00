// Package conversation 实现对话循环：在推理引擎与函数注册表之间往返，直到产出最终回答
package conversation

import (
	"time"

	"github.com/KodaTao/PluginKernel/pkg/llm"
)

// Role 对话轮次角色
type Role string

const (
	RoleSystem         Role = "system"
	RoleUser           Role = "user"
	RoleAssistant      Role = "assistant"
	RoleFunctionResult Role = "function_result"
)

// Call 推理引擎请求的一次函数调用
type Call struct {
	ID        string `json:"id"`
	Name      string `json:"name"`      // 带命名空间的工具名
	Arguments string `json:"arguments"` // 原始 JSON 参数
}

// Turn 对话中的一轮
// assistant 轮次带 Call 表示函数调用请求；function_result 轮次通过 CallID 关联调用
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Context   string    `json:"context,omitempty"` // 检索增强后实际发给模型的内容
	Call      *Call     `json:"call,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// History 对话历史，只追加
// 由单个 Loop 独占，不做并发保护
type History struct {
	turns []Turn
}

// Append 追加轮次
func (h *History) Append(turns ...Turn) {
	h.turns = append(h.turns, turns...)
}

// Len 返回轮次数
func (h *History) Len() int {
	return len(h.turns)
}

// Turns 返回历史副本
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Since 返回从 n 开始的轮次副本
func (h *History) Since(n int) []Turn {
	if n >= len(h.turns) {
		return nil
	}
	out := make([]Turn, len(h.turns)-n)
	copy(out, h.turns[n:])
	return out
}

// Restore 用持久化的轮次替换当前历史
func (h *History) Restore(turns []Turn) {
	h.turns = make([]Turn, len(turns))
	copy(h.turns, turns)
}

// SetSystem 替换首条系统轮次，没有时插入到最前
func (h *History) SetSystem(turn Turn) {
	if len(h.turns) > 0 && h.turns[0].Role == RoleSystem {
		h.turns[0] = turn
		return
	}
	h.turns = append([]Turn{turn}, h.turns...)
}

// rollback 回退到 n 条轮次
func (h *History) rollback(n int) {
	if n < len(h.turns) {
		clear(h.turns[n:])
		h.turns = h.turns[:n]
	}
}

// Messages 转换为推理引擎消息
func (h *History) Messages() []llm.Message {
	messages := make([]llm.Message, 0, len(h.turns))
	for _, t := range h.turns {
		switch t.Role {
		case RoleSystem:
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: t.Content})
		case RoleUser:
			content := t.Content
			if t.Context != "" {
				content = t.Context
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: content})
		case RoleAssistant:
			msg := llm.Message{Role: llm.RoleAssistant, Content: t.Content}
			if t.Call != nil {
				msg.ToolCalls = []llm.ToolCall{{ID: t.Call.ID, Name: t.Call.Name, Arguments: t.Call.Arguments}}
			}
			messages = append(messages, msg)
		case RoleFunctionResult:
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: t.Content, ToolCallID: t.CallID})
		}
	}
	return messages
}
