// Package llm 提供推理引擎（LLM）适配层接口
package llm

import (
	"context"
)

// Provider LLM 提供商接口
// 返回最终回答，或者一个或多个函数调用请求
type Provider interface {
	// Complete 发送一次补全请求
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Name 返回提供商名称
	Name() string
}

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool" // 函数结果
)

// Message 对话消息
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant 发起的调用
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool 消息对应的调用 ID
}

// ToolCall 模型发起的函数调用
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`      // 带命名空间的工具名
	Arguments string `json:"arguments"` // JSON 对象字符串
}

// Tool 下发给模型的函数声明
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// ToolChoice 函数选择模式
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// Valid 检查是否为支持的模式
func (c ToolChoice) Valid() bool {
	switch c {
	case ToolChoiceAuto, ToolChoiceRequired, ToolChoiceNone:
		return true
	}
	return false
}

// CompletionRequest 补全请求
type CompletionRequest struct {
	Messages   []Message
	Tools      []Tool
	ToolChoice ToolChoice
}

// Completion 补全结果
// ToolCalls 非空表示模型请求调用函数
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Usage Token 使用统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config LLM 通用配置
type Config struct {
	// Provider 提供商类型：azure, openai
	Provider string `mapstructure:"provider" validate:"oneof=azure openai"`

	// Endpoint API 地址（Azure 为资源 endpoint，OpenAI 兼容服务为 base URL）
	Endpoint string `mapstructure:"endpoint"`

	// APIKey API 密钥，支持 ${ENV} 引用
	APIKey string `mapstructure:"api_key"`

	// Deployment 部署名 / 模型名
	Deployment string `mapstructure:"deployment" validate:"required"`

	// APIVersion Azure OpenAI API 版本
	APIVersion string `mapstructure:"api_version"`

	// UseDefaultCredential 使用 DefaultAzureCredential 代替 APIKey
	UseDefaultCredential bool `mapstructure:"use_default_credential"`

	// Timeout 请求超时时间（秒）
	Timeout int `mapstructure:"timeout" validate:"gte=0"`

	// MaxTokens 最大 Token 数
	MaxTokens int `mapstructure:"max_tokens" validate:"gte=0"`

	// Temperature 温度参数（0-2）
	Temperature float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}
