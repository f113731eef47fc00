package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KodaTao/PluginKernel/pkg/function"
	"github.com/KodaTao/PluginKernel/pkg/llm"
	"github.com/KodaTao/PluginKernel/pkg/observability"
	"github.com/KodaTao/PluginKernel/pkg/prompt"
	"github.com/KodaTao/PluginKernel/pkg/retrieval"
)

// ErrMaxHopsExceeded 函数调用链超过最大跳数
var ErrMaxHopsExceeded = errors.New("max hops exceeded")

// State 对话循环状态
type State int32

const (
	AwaitingUserInput State = iota
	RequestingCompletion
	FunctionCallRequested
	DispatchingFunction
	FinalAnswerProduced
)

func (s State) String() string {
	switch s {
	case AwaitingUserInput:
		return "awaiting_user_input"
	case RequestingCompletion:
		return "requesting_completion"
	case FunctionCallRequested:
		return "function_call_requested"
	case DispatchingFunction:
		return "dispatching_function"
	case FinalAnswerProduced:
		return "final_answer_produced"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Dispatcher 对话循环所需的注册表能力
type Dispatcher interface {
	Catalog() []function.Entry
	Lookup(qualified string) (namespace, name string, ok bool)
	Invoke(ctx context.Context, namespace, name string, args map[string]any) (any, error)
}

// Retriever 自动检索增强所需的能力
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Fragment, error)
}

// Transcript 对话记录持久化
type Transcript interface {
	Append(ctx context.Context, conversationID string, turns []Turn) error
	Load(ctx context.Context, conversationID string) ([]Turn, error)
}

// Config 对话循环配置
type Config struct {
	// MaxHops 单次 Send 最多执行函数调用的跳数
	// 已执行 MaxHops 跳后再收到函数调用即失败
	MaxHops int `mapstructure:"max_hops" validate:"gte=0"`

	// FunctionChoice 函数选择模式：auto, required, none
	// required 只作用于每次 Send 的第一跳
	FunctionChoice llm.ToolChoice `mapstructure:"function_choice" validate:"omitempty,oneof=auto required none"`

	// RetryAttempts 补全失败的重试次数
	RetryAttempts int `mapstructure:"retry_attempts" validate:"gte=0"`

	// RetryBase 指数退避的初始间隔
	RetryBase time.Duration `mapstructure:"retry_base"`

	// AutoContext 每次用户输入前自动检索并注入文档
	AutoContext bool `mapstructure:"auto_context"`

	// ContextTopK 自动检索的文档数
	ContextTopK int `mapstructure:"context_top_k" validate:"gte=0"`

	// Instructions 系统说明，为空时使用默认说明
	Instructions string `mapstructure:"instructions"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxHops:        8,
		FunctionChoice: llm.ToolChoiceAuto,
		RetryAttempts:  3,
		RetryBase:      200 * time.Millisecond,
		ContextTopK:    5,
	}
}

// CallRecord 一次函数调用的记录
type CallRecord struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Status    string `json:"status"` // success, error
	Result    string `json:"result"`
}

// Reply Send 的结果
type Reply struct {
	Answer string       `json:"answer"`
	Calls  []CallRecord `json:"calls,omitempty"`
	Hops   int          `json:"hops"`
}

// Loop 对话循环
// 一个 Loop 对应一段对话，独占其历史
type Loop struct {
	id         string
	provider   llm.Provider
	dispatcher Dispatcher
	retriever  Retriever
	transcript Transcript
	generator  *prompt.Generator
	config     Config

	mu        sync.Mutex // 串行化 Send
	history   History
	state     atomic.Int32
	createdAt time.Time
	updatedAt atomic.Int64
}

// Option Loop 选项
type Option func(*Loop)

// WithID 指定对话 ID（默认生成 UUID）
func WithID(id string) Option {
	return func(l *Loop) { l.id = id }
}

// WithConfig 指定配置
func WithConfig(cfg Config) Option {
	return func(l *Loop) { l.config = cfg }
}

// WithRetriever 配置检索器，AutoContext 开启时使用
func WithRetriever(r Retriever) Option {
	return func(l *Loop) { l.retriever = r }
}

// WithTranscript 配置对话记录持久化
func WithTranscript(t Transcript) Option {
	return func(l *Loop) { l.transcript = t }
}

// WithPromptGenerator 使用自定义提示词生成器
func WithPromptGenerator(g *prompt.Generator) Option {
	return func(l *Loop) {
		if g != nil {
			l.generator = g
		}
	}
}

// NewLoop 创建对话循环，并写入系统说明轮次
func NewLoop(provider llm.Provider, dispatcher Dispatcher, opts ...Option) (*Loop, error) {
	if provider == nil {
		return nil, errors.New("provider cannot be nil")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}

	l := &Loop{
		provider:   provider,
		dispatcher: dispatcher,
		generator:  prompt.DefaultGenerator,
		config:     DefaultConfig(),
		createdAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.id == "" {
		l.id = uuid.NewString()
	}
	l.normalizeConfig()

	if err := l.refreshSystem(); err != nil {
		return nil, err
	}
	l.touch()

	return l, nil
}

// refreshSystem 按当前目录重新生成系统说明轮次
func (l *Loop) refreshSystem() error {
	systemPrompt, err := l.generator.GenerateSystemPrompt(l.config.Instructions, l.dispatcher.Catalog())
	if err != nil {
		return fmt.Errorf("failed to generate system prompt: %w", err)
	}
	l.history.SetSystem(Turn{Role: RoleSystem, Content: systemPrompt, Timestamp: time.Now()})
	return nil
}

func (l *Loop) normalizeConfig() {
	defaults := DefaultConfig()
	if l.config.MaxHops <= 0 {
		l.config.MaxHops = defaults.MaxHops
	}
	if !l.config.FunctionChoice.Valid() {
		l.config.FunctionChoice = defaults.FunctionChoice
	}
	if l.config.RetryAttempts < 0 {
		l.config.RetryAttempts = 0
	}
	if l.config.RetryBase <= 0 {
		l.config.RetryBase = defaults.RetryBase
	}
	if l.config.ContextTopK <= 0 {
		l.config.ContextTopK = defaults.ContextTopK
	}
}

// ID 返回对话 ID
func (l *Loop) ID() string {
	return l.id
}

// State 返回当前状态
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Config 返回生效的配置
func (l *Loop) Config() Config {
	return l.config
}

// CreatedAt 返回创建时间
func (l *Loop) CreatedAt() time.Time {
	return l.createdAt
}

// UpdatedAt 返回最后一次活动时间
func (l *Loop) UpdatedAt() time.Time {
	return time.Unix(0, l.updatedAt.Load())
}

// History 返回历史副本
func (l *Loop) History() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.history.Turns()
}

// Restore 从持久化记录恢复历史
// 没有记录时保持当前历史，返回 false
func (l *Loop) Restore(ctx context.Context) (bool, error) {
	if l.transcript == nil {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	turns, err := l.transcript.Load(ctx, l.id)
	if err != nil {
		return false, fmt.Errorf("failed to load transcript: %w", err)
	}
	if len(turns) == 0 {
		return false, nil
	}
	// 系统说明不持久化，保留当前的
	if current := l.history.Turns(); len(current) > 0 && current[0].Role == RoleSystem && turns[0].Role != RoleSystem {
		turns = append([]Turn{current[0]}, turns...)
	}
	l.history.Restore(turns)
	l.touch()
	return true, nil
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

func (l *Loop) touch() {
	l.updatedAt.Store(time.Now().UnixNano())
}

// Send 处理一条用户输入，直到产出最终回答
// 失败或取消时历史回退到调用前，不保留任何部分轮次
func (l *Loop) Send(ctx context.Context, input string) (*Reply, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx = observability.WithConversationID(ctx, l.id)
	ctx, span := observability.StartSpan(ctx, "conversation.send", attribute.String("conversation.id", l.id))

	// 注册表可能在两次输入之间变化
	if err := l.refreshSystem(); err != nil {
		observability.EndSpan(span, err)
		return nil, err
	}

	start := l.history.Len()
	reply, err := l.send(ctx, input)
	if err != nil {
		l.history.rollback(start)
		l.setState(AwaitingUserInput)
		observability.ConversationErrors.WithLabelValues(errorReason(err)).Inc()
		observability.WarnContext(ctx, "Conversation turn aborted", "error", err)
		observability.EndSpan(span, err)
		return nil, err
	}

	observability.ConversationHops.Observe(float64(reply.Hops))
	if l.transcript != nil {
		// 回答已经产出，持久化失败只记录日志
		if err := l.transcript.Append(ctx, l.id, l.history.Since(start)); err != nil {
			observability.ErrorContext(ctx, "Failed to persist transcript", "error", err)
		}
	}

	l.touch()
	l.setState(AwaitingUserInput)
	span.SetAttributes(attribute.Int("conversation.hops", reply.Hops))
	observability.EndSpan(span, nil)
	return reply, nil
}

func (l *Loop) send(ctx context.Context, input string) (*Reply, error) {
	userTurn := Turn{Role: RoleUser, Content: input, Timestamp: time.Now()}
	if l.config.AutoContext && l.retriever != nil {
		userTurn.Context = l.ground(ctx, input)
	}
	l.history.Append(userTurn)

	reply := &Reply{}
	for hop := 1; ; hop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l.setState(RequestingCompletion)
		reply.Hops = hop
		completion, err := l.complete(ctx, hop)
		if err != nil {
			return nil, err
		}

		if len(completion.ToolCalls) == 0 {
			l.setState(FinalAnswerProduced)
			l.history.Append(Turn{Role: RoleAssistant, Content: completion.Content, Timestamp: time.Now()})
			reply.Answer = completion.Content
			return reply, nil
		}

		l.setState(FunctionCallRequested)
		// 之前的 hop-1 跳都执行过函数
		if hop > l.config.MaxHops {
			return nil, fmt.Errorf("%w: %d", ErrMaxHopsExceeded, l.config.MaxHops)
		}

		content := completion.Content
		for _, tc := range completion.ToolCalls {
			l.setState(DispatchingFunction)
			record, result := l.dispatch(ctx, tc)
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			now := time.Now()
			call := &Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
			l.history.Append(
				Turn{Role: RoleAssistant, Content: content, Call: call, Timestamp: now},
				Turn{Role: RoleFunctionResult, Content: result, CallID: tc.ID, Timestamp: now},
			)
			reply.Calls = append(reply.Calls, record)
			content = ""
		}
	}
}

// ground 检索并组装上下文，失败时退回无上下文回答
func (l *Loop) ground(ctx context.Context, input string) string {
	fragments, err := l.retriever.Retrieve(ctx, input, l.config.ContextTopK)
	if err != nil {
		observability.WarnContext(ctx, "Retrieval failed, answering without context", "error", err)
		return ""
	}
	return retrieval.Assemble(input, fragments).String()
}

// complete 发起一次补全请求，对临时性错误按指数退避重试
func (l *Loop) complete(ctx context.Context, hop int) (*llm.Completion, error) {
	ctx, span := observability.StartSpan(ctx, "conversation.hop", attribute.Int("hop", hop))

	req := llm.CompletionRequest{
		Messages:   l.history.Messages(),
		Tools:      l.tools(),
		ToolChoice: l.config.FunctionChoice,
	}
	if req.ToolChoice == llm.ToolChoiceRequired && hop > 1 {
		req.ToolChoice = llm.ToolChoiceAuto
	}

	var completion *llm.Completion
	backoff := retry.WithMaxRetries(uint64(l.config.RetryAttempts), retry.NewExponential(l.config.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := l.provider.Complete(ctx, req)
		if err == nil {
			completion = c
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var unavailable *llm.CompletionUnavailableError
		if !errors.As(err, &unavailable) {
			unavailable = &llm.CompletionUnavailableError{Provider: l.provider.Name(), Err: err}
		}
		if unavailable.Temporary() {
			observability.WarnContext(ctx, "Completion failed, retrying", "hop", hop, "error", err)
			return retry.RetryableError(unavailable)
		}
		return unavailable
	})
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	observability.EndSpan(span, err)
	return completion, err
}

// tools 当前目录转换为函数声明
func (l *Loop) tools() []llm.Tool {
	catalog := l.dispatcher.Catalog()
	tools := make([]llm.Tool, len(catalog))
	for i, entry := range catalog {
		tools[i] = llm.Tool{
			Name:        entry.QualifiedName(),
			Description: entry.Descriptor.Description,
			Parameters:  function.JSONSchema(entry.Descriptor),
		}
	}
	return tools
}

// dispatch 执行一次函数调用
// 未知函数、参数错误和执行错误都以文本形式回传给模型
func (l *Loop) dispatch(ctx context.Context, tc llm.ToolCall) (CallRecord, string) {
	record := CallRecord{Name: tc.Name, Arguments: tc.Arguments, Status: "success"}

	result, err := l.invoke(ctx, tc)
	if err != nil {
		observability.WarnContext(ctx, "Function call reported to model as error", "function", tc.Name, "error", err)
		record.Status = "error"
		record.Result = err.Error()
		return record, "error: " + err.Error()
	}

	record.Result = result
	return record, result
}

func (l *Loop) invoke(ctx context.Context, tc llm.ToolCall) (string, error) {
	namespace, name, ok := l.dispatcher.Lookup(tc.Name)
	if !ok {
		return "", fmt.Errorf("%w: %s", function.ErrUnknownFunction, tc.Name)
	}

	args := map[string]any{}
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			return "", &function.ArgumentValidationError{
				Function: tc.Name,
				Problems: []string{fmt.Sprintf("arguments are not a JSON object: %v", err)},
			}
		}
	}

	result, err := l.dispatcher.Invoke(ctx, namespace, name, args)
	if err != nil {
		return "", err
	}
	return formatResult(result)
}

// formatResult 函数结果转换为文本
func formatResult(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode function result: %w", err)
	}
	return string(b), nil
}

// errorReason 错误分类，用于指标标签
func errorReason(err error) string {
	var unavailable *llm.CompletionUnavailableError
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, ErrMaxHopsExceeded):
		return "max_hops"
	case errors.As(err, &unavailable):
		return "completion_unavailable"
	}
	return "other"
}
