// Package openai 提供基于 go-openai 的 Azure OpenAI / OpenAI 客户端实现
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/KodaTao/PluginKernel/pkg/llm"
	"github.com/KodaTao/PluginKernel/pkg/observability"
)

// cognitiveServicesScope Azure AD 访问 Azure OpenAI 的 scope
const cognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

// Provider 推理引擎实现
type Provider struct {
	config llm.Config
	client *goopenai.Client
}

// Option Provider 选项
type Option func(*options)

type options struct {
	httpClient *http.Client
	credential azcore.TokenCredential
}

// WithHTTPClient 使用自定义 http.Client
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithCredential 使用 Azure AD 凭据代替 API Key
func WithCredential(cred azcore.TokenCredential) Option {
	return func(o *options) { o.credential = cred }
}

// NewProvider 创建 Provider
func NewProvider(cfg llm.Config, opts ...Option) (*Provider, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg.APIKey = llm.ResolveAPIKey(cfg.APIKey)
	if o.credential != nil {
		cfg.UseDefaultCredential = true
	}
	if cfg.Provider == "" {
		cfg.Provider = "azure"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.UseDefaultCredential && o.credential == nil {
		return nil, fmt.Errorf("use_default_credential requires a token credential")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}

	var clientConfig goopenai.ClientConfig
	switch cfg.Provider {
	case "azure":
		clientConfig = goopenai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
		if cfg.APIVersion != "" {
			clientConfig.APIVersion = cfg.APIVersion
		}
		deployment := cfg.Deployment
		clientConfig.AzureModelMapperFunc = func(string) string { return deployment }
	case "openai":
		clientConfig = goopenai.DefaultConfig(cfg.APIKey)
		if cfg.Endpoint != "" {
			clientConfig.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
		}
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}

	if o.credential != nil {
		if cfg.Provider == "azure" {
			clientConfig.APIType = goopenai.APITypeAzureAD
		}
		clientConfig.HTTPClient = &tokenDoer{
			client:     httpClient,
			credential: o.credential,
			scope:      cognitiveServicesScope,
		}
	} else {
		clientConfig.HTTPClient = httpClient
	}

	observability.Info("LLM provider configured",
		"provider", cfg.Provider,
		"deployment", cfg.Deployment,
		"api_key", llm.MaskAPIKey(cfg.APIKey),
		"aad", o.credential != nil,
	)

	return &Provider{
		config: cfg,
		client: goopenai.NewClientWithConfig(clientConfig),
	}, nil
}

// Name 返回提供商名称
func (p *Provider) Name() string {
	return p.config.Provider
}

// Complete 发送补全请求
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	start := time.Now()
	observability.LLMRequestLog(ctx, p.Name(), p.config.Deployment, len(req.Messages), len(req.Tools))

	chatReq := goopenai.ChatCompletionRequest{
		Model:       p.config.Deployment,
		Messages:    convertMessages(req.Messages),
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
	}
	// 没有工具时不能携带 tool_choice
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
		choice := req.ToolChoice
		if !choice.Valid() {
			choice = llm.ToolChoiceAuto
		}
		chatReq.ToolChoice = string(choice)
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.CompletionUnavailableError{Provider: p.Name(), Err: llm.ErrEmptyCompletion}
	}

	msg := resp.Choices[0].Message
	completion := &llm.Completion{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	observability.LLMResponseLog(ctx, p.Name(), time.Since(start).Milliseconds(), map[string]int{
		"prompt":     resp.Usage.PromptTokens,
		"completion": resp.Usage.CompletionTokens,
		"total":      resp.Usage.TotalTokens,
	})

	return completion, nil
}

// wrapError 将 SDK 错误统一为 CompletionUnavailableError
func (p *Provider) wrapError(err error) error {
	unavailable := &llm.CompletionUnavailableError{Provider: p.Name(), Err: err}

	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		unavailable.StatusCode = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		unavailable.StatusCode = reqErr.HTTPStatusCode
	}
	return unavailable
}

// convertMessages 转换消息格式
func convertMessages(messages []llm.Message) []goopenai.ChatCompletionMessage {
	result := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		result[i] = msg
	}
	return result
}

// convertTools 转换函数声明
func convertTools(tools []llm.Tool) []goopenai.Tool {
	result := make([]goopenai.Tool, len(tools))
	for i, t := range tools {
		result[i] = goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// tokenDoer 为每个请求附加 Azure AD Bearer Token
type tokenDoer struct {
	client     *http.Client
	credential azcore.TokenCredential
	scope      string
}

func (d *tokenDoer) Do(req *http.Request) (*http.Response, error) {
	token, err := d.credential.GetToken(req.Context(), policy.TokenRequestOptions{Scopes: []string{d.scope}})
	if err != nil {
		return nil, fmt.Errorf("get azure token: %w", err)
	}
	req.Header.Del("api-key")
	req.Header.Set("Authorization", "Bearer "+token.Token)
	return d.client.Do(req)
}
