// Package azuresearch 提供 Azure AI Search 检索客户端
package azuresearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/KodaTao/PluginKernel/pkg/observability"
	"github.com/KodaTao/PluginKernel/pkg/retrieval"
)

const (
	// DefaultAPIVersion 默认 REST API 版本
	DefaultAPIVersion = "2023-11-01"

	// tokenScope Azure AD 访问 Search 的 scope
	tokenScope = "https://search.azure.com/.default"
)

// Config Azure AI Search 配置
type Config struct {
	// Endpoint 服务地址，如 https://<name>.search.windows.net
	Endpoint string `mapstructure:"endpoint"`

	// APIKey 查询密钥；为空时使用 Azure AD 凭据
	APIKey string `mapstructure:"api_key"`

	// Index 索引名
	Index string `mapstructure:"index"`

	// APIVersion REST API 版本
	APIVersion string `mapstructure:"api_version"`

	// Timeout 请求超时时间（秒）
	Timeout int `mapstructure:"timeout"`

	// UseDefaultCredential 使用 DefaultAzureCredential 代替 APIKey
	UseDefaultCredential bool `mapstructure:"use_default_credential"`
}

// Client Azure AI Search 客户端，实现 retrieval.Searcher
type Client struct {
	config     Config
	httpClient *http.Client
	credential azcore.TokenCredential
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 使用自定义 http.Client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithCredential 使用 Azure AD 凭据认证
func WithCredential(cred azcore.TokenCredential) Option {
	return func(c *Client) { c.credential = cred }
}

// NewClient 创建客户端
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure search endpoint is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("azure search index is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	c := &Client{config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	}
	if c.credential == nil && cfg.APIKey == "" {
		return nil, fmt.Errorf("azure search requires an api key or a credential")
	}

	return c, nil
}

// Index 返回索引名
func (c *Client) Index() string {
	return c.config.Index
}

// searchRequest 检索请求
type searchRequest struct {
	Search string `json:"search"`
	Top    int    `json:"top"`
	Count  bool   `json:"count"`
}

// searchResponse 检索响应
type searchResponse struct {
	Count *int64           `json:"@odata.count,omitempty"`
	Value []map[string]any `json:"value"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search 检索至多 k 个文档
func (c *Client) Search(ctx context.Context, query string, k int) ([]retrieval.Document, error) {
	body, err := json.Marshal(searchRequest{Search: query, Top: k, Count: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		c.config.Endpoint, url.PathEscape(c.config.Index), url.QueryEscape(c.config.APIVersion))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.credential != nil {
		token, err := c.credential.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{tokenScope}})
		if err != nil {
			return nil, fmt.Errorf("get azure token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.Token)
	} else {
		req.Header.Set("api-key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = string(respBody)
		}
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, msg)
	}

	var searchResp searchResponse
	if err := json.Unmarshal(respBody, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	docs := make([]retrieval.Document, 0, len(searchResp.Value))
	for _, raw := range searchResp.Value {
		doc, err := toDocument(raw)
		if err != nil {
			observability.WarnContext(ctx, "Malformed search payload", "index", c.config.Index, "id", doc.ID, "error", err)
			doc.Err = err
		}
		docs = append(docs, doc)
	}

	if searchResp.Count != nil {
		observability.DebugContext(ctx, "Search completed", "index", c.config.Index, "total_count", *searchResp.Count)
	}

	return docs, nil
}

// payload 入库时写入的 JSON 字符串字段
type payload struct {
	File string `json:"file"`
	Text string `json:"text"`
}

// toDocument 将检索结果转换为 Document
// 优先解析 payload 字段（JSON 字符串），否则读取常见的文本与来源字段
func toDocument(raw map[string]any) (retrieval.Document, error) {
	doc := retrieval.Document{
		ID: stringField(raw, "id", "chunk_id", "key"),
	}
	if score, ok := raw["@search.score"].(float64); ok {
		doc.Score = score
	}

	if rawPayload, ok := raw["payload"]; ok {
		s, isString := rawPayload.(string)
		if !isString {
			return doc, fmt.Errorf("payload is %T, want string", rawPayload)
		}
		var p payload
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return doc, err
		}
		doc.Source = p.File
		doc.Text = p.Text
		return doc, nil
	}

	doc.Source = stringField(raw, "file", "title", "source", "metadata_storage_name", "id")
	doc.Text = stringField(raw, "text", "content", "chunk")
	return doc, nil
}

// stringField 返回第一个非空字符串字段
func stringField(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
