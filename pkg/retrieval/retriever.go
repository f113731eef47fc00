// Package retrieval 提供检索增强：从外部索引取回片段，并与问题合并成一个可回答的单元
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KodaTao/PluginKernel/pkg/observability"
)

const (
	// DefaultTopK 默认检索数量
	DefaultTopK = 3
	// MaxTopK 单次检索数量上限
	MaxTopK = 50
	// DefaultExcerptMaxWords 摘录默认最大词数
	DefaultExcerptMaxWords = 500

	unknownSource = "Unknown file"
	emptyExcerpt  = "[No text]"
)

// Document 索引返回的原始文档
type Document struct {
	ID     string
	Source string // 文件名等来源标识
	Text   string
	Score  float64
	Err    error // 结果无法解析
}

// Searcher 外部索引检索接口
type Searcher interface {
	// Search 返回与 query 最相关的至多 k 个文档
	Search(ctx context.Context, query string, k int) ([]Document, error)
}

// Fragment 检索片段
type Fragment struct {
	Source  string  `json:"source"`
	Rank    int     `json:"rank"` // 1..k
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
	Error   string  `json:"error,omitempty"`

	// Text 未截断的全文
	Text string `json:"-"`
}

// Config 检索配置
type Config struct {
	// TopK 调用方未指定 k 时使用
	TopK int `mapstructure:"top_k"`

	// ExcerptMaxWords 摘录最大词数（按空白切分，不按句子）
	ExcerptMaxWords int `mapstructure:"excerpt_max_words"`

	// Index 索引名，仅用于日志
	Index string `mapstructure:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TopK:            DefaultTopK,
		ExcerptMaxWords: DefaultExcerptMaxWords,
	}
}

// RetrievalUnavailableError 检索服务不可用或返回错误
type RetrievalUnavailableError struct {
	Err error
}

func (e *RetrievalUnavailableError) Error() string {
	return fmt.Sprintf("retrieval unavailable: %v", e.Err)
}

func (e *RetrievalUnavailableError) Unwrap() error {
	return e.Err
}

// Retriever 检索器
// 不重试、不缓存，失败直接返回给调用方
type Retriever struct {
	searcher Searcher
	config   Config
}

// NewRetriever 创建检索器
func NewRetriever(searcher Searcher, config Config) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.TopK > MaxTopK {
		config.TopK = MaxTopK
	}
	if config.ExcerptMaxWords <= 0 {
		config.ExcerptMaxWords = DefaultExcerptMaxWords
	}
	return &Retriever{searcher: searcher, config: config}
}

// Config 返回生效的配置
func (r *Retriever) Config() Config {
	return r.config
}

// Retrieve 检索至多 k 个片段，按分数降序（同分保持原顺序）
// k <= 0 时使用配置的 TopK
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Fragment, error) {
	if k <= 0 {
		k = r.config.TopK
	}
	if k > MaxTopK {
		k = MaxTopK
	}

	ctx, span := observability.StartSpan(ctx, "retrieval.search",
		attribute.Int("k", k),
		attribute.String("index", r.config.Index),
	)

	start := time.Now()
	docs, err := r.searcher.Search(ctx, query, k)
	if err != nil {
		var unavailable *RetrievalUnavailableError
		if !errors.As(err, &unavailable) {
			err = &RetrievalUnavailableError{Err: err}
		}
		observability.RetrievalLog(ctx, r.config.Index, k, 0, time.Since(start).Milliseconds(), err)
		observability.EndSpan(span, err)
		return nil, err
	}

	// 稳定排序：同分按检索服务返回的顺序
	sorted := make([]Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}

	fragments := make([]Fragment, len(sorted))
	for i, doc := range sorted {
		source := strings.TrimSpace(doc.Source)
		if source == "" {
			source = unknownSource
		}
		fragment := Fragment{
			Source: source,
			Rank:   i + 1,
			Score:  doc.Score,
		}
		if doc.Err != nil {
			fragment.Error = doc.Err.Error()
		} else {
			fragment.Text = doc.Text
			fragment.Excerpt = TruncateWords(doc.Text, r.config.ExcerptMaxWords)
			if fragment.Excerpt == "" {
				fragment.Excerpt = emptyExcerpt
			}
		}
		fragments[i] = fragment
	}

	observability.RetrievalLog(ctx, r.config.Index, k, len(fragments), time.Since(start).Milliseconds(), nil)
	observability.EndSpan(span, nil)
	return fragments, nil
}

// TruncateWords 截取前 maxWords 个词，词之间以单个空格连接
func TruncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}
