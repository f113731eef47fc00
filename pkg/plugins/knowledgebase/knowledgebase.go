// Package knowledgebase 提供基于检索的知识库插件
package knowledgebase

import (
	"context"

	"github.com/KodaTao/PluginKernel/pkg/function"
	"github.com/KodaTao/PluginKernel/pkg/retrieval"
)

// Namespace 插件命名空间
const Namespace = "knowledge_base"

const (
	searchTopK  = 3
	contextTopK = 5
)

// Retriever 检索能力
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]retrieval.Fragment, error)
}

// Plugin 知识库插件
type Plugin struct {
	retriever Retriever
}

// New 创建插件
func New(retriever Retriever) *Plugin {
	return &Plugin{retriever: retriever}
}

// Register 注册插件函数
func (p *Plugin) Register(r *function.Registry) error {
	if err := r.Register(Namespace, function.Descriptor{
		Name:        "search_docs",
		Description: "Retrieve top 3 documents from the knowledge base that match a query. Includes filename and a 500-word preview of each result.",
		Parameters: []function.ParamSpec{
			function.String("query", "The search query.", true),
		},
	}, p.searchDocs); err != nil {
		return err
	}

	return r.Register(Namespace, function.Descriptor{
		Name:        "ask_with_context",
		Description: "Answers a user question using top 5 relevant documents from the knowledge base.",
		Parameters: []function.ParamSpec{
			function.String("query", "The user question.", true),
		},
	}, p.askWithContext)
}

type queryArgs struct {
	Query string `json:"query"`
}

func (p *Plugin) searchDocs(ctx context.Context, args map[string]any) (any, error) {
	var a queryArgs
	if err := function.Decode(args, &a); err != nil {
		return nil, err
	}

	fragments, err := p.retriever.Retrieve(ctx, a.Query, searchTopK)
	if err != nil {
		return nil, err
	}
	return retrieval.Preview(fragments), nil
}

func (p *Plugin) askWithContext(ctx context.Context, args map[string]any) (any, error) {
	var a queryArgs
	if err := function.Decode(args, &a); err != nil {
		return nil, err
	}

	fragments, err := p.retriever.Retrieve(ctx, a.Query, contextTopK)
	if err != nil {
		return nil, err
	}
	// 回答使用全文，跳过没有文本的文档
	return retrieval.Assemble(a.Query, retrieval.FullText(fragments)).String(), nil
}
