package retrieval

import (
	"strings"
	"text/template"

	"github.com/KodaTao/PluginKernel/pkg/prompt/templates"
)

var (
	contextTemplate = template.Must(template.New("context").Parse(templates.ContextPrompt))
	previewTemplate = template.Must(template.New("preview").Parse(templates.SearchPreview))
)

// Payload 问题与支撑片段合并后的结果
type Payload struct {
	Query       string     `json:"query"`
	Sources     []Fragment `json:"sources"`
	NoDocuments bool       `json:"no_documents"`
}

// Assemble 合并问题与片段
// 纯函数；解析失败的片段不参与，没有可用片段时返回 NoDocuments=true 的结果，不是错误
func Assemble(query string, fragments []Fragment) Payload {
	sources := make([]Fragment, 0, len(fragments))
	for _, f := range fragments {
		if f.Error == "" {
			sources = append(sources, f)
		}
	}
	return Payload{
		Query:       query,
		Sources:     sources,
		NoDocuments: len(sources) == 0,
	}
}

// String 渲染为下游模型可以引用来源的文本
func (p Payload) String() string {
	var sb strings.Builder
	// 模板只引用 Payload 自身字段，不会执行失败
	_ = contextTemplate.Execute(&sb, p)
	return sb.String()
}

// FullText 只保留有文本的片段，摘录换成全文并重新编号
func FullText(fragments []Fragment) []Fragment {
	out := make([]Fragment, 0, len(fragments))
	for _, f := range fragments {
		if f.Error != "" || strings.TrimSpace(f.Text) == "" {
			continue
		}
		f.Excerpt = f.Text
		f.Rank = len(out) + 1
		out = append(out, f)
	}
	return out
}

// Preview 渲染片段预览列表（每条包含来源和摘录，解析失败的条目列出错误）
func Preview(fragments []Fragment) string {
	if len(fragments) == 0 {
		return templates.NoDocumentsMessage
	}

	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		var sb strings.Builder
		_ = previewTemplate.Execute(&sb, f)
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, templates.SearchPreviewSeparator)
}
