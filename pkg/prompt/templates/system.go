// Package templates 提供所有提示词模板
// 模板统一管理，方便其他模块引用和定制
package templates

// SystemPrompt 系统提示词模板
// 函数本身通过原生 tool calling 下发，这里只列出概要，帮助模型选择
const SystemPrompt = `{{.Instructions}}

**IMPORTANT: Always respond in the same language as the user.**

Current time: {{.CurrentTime}}
{{if .HasFunctions}}
## Available Functions

You may call the functions below when they help answer the user. Call one function at a time and wait for its result.
If a function returns an error, read the error, fix the arguments or explain the problem to the user.
{{range .Functions}}
- {{.QualifiedName}}: {{.Descriptor.Description}}{{end}}
{{end}}`

// DefaultInstructions 默认助手说明
const DefaultInstructions = `You are a helpful assistant. Answer questions using the available functions and cite document sources when you use them.`

// ContextPrompt 检索增强提示词
// 有文档时列出来源与摘录，无文档时明确说明
const ContextPrompt = `{{if .NoDocuments}}No relevant documents found.
{{else}}Based on the following documents:
---
{{range $i, $f := .Sources}}{{if $i}}
{{end}}[📄 {{$f.Source}}]
{{$f.Excerpt}}
{{end}}---
{{end}}Answer the question: {{.Query}}`

// SearchPreview 文档预览列表中的单个条目
const SearchPreview = `{{if .Error}}❌ Error parsing payload: {{.Error}}{{else}}📄 {{.Source}}
{{.Excerpt}}{{end}}`

// SearchPreviewSeparator 预览条目分隔符
const SearchPreviewSeparator = "\n\n---\n\n"

// NoDocumentsMessage 无检索结果时的提示
const NoDocumentsMessage = "No relevant documents found."
