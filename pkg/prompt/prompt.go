// Package prompt 提供提示词生成和管理功能
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/KodaTao/PluginKernel/pkg/function"
	"github.com/KodaTao/PluginKernel/pkg/prompt/templates"
)

// Generator 提示词生成器
type Generator struct {
	systemTemplate *template.Template
	now            func() time.Time
}

// NewGenerator 创建提示词生成器
func NewGenerator() *Generator {
	return &Generator{
		systemTemplate: template.Must(template.New("system").Parse(templates.SystemPrompt)),
		now:            time.Now,
	}
}

// NewGeneratorWithTemplate 使用自定义系统提示词模板创建生成器
// systemTemplate 为空时使用默认模板
func NewGeneratorWithTemplate(systemTemplate string) (*Generator, error) {
	if systemTemplate == "" {
		return NewGenerator(), nil
	}
	tmpl, err := template.New("system").Parse(systemTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid system prompt template: %w", err)
	}
	return &Generator{systemTemplate: tmpl, now: time.Now}, nil
}

// TemplateData 模板数据
type TemplateData struct {
	Instructions string
	CurrentTime  string
	Functions    []function.Entry
	HasFunctions bool
}

// GenerateSystemPrompt 生成系统提示词
// instructions 为空时使用默认说明；含有 {{ 时先按模板渲染，可引用 CurrentTime 和 Functions
func (g *Generator) GenerateSystemPrompt(instructions string, functions []function.Entry) (string, error) {
	data := TemplateData{
		CurrentTime:  g.now().Format("2006-01-02 15:04:05 (Monday)"),
		Functions:    functions,
		HasFunctions: len(functions) > 0,
	}

	switch {
	case instructions == "":
		data.Instructions = templates.DefaultInstructions
	case strings.Contains(instructions, "{{"):
		rendered, err := g.GenerateWithCustomTemplate(instructions, data)
		if err != nil {
			return "", fmt.Errorf("invalid instructions template: %w", err)
		}
		data.Instructions = rendered
	default:
		data.Instructions = instructions
	}

	var buf bytes.Buffer
	if err := g.systemTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GenerateWithCustomTemplate 使用自定义模板生成提示词
func (g *Generator) GenerateWithCustomTemplate(tmplStr string, data any) (string, error) {
	tmpl, err := template.New("custom").Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DefaultGenerator 默认生成器实例
var DefaultGenerator = NewGenerator()

// GenerateSystemPrompt 使用默认生成器生成系统提示词
func GenerateSystemPrompt(instructions string, functions []function.Entry) (string, error) {
	return DefaultGenerator.GenerateSystemPrompt(instructions, functions)
}
