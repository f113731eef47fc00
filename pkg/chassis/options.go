// Package chassis 组装 PluginKernel 的各个组件
package chassis

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/KodaTao/PluginKernel/pkg/conversation"
	"github.com/KodaTao/PluginKernel/pkg/function"
	"github.com/KodaTao/PluginKernel/pkg/llm"
	"github.com/KodaTao/PluginKernel/pkg/retrieval"
	"github.com/KodaTao/PluginKernel/pkg/retrieval/azuresearch"
)

// 内置插件名
const (
	PluginMenu          = "menu"
	PluginLights        = "lights"
	PluginKnowledgeBase = "knowledge_base"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Completion    llm.Config          `mapstructure:"completion"`
	Search        azuresearch.Config  `mapstructure:"search"`
	Agent         conversation.Config `mapstructure:"agent"`
	Prompt        PromptConfig        `mapstructure:"prompt"`
	Retrieval     retrieval.Config    `mapstructure:"retrieval"`
	Plugins       PluginsConfig       `mapstructure:"plugins"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Session       SessionConfig       `mapstructure:"session"`
}

// PromptConfig 提示词配置
type PromptConfig struct {
	// SystemTemplate 自定义系统提示词模板（text/template），为空时使用内置模板
	SystemTemplate string `mapstructure:"system_template"`
}

// PluginsConfig 插件配置
type PluginsConfig struct {
	// Enabled 启用的内置插件；knowledge_base 需要配置 search
	Enabled []string `mapstructure:"enabled" validate:"dive,oneof=menu lights knowledge_base"`
}

// TelegramConfig Telegram Bot 配置
type TelegramConfig struct {
	// Enabled 是否启用 Telegram Bot
	Enabled bool `mapstructure:"enabled"`

	// Token Bot Token
	Token string `mapstructure:"token" validate:"required_if=Enabled true"`

	// SessionTTL 消息到会话映射的保留时间
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	// ShowFunctionCalls 回复末尾列出调用的函数
	ShowFunctionCalls bool `mapstructure:"show_function_calls"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// Host 监听地址
	Host string `mapstructure:"host"`

	// Port 监听端口
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode" validate:"omitempty,oneof=debug release test"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// Path 数据库文件路径，":memory:" 表示内存数据库
	Path string `mapstructure:"path" validate:"required"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level 日志级别：debug, info, warn, error
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`

	// Format 日志格式：text, json
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`

	// Output 输出目标：stdout, stderr, file
	Output string `mapstructure:"output" validate:"omitempty,oneof=stdout stderr file"`

	// FilePath 日志文件路径（当 Output 为 file 时生效）
	FilePath string `mapstructure:"file_path"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否启用
	Enabled bool `mapstructure:"enabled"`

	// Path 指标暴露路径
	Path string `mapstructure:"path" validate:"omitempty,startswith=/"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	// TTL 会话空闲过期时间
	TTL time.Duration `mapstructure:"ttl"`

	// SweepInterval 清理过期会话的 cron 表达式，如 "@every 5m"
	SweepInterval string `mapstructure:"sweep_interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	retrievalConfig := retrieval.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "debug",
		},
		Completion: llm.DefaultConfig(),
		Search: azuresearch.Config{
			APIVersion: azuresearch.DefaultAPIVersion,
			Timeout:    30,
		},
		Agent:     conversation.DefaultConfig(),
		Retrieval: retrievalConfig,
		Plugins: PluginsConfig{
			Enabled: []string{PluginMenu, PluginLights, PluginKnowledgeBase},
		},
		Database: DatabaseConfig{
			Path: "~/.pluginkernel/data.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		Telegram: TelegramConfig{
			SessionTTL: 24 * time.Hour,
		},
		Session: SessionConfig{
			TTL:           30 * time.Minute,
			SweepInterval: "@every 5m",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Search.Endpoint != "" && c.Search.Index == "" {
		return fmt.Errorf("invalid config: search.index is required when search.endpoint is set")
	}
	return nil
}

// Registrar 向注册表注册一组函数
type Registrar func(r *function.Registry) error

// Option 应用选项
type Option func(*App)

// WithConfig 使用完整配置
func WithConfig(cfg *Config) Option {
	return func(a *App) {
		a.config = cfg
	}
}

// WithServerPort 设置服务器端口
func WithServerPort(port int) Option {
	return func(a *App) {
		a.config.Server.Port = port
	}
}

// WithLogLevel 设置日志级别
func WithLogLevel(level string) Option {
	return func(a *App) {
		a.config.Log.Level = level
	}
}

// WithDatabasePath 设置数据库路径
func WithDatabasePath(path string) Option {
	return func(a *App) {
		a.config.Database.Path = path
	}
}

// WithProvider 使用指定的推理引擎，跳过根据配置创建
func WithProvider(p llm.Provider) Option {
	return func(a *App) {
		a.provider = p
	}
}

// WithSearcher 使用指定的检索服务，跳过根据配置创建
func WithSearcher(s retrieval.Searcher) Option {
	return func(a *App) {
		a.searcher = s
	}
}

// WithRegistrar 注册额外的函数
func WithRegistrar(r Registrar) Option {
	return func(a *App) {
		a.registrars = append(a.registrars, r)
	}
}
