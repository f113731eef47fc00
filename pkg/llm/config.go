package llm

import (
	"os"
	"strings"
)

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Provider:    "azure",
		APIVersion:  "2024-06-01",
		Deployment:  "gpt-4o",
		Timeout:     60,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// ResolveAPIKey 解析 API Key（支持环境变量引用）
// 如果值以 ${} 包裹，则从环境变量读取
func ResolveAPIKey(key string) string {
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		envName := key[2 : len(key)-1]
		return os.Getenv(envName)
	}
	return key
}

// MaskAPIKey 脱敏 API Key，用于日志输出
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Deployment == "" {
		return ErrMissingDeployment
	}
	if c.Provider == "azure" && c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if c.APIKey == "" && !c.UseDefaultCredential {
		return ErrMissingAPIKey
	}
	return nil
}

// 配置相关错误
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

var (
	ErrMissingAPIKey     = &ConfigError{Message: "API key is required (or enable use_default_credential)"}
	ErrMissingDeployment = &ConfigError{Message: "deployment is required"}
	ErrMissingEndpoint   = &ConfigError{Message: "endpoint is required for azure provider"}
)
