// Package telegram 提供 Telegram Bot 集成功能
package telegram

import "time"

// Config Telegram Bot 配置
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`     // 是否启用 Telegram Bot
	Token      string        `mapstructure:"token"`       // Bot Token
	SessionTTL time.Duration `mapstructure:"session_ttl"` // Session 映射保留时间

	// ShowFunctionCalls 在回复末尾列出本轮调用的函数
	ShowFunctionCalls bool `mapstructure:"show_function_calls"`
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.Enabled && c.Token == "" {
		return ErrTokenRequired
	}
	return nil
}
