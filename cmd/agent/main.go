// Package main 是 PluginKernel 的 CLI 入口
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KodaTao/PluginKernel/pkg/chassis"
	"github.com/KodaTao/PluginKernel/pkg/observability"
	"github.com/KodaTao/PluginKernel/pkg/server"
	"github.com/KodaTao/PluginKernel/pkg/types"
)

const version = "v0.1.0"

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "PluginKernel - function-calling conversation runtime",
		Long: `PluginKernel runs conversations against an OpenAI-compatible chat deployment,
letting the model call namespaced plugin functions and ground answers in retrieved documents.`,
	}

	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "variables.env", "dotenv file loaded before reading config")

	// 添加子命令
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveCmd 启动 HTTP 服务器
func serveCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the PluginKernel HTTP server to handle API requests.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 加载配置
			config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// 命令行参数覆盖配置
			if port != 0 {
				config.Server.Port = port
			}
			if host != "" {
				config.Server.Host = host
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app := chassis.New(chassis.WithConfig(config))
			if err := app.Initialize(ctx); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			metricsPath := ""
			if config.Observability.Metrics.Enabled {
				metricsPath = config.Observability.Metrics.Path
			}
			srv := server.NewServer(app, &server.ServerConfig{
				Host:        config.Server.Host,
				Port:        config.Server.Port,
				Mode:        config.Server.Mode,
				MetricsPath: metricsPath,
			})

			var runErr error
			var wg conc.WaitGroup
			wg.Go(func() {
				runErr = srv.Run()
				stop()
			})

			<-ctx.Done()
			observability.Info("Received shutdown signal")

			// 优雅关闭
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				observability.Error("HTTP server shutdown failed", "error", err)
			}
			wg.Wait()

			if err := app.Shutdown(); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (default 8080)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Server host (default 0.0.0.0)")

	return cmd
}

// chatCmd 在终端中对话
func chatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent from the terminal",
		Long:  `Read user messages from stdin, one per line, and print the agent's replies. Type "exit" to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// 终端对话不启动 Telegram，日志不写到 stdout
			config.Telegram.Enabled = false
			if config.Log.Output == "stdout" {
				config.Log.Output = "stderr"
			}

			app := chassis.New(chassis.WithConfig(config))
			if err := app.Initialize(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer app.Shutdown()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return runChat(cmd.Context(), app.GetAgent(), sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to continue (default: new session)")

	return cmd
}

// runChat 逐行读取输入并打印回复
// 单轮失败只打印错误，不中断对话
func runChat(ctx context.Context, agent types.Agent, sessionID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		fmt.Fprintf(out, "# user: '%s'\n", input)
		resp, err := agent.Chat(ctx, types.ChatRequest{
			SessionID: sessionID,
			Message:   input,
			Channel:   &types.ChannelContext{Type: "console"},
		})
		if err != nil {
			fmt.Fprintf(out, "# error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "# assistant: %s\n", resp.Reply)
	}
	return scanner.Err()
}

// versionCmd 显示版本信息
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "PluginKernel "+version)
			fmt.Fprintln(cmd.OutOrStdout(), "Function-calling conversation runtime for Go")
		},
	}
}

// loadConfig 加载配置文件
// 优先级：环境变量 > 配置文件 > 默认值
func loadConfig() (*chassis.Config, error) {
	// dotenv 文件只补充尚未设置的环境变量
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, chassis.DefaultConfig())

	// 配置文件
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.pluginkernel")
	}

	// 环境变量，如 PK_COMPLETION_ENDPOINT
	v.SetEnvPrefix("PK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindAzureEnv(v)

	// 读取配置文件（如果存在）
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// 配置文件不存在时使用默认值
	}

	// 解析配置
	config := &chassis.Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	return config, nil
}

// setDefaults 注册默认值，AutomaticEnv 只对已知的键生效
func setDefaults(v *viper.Viper, d *chassis.Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)

	v.SetDefault("completion.provider", d.Completion.Provider)
	v.SetDefault("completion.endpoint", d.Completion.Endpoint)
	v.SetDefault("completion.api_key", d.Completion.APIKey)
	v.SetDefault("completion.deployment", d.Completion.Deployment)
	v.SetDefault("completion.api_version", d.Completion.APIVersion)
	v.SetDefault("completion.use_default_credential", d.Completion.UseDefaultCredential)
	v.SetDefault("completion.timeout", d.Completion.Timeout)
	v.SetDefault("completion.max_tokens", d.Completion.MaxTokens)
	v.SetDefault("completion.temperature", d.Completion.Temperature)

	v.SetDefault("search.endpoint", d.Search.Endpoint)
	v.SetDefault("search.api_key", d.Search.APIKey)
	v.SetDefault("search.index", d.Search.Index)
	v.SetDefault("search.api_version", d.Search.APIVersion)
	v.SetDefault("search.timeout", d.Search.Timeout)
	v.SetDefault("search.use_default_credential", d.Search.UseDefaultCredential)

	v.SetDefault("agent.max_hops", d.Agent.MaxHops)
	v.SetDefault("agent.function_choice", string(d.Agent.FunctionChoice))
	v.SetDefault("agent.retry_attempts", d.Agent.RetryAttempts)
	v.SetDefault("agent.retry_base", d.Agent.RetryBase)
	v.SetDefault("agent.auto_context", d.Agent.AutoContext)
	v.SetDefault("agent.context_top_k", d.Agent.ContextTopK)
	v.SetDefault("agent.instructions", d.Agent.Instructions)

	v.SetDefault("prompt.system_template", d.Prompt.SystemTemplate)

	v.SetDefault("retrieval.top_k", d.Retrieval.TopK)
	v.SetDefault("retrieval.excerpt_max_words", d.Retrieval.ExcerptMaxWords)

	v.SetDefault("plugins.enabled", d.Plugins.Enabled)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file_path", d.Log.FilePath)

	v.SetDefault("observability.metrics.enabled", d.Observability.Metrics.Enabled)
	v.SetDefault("observability.metrics.path", d.Observability.Metrics.Path)

	v.SetDefault("telegram.enabled", d.Telegram.Enabled)
	v.SetDefault("telegram.token", d.Telegram.Token)
	v.SetDefault("telegram.session_ttl", d.Telegram.SessionTTL)
	v.SetDefault("telegram.show_function_calls", d.Telegram.ShowFunctionCalls)

	v.SetDefault("session.ttl", d.Session.TTL)
	v.SetDefault("session.sweep_interval", d.Session.SweepInterval)
}

// bindAzureEnv 兼容 Azure 示例中常用的环境变量名
func bindAzureEnv(v *viper.Viper) {
	bindings := map[string]string{
		"completion.endpoint":    "AZURE_OPENAI_ENDPOINT",
		"completion.api_key":     "AZURE_OPENAI_API_KEY",
		"completion.deployment":  "AZURE_OPENAI_DEPLOYMENT_NAME",
		"completion.api_version": "AZURE_OPENAI_DEPLOYMENT_VERSION",
		"search.endpoint":        "AZURE_SEARCH_ENDPOINT",
		"search.api_key":         "AZURE_SEARCH_KEY",
		"search.index":           "AZURE_SEARCH_INDEX",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, "PK_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
}
