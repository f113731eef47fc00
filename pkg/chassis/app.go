package chassis

import (
	"context"
	"fmt"
	"slices"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"gorm.io/gorm"

	"github.com/KodaTao/PluginKernel/pkg/conversation"
	"github.com/KodaTao/PluginKernel/pkg/function"
	"github.com/KodaTao/PluginKernel/pkg/llm"
	"github.com/KodaTao/PluginKernel/pkg/llm/openai"
	"github.com/KodaTao/PluginKernel/pkg/observability"
	"github.com/KodaTao/PluginKernel/pkg/plugins/knowledgebase"
	"github.com/KodaTao/PluginKernel/pkg/plugins/lights"
	"github.com/KodaTao/PluginKernel/pkg/plugins/menu"
	"github.com/KodaTao/PluginKernel/pkg/prompt"
	"github.com/KodaTao/PluginKernel/pkg/retrieval"
	"github.com/KodaTao/PluginKernel/pkg/retrieval/azuresearch"
	"github.com/KodaTao/PluginKernel/pkg/storage"
	"github.com/KodaTao/PluginKernel/pkg/telegram"
)

// App PluginKernel 应用实例
// 这是整个框架的入口点
type App struct {
	config      *Config
	registry    *function.Registry
	generator   *prompt.Generator
	provider    llm.Provider
	searcher    retrieval.Searcher
	retriever   *retrieval.Retriever
	credential  azcore.TokenCredential
	db          *gorm.DB
	transcript  *conversation.TranscriptStore
	sessions    *SessionManager
	agent       *Agent
	sweeper     *Sweeper
	telegramBot *telegram.Bot
	registrars  []Registrar
	lights      *lights.Plugin
}

// New 创建新的 App 实例
func New(opts ...Option) *App {
	a := &App{
		config:   DefaultConfig(),
		registry: function.NewRegistry(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register 注册一个函数
func (a *App) Register(namespace string, descriptor function.Descriptor, impl function.Implementation) error {
	return a.registry.Register(namespace, descriptor, impl)
}

// Initialize 初始化应用
// 包括：日志、数据库、推理引擎、检索、插件、会话、Telegram Bot
func (a *App) Initialize(ctx context.Context) error {
	// 1. 初始化日志
	if err := observability.InitLogger(observability.LogConfig{
		Level:    a.config.Log.Level,
		Format:   a.config.Log.Format,
		Output:   a.config.Log.Output,
		FilePath: a.config.Log.FilePath,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := a.config.Validate(); err != nil {
		return err
	}

	observability.Info("Initializing PluginKernel",
		"server_port", a.config.Server.Port,
		"completion_provider", a.config.Completion.Provider,
		"deployment", a.config.Completion.Deployment,
	)

	// 2. 初始化数据库和对话记录
	db, err := storage.Open(storage.Config{Path: a.config.Database.Path})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.transcript = conversation.NewTranscriptStore(db)
	if err := a.transcript.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate transcripts: %w", err)
	}

	// 3. Azure AD 凭据（按需）
	if a.needsCredential() {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return fmt.Errorf("failed to create azure credential: %w", err)
		}
		a.credential = cred
		observability.Info("Azure default credential configured")
	}

	// 4. 初始化推理引擎
	if a.provider == nil {
		var opts []openai.Option
		if a.config.Completion.UseDefaultCredential {
			opts = append(opts, openai.WithCredential(a.credential))
		}
		provider, err := openai.NewProvider(a.config.Completion, opts...)
		if err != nil {
			return fmt.Errorf("failed to initialize completion provider: %w", err)
		}
		a.provider = provider
	}

	// 5. 初始化检索
	if a.searcher == nil && a.config.Search.Endpoint != "" {
		var opts []azuresearch.Option
		if a.config.Search.UseDefaultCredential {
			opts = append(opts, azuresearch.WithCredential(a.credential))
		}
		client, err := azuresearch.NewClient(a.config.Search, opts...)
		if err != nil {
			return fmt.Errorf("failed to initialize search client: %w", err)
		}
		a.searcher = client
	}
	if a.searcher != nil {
		retrievalConfig := a.config.Retrieval
		retrievalConfig.Index = a.config.Search.Index
		a.retriever = retrieval.NewRetriever(a.searcher, retrievalConfig)
		observability.Info("Retrieval enabled", "index", retrievalConfig.Index)
	}

	// 6. 注册插件
	if err := a.registerPlugins(); err != nil {
		return err
	}

	// 7. 提示词、会话和 Agent
	generator, err := prompt.NewGeneratorWithTemplate(a.config.Prompt.SystemTemplate)
	if err != nil {
		return err
	}
	a.generator = generator
	a.sessions = NewSessionManager(a.newLoop, a.config.Session.TTL)
	a.agent = NewAgent(a.sessions, a.transcript)

	// 8. Telegram Bot（可选）
	if a.config.Telegram.Enabled {
		if err := a.initTelegramBot(); err != nil {
			return fmt.Errorf("failed to initialize telegram bot: %w", err)
		}
	}

	// 9. 定期清理
	if err := a.startSweeper(); err != nil {
		return err
	}

	observability.Info("PluginKernel initialized",
		"registered_functions", a.registry.Count(),
		"namespaces", a.registry.Namespaces(),
	)
	return nil
}

func (a *App) needsCredential() bool {
	if a.credential != nil {
		return false
	}
	if a.provider == nil && a.config.Completion.UseDefaultCredential {
		return true
	}
	return a.searcher == nil && a.config.Search.Endpoint != "" && a.config.Search.UseDefaultCredential
}

// newLoop 为会话创建对话循环
func (a *App) newLoop(id string) (*conversation.Loop, error) {
	opts := []conversation.Option{
		conversation.WithID(id),
		conversation.WithConfig(a.config.Agent),
		conversation.WithTranscript(a.transcript),
		conversation.WithPromptGenerator(a.generator),
	}
	if a.retriever != nil {
		opts = append(opts, conversation.WithRetriever(a.retriever))
	}
	return conversation.NewLoop(a.provider, a.registry, opts...)
}

// registerPlugins 按配置注册内置插件和额外的函数
func (a *App) registerPlugins() error {
	enabled := a.config.Plugins.Enabled

	if slices.Contains(enabled, PluginMenu) {
		if err := menu.Register(a.registry); err != nil {
			return fmt.Errorf("failed to register menu plugin: %w", err)
		}
	}
	if slices.Contains(enabled, PluginLights) {
		a.lights = lights.New(lights.DefaultLights()...)
		if err := a.lights.Register(a.registry); err != nil {
			return fmt.Errorf("failed to register lights plugin: %w", err)
		}
	}
	if slices.Contains(enabled, PluginKnowledgeBase) {
		if a.retriever == nil {
			observability.Warn("Knowledge base plugin skipped, search is not configured")
		} else if err := knowledgebase.New(a.retriever).Register(a.registry); err != nil {
			return fmt.Errorf("failed to register knowledge base plugin: %w", err)
		}
	}

	for _, register := range a.registrars {
		if err := register(a.registry); err != nil {
			return fmt.Errorf("failed to register functions: %w", err)
		}
	}
	return nil
}

// initTelegramBot 初始化 Telegram Bot
func (a *App) initTelegramBot() error {
	bot, err := telegram.NewBot(telegram.Config{
		Enabled:           a.config.Telegram.Enabled,
		Token:             a.config.Telegram.Token,
		SessionTTL:        a.config.Telegram.SessionTTL,
		ShowFunctionCalls: a.config.Telegram.ShowFunctionCalls,
	}, a.agent, observability.DefaultLogger())
	if err != nil {
		return err
	}

	a.telegramBot = bot

	// 启动 Bot（异步接收消息）
	bot.Start()

	observability.Info("Telegram Bot started")
	return nil
}

// startSweeper 启动过期会话和 Telegram 映射的定期清理
func (a *App) startSweeper() error {
	spec := a.config.Session.SweepInterval
	if spec == "" {
		return nil
	}

	a.sweeper = NewSweeper(observability.DefaultLogger())
	if err := a.sweeper.Add("sessions", spec, a.sessions.CleanExpired); err != nil {
		return err
	}
	if a.telegramBot != nil {
		if err := a.sweeper.Add("telegram", spec, a.telegramBot.SessionStore().Cleanup); err != nil {
			return err
		}
	}
	a.sweeper.Start()
	return nil
}

// GetAgent 获取 Agent 实例
func (a *App) GetAgent() *Agent {
	return a.agent
}

// GetRegistry 获取函数注册表
func (a *App) GetRegistry() *function.Registry {
	return a.registry
}

// GetConfig 获取配置
func (a *App) GetConfig() *Config {
	return a.config
}

// GetProvider 获取推理引擎
func (a *App) GetProvider() llm.Provider {
	return a.provider
}

// GetRetriever 获取检索器，未配置检索时返回 nil
func (a *App) GetRetriever() *retrieval.Retriever {
	return a.retriever
}

// GetLights 获取灯光插件，未启用时返回 nil
func (a *App) GetLights() *lights.Plugin {
	return a.lights
}

// GetSweeper 获取清理器
func (a *App) GetSweeper() *Sweeper {
	return a.sweeper
}

// GetTelegramBot 获取 Telegram Bot 实例
func (a *App) GetTelegramBot() *telegram.Bot {
	return a.telegramBot
}

// Shutdown 关闭应用
func (a *App) Shutdown() error {
	observability.Info("Shutting down PluginKernel")

	// 停止 Telegram Bot
	if a.telegramBot != nil {
		a.telegramBot.Stop()
		observability.Info("Telegram Bot stopped")
	}

	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	// 关闭数据库
	if err := storage.Close(a.db); err != nil {
		observability.Error("Failed to close database", "error", err)
		return err
	}

	observability.Info("PluginKernel shutdown complete")
	return nil
}
