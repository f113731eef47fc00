package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/KodaTao/PluginKernel/pkg/types"
)

// helpText /start 和 /help 的回复
const helpText = "Send me a message and I will answer it, calling plugin functions when needed.\n" +
	"Reply to one of my messages to continue that conversation; a new message starts a new one."

// Bot Telegram Bot 封装
type Bot struct {
	api          *tgbotapi.BotAPI
	config       Config
	sessionStore *SessionStore
	sender       *Sender
	agent        types.Agent
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBot 创建 Telegram Bot
func NewBot(config Config, agent types.Agent, logger *slog.Logger) (*Bot, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPI(config.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	me, err := api.GetMe()
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	bot := &Bot{
		api:          api,
		config:       config,
		sessionStore: NewSessionStore(config.SessionTTL),
		agent:        agent,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
	bot.sender = NewSender(api, logger)

	logger.Info("telegram bot created",
		"username", me.UserName,
	)

	return bot, nil
}

// Start 启动 Bot，开始接收消息
func (b *Bot) Start() {
	b.logger.Info("starting telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-b.ctx.Done():
				b.logger.Info("telegram bot stopped")
				return
			case update := <-updates:
				if update.Message != nil {
					if update.Message.Chat.IsGroup() || update.Message.Chat.IsChannel() {
						// 群聊必须@才生效
						if !strings.Contains(update.Message.Text, "@"+b.api.Self.UserName+" ") {
							continue
						}
					}
					go b.handleMessage(update.Message)
				}
			}
		}
	}()

	b.logger.Info("telegram bot started")
}

// Stop 停止 Bot
func (b *Bot) Stop() {
	b.logger.Info("stopping telegram bot")
	b.cancel()
	b.api.StopReceivingUpdates()
}

// handleMessage 处理收到的消息
func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	// 忽略非文本消息
	if msg.Text == "" {
		return
	}

	chatID := msg.Chat.ID
	userMsgID := msg.MessageID

	if msg.IsCommand() {
		switch msg.Command() {
		case "start", "help":
			_, _ = b.sender.SendReply(chatID, userMsgID, helpText)
		}
		return
	}

	b.logger.Info("received message",
		"chat_id", chatID,
		"message_id", userMsgID,
		"from", msg.From.UserName,
		"text", truncateText(msg.Text, 50),
	)

	// 确定 session ID
	var sessionID string
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From.ID == b.api.Self.ID {
		// 用户 reply 了 Bot 的消息，查找对应的 session
		replyToMsgID := msg.ReplyToMessage.MessageID
		sessionID = b.sessionStore.Get(chatID, replyToMsgID)
		if sessionID == "" {
			b.logger.Debug("session not found for reply, creating new session",
				"chat_id", chatID,
				"reply_to", replyToMsgID,
			)
			sessionID = GenerateSessionID(chatID)
		} else {
			b.logger.Debug("found session from reply",
				"chat_id", chatID,
				"session_id", sessionID,
				"reply_to", replyToMsgID,
			)
		}
	} else {
		// 新消息，创建新 session
		sessionID = GenerateSessionID(chatID)
		b.logger.Debug("new message, creating new session",
			"chat_id", chatID,
			"session_id", sessionID,
		)
	}

	// 群聊中去掉 @bot 前缀
	text := strings.TrimSpace(strings.ReplaceAll(msg.Text, "@"+b.api.Self.UserName, ""))

	req := types.ChatRequest{
		SessionID: sessionID,
		Message:   text,
		Channel: &types.ChannelContext{
			Type:   "telegram",
			ChatID: strconv.FormatInt(chatID, 10),
		},
	}

	resp, err := b.agent.Chat(b.ctx, req)
	if err != nil {
		b.logger.Error("agent chat failed",
			"chat_id", chatID,
			"session_id", sessionID,
			"error", err,
		)
		// 发送错误提示给用户
		_, _ = b.sender.SendReply(chatID, userMsgID, "Sorry, something went wrong while handling your message. Please try again later.")
		return
	}

	// 发送回复（reply 用户的消息）
	botMsgID, err := b.sender.SendReply(chatID, userMsgID, formatReply(resp, b.config.ShowFunctionCalls))
	if err != nil {
		b.logger.Error("failed to send reply",
			"chat_id", chatID,
			"error", err,
		)
		return
	}

	// 记录映射：bot 消息 ID -> session ID
	b.sessionStore.Set(chatID, botMsgID, resp.SessionID)

	b.logger.Info("message handled",
		"chat_id", chatID,
		"session_id", resp.SessionID,
		"user_msg_id", userMsgID,
		"bot_msg_id", botMsgID,
		"hops", resp.Hops,
		"function_calls", len(resp.FunctionCalls),
	)

	// 同时记录用户消息 ID 的映射（方便调试和某些场景）
	b.sessionStore.Set(chatID, userMsgID, resp.SessionID)
}

// SessionStore 返回消息到会话的映射，供定期清理使用
func (b *Bot) SessionStore() *SessionStore {
	return b.sessionStore
}

// formatReply 生成发送给用户的文本，可选附上函数调用摘要
func formatReply(resp *types.ChatResponse, showCalls bool) string {
	if !showCalls || len(resp.FunctionCalls) == 0 {
		return resp.Reply
	}

	var sb strings.Builder
	sb.WriteString(resp.Reply)
	sb.WriteString("\n\n🔧 Functions called:")
	for _, call := range resp.FunctionCalls {
		mark := "✅"
		if call.Status != "success" {
			mark = "❌"
		}
		fmt.Fprintf(&sb, "\n%s %s %s", mark, call.Name, truncateText(call.Arguments, 80))
	}
	return sb.String()
}

// truncateText 截断文本（用于日志）
func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
