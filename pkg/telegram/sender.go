package telegram

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxMessageLength Telegram 单条消息的字符上限
const maxMessageLength = 4096

// Sender 消息发送器
// 封装 Telegram Bot API 的消息发送功能
type Sender struct {
	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewSender 创建消息发送器
func NewSender(bot *tgbotapi.BotAPI, logger *slog.Logger) *Sender {
	return &Sender{
		bot:    bot,
		logger: logger,
	}
}

// SendReply 发送回复消息（reply 指定的消息）
// 超长文本分多条发送，返回最后一条消息的 ID
func (s *Sender) SendReply(chatID int64, replyToMsgID int, text string) (int, error) {
	var lastID int
	for _, part := range splitMessage(text, maxMessageLength) {
		id, err := s.send(chatID, replyToMsgID, part)
		if err != nil {
			return lastID, err
		}
		lastID = id
	}
	return lastID, nil
}

func (s *Sender) send(chatID int64, replyToMsgID int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToMsgID
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	sent, err := s.bot.Send(msg)
	if err != nil {
		// 如果 Markdown 解析失败，尝试以纯文本发送
		s.logger.Warn("failed to send markdown message, retrying as plain text",
			"chat_id", chatID,
			"error", err,
		)
		msg.ParseMode = ""
		sent, err = s.bot.Send(msg)
		if err != nil {
			s.logger.Error("failed to send message",
				"chat_id", chatID,
				"error", err,
			)
			return 0, fmt.Errorf("failed to send message: %w", err)
		}
	}

	s.logger.Debug("message sent",
		"chat_id", chatID,
		"message_id", sent.MessageID,
		"reply_to", replyToMsgID,
	)

	return sent.MessageID, nil
}

// splitMessage 按字符数切分文本，尽量在换行处断开
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		if i := strings.LastIndex(string(runes[:limit]), "\n"); i > 0 {
			cut = len([]rune(string(runes[:limit])[:i])) + 1
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
