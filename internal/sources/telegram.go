package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// TelegramConfig configures the Telegram source.
type TelegramConfig struct {
	// Token is the bot token from @BotFather (required).
	Token string

	// AgentID is stamped into every conversation key this source produces.
	AgentID string

	// Logger is optional; slog.Default is used when nil.
	Logger *slog.Logger
}

func (c *TelegramConfig) validate() error {
	if c.Token == "" {
		return fmt.Errorf("telegram: token is required")
	}
	if c.AgentID == "" {
		c.AgentID = "default"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// botClient wraps the bot.Bot methods the source uses, so tests can inject a
// fake.
type botClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*tgmodels.ChatFullInfo, error)
	CreateForumTopic(ctx context.Context, params *bot.CreateForumTopicParams) (*tgmodels.ForumTopic, error)
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc, middlewares ...bot.Middleware) string
	Start(ctx context.Context)
}

// Telegram adapts a Telegram bot to the Source contract. Forum topics map to
// conversation threads; the general chat maps to thread 0.
type Telegram struct {
	config  TelegramConfig
	client  botClient
	prompts chan *models.Prompt
	logger  *slog.Logger
}

// NewTelegram creates a Telegram source. It does not connect until Prompts
// is called.
func NewTelegram(config TelegramConfig) (*Telegram, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	b, err := bot.New(config.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return newTelegram(config, b), nil
}

func newTelegram(config TelegramConfig, client botClient) *Telegram {
	return &Telegram{
		config:  config,
		client:  client,
		prompts: make(chan *models.Prompt, 100),
		logger:  config.Logger.With("source", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Prompts starts long polling and returns the inbound prompt stream.
func (t *Telegram) Prompts(ctx context.Context) (<-chan *models.Prompt, error) {
	t.client.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, t.handleUpdate)
	go func() {
		defer close(t.prompts)
		t.client.Start(ctx)
	}()
	t.logger.Info("telegram source started")
	return t.prompts, nil
}

func (t *Telegram) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message
	prompt := &models.Prompt{
		Key: models.ConversationKey{
			AgentID:  t.config.AgentID,
			ChatID:   msg.Chat.ID,
			ThreadID: msg.MessageThreadID,
		},
		MessageID: int64(msg.ID),
		Text:      msg.Text,
	}
	if msg.From != nil {
		prompt.Sender = msg.From.Username
	}

	select {
	case t.prompts <- prompt:
	case <-ctx.Done():
	default:
		t.logger.Warn("prompt buffer full, dropping message", "chat_id", msg.Chat.ID)
	}
}

// Deliver sends one update's text back into the originating chat/thread.
// Terminal markers with no text are not sent.
func (t *Telegram) Deliver(ctx context.Context, update *models.Update) error {
	if update.Text == "" {
		return nil
	}
	_, err := t.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          update.Key.ChatID,
		MessageThreadID: update.Key.ThreadID,
		Text:            update.Text,
	})
	if err != nil {
		return fmt.Errorf("telegram: send to %s: %w", update.Key, err)
	}
	return nil
}

// ThreadExists checks whether the chat behind key is still reachable. Only a
// definitive API answer (chat deleted, migrated, or the bot removed from it)
// reports the thread as gone; transport failures come back as errors so
// callers do not mistake an outage for a deleted conversation.
func (t *Telegram) ThreadExists(ctx context.Context, key models.ConversationKey) (bool, error) {
	_, err := t.client.GetChat(ctx, &bot.GetChatParams{ChatID: key.ChatID})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bot.ErrorNotFound),
		errors.Is(err, bot.ErrorBadRequest),
		errors.Is(err, bot.ErrorForbidden):
		t.logger.Debug("chat gone", "key", key.String(), "error", err)
		return false, nil
	default:
		return false, fmt.Errorf("telegram: check chat %d: %w", key.ChatID, err)
	}
}

// CreateThread creates a forum topic for the key's thread. Thread 0 is the
// general chat and needs no topic.
func (t *Telegram) CreateThread(ctx context.Context, key models.ConversationKey, title string) error {
	if key.ThreadID == 0 {
		return nil
	}
	if title == "" {
		title = fmt.Sprintf("Conversation %d", key.ThreadID)
	}
	_, err := t.client.CreateForumTopic(ctx, &bot.CreateForumTopicParams{
		ChatID: key.ChatID,
		Name:   title,
	})
	if err != nil {
		return fmt.Errorf("telegram: create topic for %s: %w", key, err)
	}
	return nil
}
