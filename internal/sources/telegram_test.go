package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// fakeBotClient records calls instead of talking to Telegram.
type fakeBotClient struct {
	mu            sync.Mutex
	sent          []*bot.SendMessageParams
	topics        []*bot.CreateForumTopicParams
	getChatErr    error
	handler       bot.HandlerFunc
	started       chan struct{}
	blockOnceOpen sync.Once
}

func newFakeBotClient() *fakeBotClient {
	return &fakeBotClient{started: make(chan struct{})}
}

func (f *fakeBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params)
	return &tgmodels.Message{ID: len(f.sent)}, nil
}

func (f *fakeBotClient) GetChat(ctx context.Context, params *bot.GetChatParams) (*tgmodels.ChatFullInfo, error) {
	if f.getChatErr != nil {
		return nil, f.getChatErr
	}
	return &tgmodels.ChatFullInfo{}, nil
}

func (f *fakeBotClient) CreateForumTopic(ctx context.Context, params *bot.CreateForumTopicParams) (*tgmodels.ForumTopic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, params)
	return &tgmodels.ForumTopic{}, nil
}

func (f *fakeBotClient) RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc, middlewares ...bot.Middleware) string {
	f.handler = handler
	return ""
}

func (f *fakeBotClient) Start(ctx context.Context) {
	f.blockOnceOpen.Do(func() { close(f.started) })
	<-ctx.Done()
}

func newTestTelegram(t *testing.T) (*Telegram, *fakeBotClient) {
	t.Helper()
	client := newFakeBotClient()
	src := newTelegram(TelegramConfig{Token: "test-token", AgentID: "agent", Logger: slog.Default()}, client)
	return src, client
}

func TestTelegram_InboundMessageBecomesPrompt(t *testing.T) {
	src, client := newTestTelegram(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prompts, err := src.Prompts(ctx)
	if err != nil {
		t.Fatalf("Prompts: %v", err)
	}
	<-client.started

	client.handler(ctx, nil, &tgmodels.Update{
		Message: &tgmodels.Message{
			ID:              17,
			Text:            "hello",
			MessageThreadID: 3,
			Chat:            tgmodels.Chat{ID: 99},
			From:            &tgmodels.User{Username: "alice"},
		},
	})

	prompt := <-prompts
	want := models.ConversationKey{AgentID: "agent", ChatID: 99, ThreadID: 3}
	if prompt.Key != want {
		t.Errorf("prompt key = %+v, want %+v", prompt.Key, want)
	}
	if prompt.Text != "hello" || prompt.Sender != "alice" || prompt.MessageID != 17 {
		t.Errorf("prompt = %+v", prompt)
	}
}

func TestTelegram_IgnoresNonTextUpdates(t *testing.T) {
	src, client := newTestTelegram(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prompts, err := src.Prompts(ctx)
	if err != nil {
		t.Fatalf("Prompts: %v", err)
	}
	<-client.started

	client.handler(ctx, nil, &tgmodels.Update{})
	client.handler(ctx, nil, &tgmodels.Update{Message: &tgmodels.Message{Chat: tgmodels.Chat{ID: 1}}})

	select {
	case p := <-prompts:
		t.Fatalf("unexpected prompt %+v", p)
	default:
	}
}

func TestTelegram_DeliverRoutesToThread(t *testing.T) {
	src, client := newTestTelegram(t)
	key := models.ConversationKey{AgentID: "agent", ChatID: 42, ThreadID: 7}

	err := src.Deliver(context.Background(), &models.Update{Key: key, Text: "answer"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(client.sent))
	}
	params := client.sent[0]
	if params.ChatID != int64(42) || params.MessageThreadID != 7 || params.Text != "answer" {
		t.Errorf("send params = %+v", params)
	}

	// Terminal markers without text are not sent.
	if err := src.Deliver(context.Background(), &models.Update{Key: key, Done: true}); err != nil {
		t.Fatalf("Deliver done marker: %v", err)
	}
	if len(client.sent) != 1 {
		t.Errorf("done marker was sent as a message")
	}
}

func TestTelegram_ThreadExists(t *testing.T) {
	src, client := newTestTelegram(t)
	key := models.ConversationKey{AgentID: "agent", ChatID: 42, ThreadID: 7}

	ok, err := src.ThreadExists(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("ThreadExists = %v, %v; want true, nil", ok, err)
	}

	// A definitive not-found from the API means the chat is gone.
	client.getChatErr = fmt.Errorf("getChat: %w", bot.ErrorNotFound)
	ok, err = src.ThreadExists(context.Background(), key)
	if err != nil || ok {
		t.Fatalf("ThreadExists after chat gone = %v, %v; want false, nil", ok, err)
	}

	client.getChatErr = fmt.Errorf("getChat: %w", bot.ErrorForbidden)
	ok, err = src.ThreadExists(context.Background(), key)
	if err != nil || ok {
		t.Fatalf("ThreadExists after bot removed = %v, %v; want false, nil", ok, err)
	}
}

func TestTelegram_ThreadExistsTransientErrorIsNotGone(t *testing.T) {
	src, client := newTestTelegram(t)
	key := models.ConversationKey{AgentID: "agent", ChatID: 42, ThreadID: 7}

	// A timeout or network blip must surface as an error, never as
	// "thread deleted".
	client.getChatErr = context.DeadlineExceeded
	ok, err := src.ThreadExists(context.Background(), key)
	if err == nil {
		t.Fatal("transient GetChat failure reported no error")
	}
	if ok {
		t.Fatalf("ThreadExists = true on a failed check")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want wrapped deadline error", err)
	}
}

func TestTelegram_CreateThread(t *testing.T) {
	src, client := newTestTelegram(t)

	// Thread 0 is the general chat, no topic needed.
	err := src.CreateThread(context.Background(), models.ConversationKey{ChatID: 42}, "")
	if err != nil {
		t.Fatalf("CreateThread general: %v", err)
	}
	if len(client.topics) != 0 {
		t.Fatalf("topic created for general chat")
	}

	key := models.ConversationKey{AgentID: "agent", ChatID: 42, ThreadID: 7}
	if err := src.CreateThread(context.Background(), key, "Research"); err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if len(client.topics) != 1 || client.topics[0].Name != "Research" {
		t.Fatalf("topics = %+v", client.topics)
	}
}
