package sources

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/switchboard/pkg/models"
)

// Console is a line-oriented source for local development: each stdin line
// becomes a prompt in a single fixed conversation, and updates print to
// stdout.
type Console struct {
	agentID string
	in      io.Reader
	out     io.Writer
	outMu   sync.Mutex
	nextID  atomic.Int64
}

// NewConsole creates a console source reading prompts from in and writing
// updates to out.
func NewConsole(agentID string, in io.Reader, out io.Writer) *Console {
	return &Console{agentID: agentID, in: in, out: out}
}

func (c *Console) Name() string { return "console" }

func (c *Console) key() models.ConversationKey {
	return models.ConversationKey{AgentID: c.agentID, ChatID: 1, ThreadID: 1}
}

func (c *Console) Prompts(ctx context.Context) (<-chan *models.Prompt, error) {
	ch := make(chan *models.Prompt)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			prompt := &models.Prompt{
				Key:       c.key(),
				MessageID: c.nextID.Add(1),
				Sender:    "console",
				Text:      text,
			}
			select {
			case ch <- prompt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Console) Deliver(ctx context.Context, update *models.Update) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if update.Text != "" {
		fmt.Fprint(c.out, update.Text)
	}
	if update.Done {
		fmt.Fprintln(c.out)
	}
	return nil
}

func (c *Console) ThreadExists(ctx context.Context, key models.ConversationKey) (bool, error) {
	return true, nil
}

func (c *Console) CreateThread(ctx context.Context, key models.ConversationKey, title string) error {
	return nil
}
