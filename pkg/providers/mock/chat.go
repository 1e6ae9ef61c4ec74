package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hearthware/sous/pkg/convo"
)

type ChatConfig struct {
	// Tokens emitted per request, in order. When Script is non-empty each
	// call consumes the next entry instead.
	Tokens []string
	Script [][]string
	// TokenDelay spaces out token delivery.
	TokenDelay time.Duration
	// Err terminates the stream after the tokens.
	Err error
}

// Chat is a scripted chat-completion streamer.
type Chat struct {
	cfg ChatConfig

	mu    sync.Mutex
	calls int
}

func NewChat(cfg ChatConfig) *Chat {
	return &Chat{cfg: cfg}
}

func (c *Chat) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Chat) StreamChat(ctx context.Context, _ []convo.Message, _ convo.RecipeContext) (<-chan string, <-chan error, error) {
	c.mu.Lock()
	tokens := c.cfg.Tokens
	if len(c.cfg.Script) > 0 {
		idx := c.calls
		if idx >= len(c.cfg.Script) {
			idx = len(c.cfg.Script) - 1
		}
		tokens = c.cfg.Script[idx]
	}
	c.calls++
	c.mu.Unlock()

	out := make(chan string, len(tokens))
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, tok := range tokens {
			if c.cfg.TokenDelay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.cfg.TokenDelay):
				}
			}
			select {
			case <-ctx.Done():
				return
			case out <- tok:
			}
		}
		if c.cfg.Err != nil {
			errc <- c.cfg.Err
		}
	}()
	return out, errc, nil
}
