package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hearthware/sous/pkg/convo"
	"github.com/hearthware/sous/pkg/errorsx"
	"github.com/hearthware/sous/pkg/resilience"
)

// chatFrame is one SSE payload from the chat endpoint. Exactly one field is
// set per frame.
type chatFrame struct {
	Token string `json:"token,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// StreamChat opens a streaming chat completion and sends raw tokens on the
// returned channel. The channel closes when the server signals done, the
// stream errors, or ctx is cancelled.
func (c *Client) StreamChat(ctx context.Context, messages []convo.Message, recipe convo.RecipeContext) (<-chan string, <-chan error, error) {
	if !c.breaker.Allow() {
		return nil, nil, resilience.RateLimitError{Provider: "gateway", Message: "circuit open"}
	}
	body, err := encodeChatRequest(messages, recipe)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/voice/chat", body)
	if err != nil {
		return nil, nil, err
	}
	resp, err := c.postJSON(req)
	if err != nil {
		return nil, nil, errorsx.Wrap(err, errorsx.ReasonChatStream)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		msg := drainBody(resp)
		resp.Body.Close()
		rlErr := resilience.RateLimitError{Provider: "gateway", Message: msg}
		c.breaker.OnError(rlErr)
		return nil, nil, rlErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := drainBody(resp)
		resp.Body.Close()
		return nil, nil, errorsx.Wrap(errors.New(msg), errorsx.ReasonChatStream)
	}
	c.breaker.OnSuccess()

	tokens := make(chan string, 128)
	errc := make(chan error, 1)
	go func() {
		defer resp.Body.Close()
		defer close(tokens)
		defer close(errc)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				return
			}
			var frame chatFrame
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				c.log.Debug("malformed chat frame skipped", "data", data)
				continue
			}
			switch {
			case frame.Error != "":
				errc <- errorsx.Wrap(errors.New(frame.Error), errorsx.ReasonChatFrame)
				return
			case frame.Done:
				return
			case frame.Token != "":
				select {
				case <-ctx.Done():
					return
				case tokens <- frame.Token:
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errc <- errorsx.Wrap(err, errorsx.ReasonChatStream)
		}
	}()
	return tokens, errc, nil
}
