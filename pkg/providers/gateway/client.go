// Package gateway talks to the application backend: chat completion
// streaming, speech synthesis, and STT session tokens.
package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hearthware/sous/pkg/convo"
	"github.com/hearthware/sous/pkg/logging"
	"github.com/hearthware/sous/pkg/resilience"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryPolicy
	log        *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Client) { g.httpClient = c }
}

func WithAPIKey(key string) Option {
	return func(g *Client) { g.apiKey = key }
}

// WithCircuitBreaker overrides the default rate-limit breaker.
func WithCircuitBreaker(b *resilience.CircuitBreaker) Option {
	return func(g *Client) { g.breaker = b }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker:    resilience.NewCircuitBreaker(3, 30*time.Second),
		retry:      resilience.NewRetryPolicy(1, 200*time.Millisecond),
		log:        logging.NewComponentLogger(nil, "gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) postJSON(req *http.Request) (*http.Response, error) {
	c.applyHeaders(req)
	return c.httpClient.Do(req)
}

// chatMessage is the wire shape of one conversation entry.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type recipePayload struct {
	MealName    string   `json:"mealName"`
	Steps       []string `json:"steps"`
	Ingredients []string `json:"ingredients"`
	CurrentStep int      `json:"currentStep"`
}

func encodeChatRequest(messages []convo.Message, recipe convo.RecipeContext) (*bytes.Buffer, error) {
	wire := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if m.Interrupted {
			content += " [user interrupted this response]"
		}
		wire = append(wire, chatMessage{Role: string(m.Role), Content: content})
	}
	body := map[string]any{
		"messages": wire,
		"recipeContext": recipePayload{
			MealName:    recipe.MealName,
			Steps:       recipe.Steps,
			Ingredients: recipe.Ingredients,
			CurrentStep: recipe.CurrentStep,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

func drainBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return string(body)
}
