package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hearthware/sous/pkg/adapters/tts"
	"github.com/hearthware/sous/pkg/errorsx"
	"github.com/hearthware/sous/pkg/resilience"
)

// Synthesize requests a complete audio clip for text. Transient failures
// are retried once before the caller falls back to its apology path.
func (c *Client) Synthesize(ctx context.Context, text string, cfg tts.Config) ([]byte, error) {
	var audio []byte
	err := c.retry.Do(func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var attemptErr error
		audio, attemptErr = c.synthesizeOnce(ctx, text, cfg)
		return attemptErr
	})
	return audio, err
}

func (c *Client) synthesizeOnce(ctx context.Context, text string, cfg tts.Config) ([]byte, error) {
	payload := map[string]any{
		"text":  text,
		"voice": cfg.Voice,
		"speed": cfg.Speed,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/voice/tts", bytes.NewBuffer(b))
	if err != nil {
		return nil, err
	}
	resp, err := c.postJSON(req)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSSynth)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.RateLimitError{Provider: "gateway", Message: drainBody(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorsx.Wrap(errors.New(drainBody(resp)), errorsx.ReasonTTSSynth)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonTTSSynth)
	}
	if len(audio) == 0 {
		return nil, errorsx.Wrap(errors.New("empty synthesis response"), errorsx.ReasonTTSSynth)
	}
	return audio, nil
}

// audioFrame is one SSE payload from the streaming synthesis endpoint.
type audioFrame struct {
	Audio string `json:"audio,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// SynthesizeStream requests streamed synthesis and calls emit with each
// decoded audio fragment in order. emit returning an error aborts the
// stream.
func (c *Client) SynthesizeStream(ctx context.Context, text string, cfg tts.Config, emit func(chunk []byte) error) error {
	payload := map[string]any{
		"text":   text,
		"voice":  cfg.Voice,
		"speed":  cfg.Speed,
		"format": "pcm",
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/voice/tts/stream", bytes.NewBuffer(b))
	if err != nil {
		return err
	}
	resp, err := c.postJSON(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTTSStream)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return resilience.RateLimitError{Provider: "gateway", Message: drainBody(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorsx.Wrap(errors.New(drainBody(resp)), errorsx.ReasonTTSStream)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			return nil
		}
		var frame audioFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			c.log.Debug("malformed audio frame skipped", "len", len(data))
			continue
		}
		switch {
		case frame.Error != "":
			return errorsx.Wrap(errors.New(frame.Error), errorsx.ReasonTTSStream)
		case frame.Done:
			return nil
		case frame.Audio != "":
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				c.log.Debug("undecodable audio fragment skipped", "err", err)
				continue
			}
			if err := emit(chunk); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return errorsx.Wrap(err, errorsx.ReasonTTSStream)
	}
	return ctx.Err()
}

// Name identifies the gateway as a synthesizer for logs and cache keys.
func (c *Client) Name() string { return "gateway" }

var _ tts.StreamSynthesizer = (*Client)(nil)
