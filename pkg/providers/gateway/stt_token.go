package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hearthware/sous/pkg/errorsx"
)

// STTSession is the credential set for opening a realtime recognition
// socket.
type STTSession struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
	WSURL    string `json:"ws_url"`
}

// STTSessionToken fetches credentials for the realtime STT socket.
func (c *Client) STTSessionToken(ctx context.Context, language string) (STTSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/voice/stt/token",
		strings.NewReader(`{"language":"`+language+`"}`))
	if err != nil {
		return STTSession{}, err
	}
	resp, err := c.postJSON(req)
	if err != nil {
		return STTSession{}, errorsx.Wrap(err, errorsx.ReasonSTTToken)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return STTSession{}, errorsx.Wrap(errors.New(drainBody(resp)), errorsx.ReasonSTTToken)
	}
	var sess STTSession
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return STTSession{}, errorsx.Wrap(err, errorsx.ReasonSTTToken)
	}
	if sess.Token == "" || sess.WSURL == "" {
		return STTSession{}, errorsx.Wrap(errors.New("incomplete stt session token"), errorsx.ReasonSTTToken)
	}
	return sess, nil
}
