// Package wsstt implements realtime speech recognition over a raw
// token-authenticated websocket, for deployments where the backend brokers
// the STT session instead of handing out a vendor API key.
package wsstt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthware/sous/pkg/adapters/stt"
	"github.com/hearthware/sous/pkg/errorsx"
	"github.com/hearthware/sous/pkg/frames"
	"github.com/hearthware/sous/pkg/logging"
)

type Config struct {
	WSURL     string
	Token     string
	SessionID string
	Language  string
}

// StreamingSTT speaks the brokered realtime protocol: binary PCM up, JSON
// result frames down.
type StreamingSTT struct {
	cfg    Config
	out    chan frames.Frame
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

func New(cfg Config) *StreamingSTT {
	return &StreamingSTT{
		cfg:    cfg,
		out:    make(chan frames.Frame, 256),
		logger: logging.NewComponentLogger(slog.Default(), "wsstt"),
	}
}

func (s *StreamingSTT) Name() string { return "ws_streaming" }

// resultFrame covers every JSON message the socket sends.
type resultFrame struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	headers := make(http.Header)
	headers.Set("Authorization", "Token "+s.cfg.Token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WSURL, headers)
	if err != nil {
		cancel()
		if resp != nil {
			resp.Body.Close()
			return errorsx.Wrap(fmt.Errorf("dial %s: status %d: %w", s.cfg.WSURL, resp.StatusCode, err), errorsx.ReasonSTTConnect)
		}
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("stt socket connected",
		slog.String("session_id", s.cfg.SessionID),
		slog.String("url", s.cfg.WSURL))

	go s.readLoop(ctx, conn)
	return nil
}

func (s *StreamingSTT) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(s.out)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("stt socket read failed",
					slog.String("session_id", s.cfg.SessionID),
					slog.String("error", err.Error()))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var rf resultFrame
		if err := json.Unmarshal(data, &rf); err != nil {
			s.logger.Debug("malformed stt frame skipped", slog.Int("len", len(data)))
			continue
		}
		s.dispatch(rf)
	}
}

func (s *StreamingSTT) dispatch(rf resultFrame) {
	now := time.Now().UnixNano()
	switch rf.Type {
	case "Results":
		if len(rf.Channel.Alternatives) == 0 {
			return
		}
		transcript := rf.Channel.Alternatives[0].Transcript
		if transcript == "" {
			return
		}
		meta := map[string]string{frames.MetaSource: "stt"}
		if rf.IsFinal || rf.SpeechFinal {
			meta[frames.MetaIsFinal] = "true"
		} else {
			meta[frames.MetaIsFinal] = "false"
		}
		s.emit(frames.NewTextFrame(s.cfg.SessionID, now, transcript, meta))
		if rf.SpeechFinal {
			s.emit(frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlUtteranceEnd, map[string]string{
				frames.MetaSource: "stt",
				frames.MetaReason: "speech_final",
			}))
		}
	case "SpeechStarted":
		s.emit(frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlSpeechStarted, map[string]string{
			frames.MetaSource: "stt",
		}))
	case "UtteranceEnd":
		s.emit(frames.NewControlFrame(s.cfg.SessionID, now, frames.ControlUtteranceEnd, map[string]string{
			frames.MetaSource: "stt",
			frames.MetaReason: "utterance_end",
		}))
	}
}

func (s *StreamingSTT) emit(f frames.Frame) {
	select {
	case s.out <- f:
	default:
		s.logger.Warn("stt out channel full",
			slog.String("session_id", s.cfg.SessionID))
	}
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not started")
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame.RawPayload()); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		return conn.Close()
	}
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
