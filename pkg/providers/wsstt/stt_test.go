package wsstt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthware/sous/pkg/frames"
)

func TestStreamingSTTParsesResults(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token tok_abc" {
			t.Errorf("missing token header, got %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SpeechStarted"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","channel":{"alternatives":[{"transcript":"set a timer"}]},"is_final":false}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","channel":{"alternatives":[{"transcript":"set a timer for ten minutes"}]},"is_final":true,"speech_final":true}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"UtteranceEnd"}`))
		// hold the socket open until the client hangs up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := New(Config{
		WSURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:     "tok_abc",
		SessionID: "sess-1",
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	var got []frames.Frame
	deadline := time.After(2 * time.Second)
	for len(got) < 5 {
		select {
		case f := <-s.Results():
			got = append(got, f)
		case <-deadline:
			t.Fatalf("timed out with %d frames", len(got))
		}
	}

	if cf, ok := got[0].(frames.ControlFrame); !ok || cf.Code() != frames.ControlSpeechStarted {
		t.Fatalf("expected speech started first, got %#v", got[0])
	}
	interim, ok := got[1].(frames.TextFrame)
	if !ok || interim.Meta()[frames.MetaIsFinal] != "false" {
		t.Fatalf("expected interim transcript, got %#v", got[1])
	}
	final, ok := got[2].(frames.TextFrame)
	if !ok || final.Text() != "set a timer for ten minutes" || final.Meta()[frames.MetaIsFinal] != "true" {
		t.Fatalf("expected final transcript, got %#v", got[2])
	}
	if cf, ok := got[3].(frames.ControlFrame); !ok || cf.Code() != frames.ControlUtteranceEnd {
		t.Fatalf("expected utterance end after speech final, got %#v", got[3])
	}
}

func TestStartFailsOnBadURL(t *testing.T) {
	s := New(Config{WSURL: "ws://127.0.0.1:1/nope", Token: "t"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected dial failure")
	}
}
