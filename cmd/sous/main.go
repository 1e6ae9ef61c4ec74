package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/hearthware/sous/pkg/adapters/stt"
	"github.com/hearthware/sous/pkg/audiolock"
	"github.com/hearthware/sous/pkg/audioio"
	"github.com/hearthware/sous/pkg/config"
	"github.com/hearthware/sous/pkg/convo"
	"github.com/hearthware/sous/pkg/llmclient"
	"github.com/hearthware/sous/pkg/logging"
	"github.com/hearthware/sous/pkg/metrics"
	"github.com/hearthware/sous/pkg/mutestore"
	"github.com/hearthware/sous/pkg/observers"
	"github.com/hearthware/sous/pkg/playback"
	"github.com/hearthware/sous/pkg/providers/deepgram"
	"github.com/hearthware/sous/pkg/providers/gateway"
	"github.com/hearthware/sous/pkg/providers/localstt"
	"github.com/hearthware/sous/pkg/providers/wsstt"
	"github.com/hearthware/sous/pkg/runner"
	"github.com/hearthware/sous/pkg/session"
	"github.com/hearthware/sous/pkg/sttclient"
	"github.com/hearthware/sous/pkg/timers"
	"github.com/hearthware/sous/pkg/wakeword"
)

func main() {
	configPath := flag.String("config", "config/sous.yaml", "path to config file")
	recipePath := flag.String("recipe", "recipe.json", "path to recipe file")
	flag.Parse()

	// Optional .env for local development; viper reads the expanded vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	recipe, err := loadRecipe(*recipePath)
	if err != nil {
		logger.Error("recipe load failed", "path", *recipePath, "error", err)
		os.Exit(1)
	}

	app, err := buildApp(cfg, recipe, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := runner.SignalContext(context.Background())
	defer stop()

	life := runner.NewLifecycleRunner(app, runner.Hooks{
		OnStart: func() { app.start(ctx) },
		OnStop:  func() { logger.Info("shutdown complete") },
	}, 10*time.Second)

	if err := life.Run(ctx); err != nil {
		logger.Error("run ended with error", "error", err)
		os.Exit(1)
	}
}

// app owns one live session at a time. With wake word enabled sessions
// begin on detection; otherwise one session starts immediately.
type app struct {
	cfg    config.Config
	recipe convo.RecipeContext
	log    *slog.Logger

	gw       *gateway.Client
	lock     *audiolock.Lock
	mute     *mutestore.Store
	sink     *audioio.OtoSink
	observer metrics.Observer
	wake     *wakeword.Listener

	mu   sync.Mutex
	orch *session.Orchestrator
}

func buildApp(cfg config.Config, recipe convo.RecipeContext, logger *slog.Logger) (*app, error) {
	gw := gateway.NewClient(cfg.Gateway.BaseURL, gateway.WithAPIKey(cfg.Gateway.APIKey))
	sink, err := audioio.NewOtoSink(audioio.SinkConfig{
		SampleRate: cfg.Audio.OutputSampleRate,
	}, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		recipe: recipe,
		log:    logger,
		gw:     gw,
		lock:   audiolock.New(),
		mute:   mutestore.Open(cfg.Audio.MutePath),
		sink:   sink,
		observer: metrics.NewAsyncObserver(observers.NewMultiObserver(
			observers.NewLatencyObserver(logger),
			observers.NewLoggerObserver(logger),
		), 256),
	}

	a.mute.Subscribe(func(muted bool) {
		logger.Info("mute changed", "muted", muted)
	})

	if cfg.Wake.Enabled {
		a.wake = wakeword.New(wakeword.Config{
			Spotter: wakeword.SpotterConfig{
				KeywordModel:   cfg.Wake.KeywordModel,
				MelspecModel:   cfg.Wake.MelspecModel,
				EmbeddingModel: cfg.Wake.EmbeddingModel,
				OnnxLib:        cfg.Wake.OnnxLib,
				Threshold:      float32(cfg.Wake.Threshold),
			},
			Cooldown: time.Duration(cfg.Wake.CooldownMS) * time.Millisecond,
			Variants: cfg.Wake.PhraseVariants,
		}, audioio.NewCapture(audioio.CaptureConfig{
			SampleRate: uint32(cfg.Audio.InputSampleRate),
		}, logger), nil)
	}
	return a, nil
}

func (a *app) start(ctx context.Context) {
	if a.wake == nil {
		a.startSession(ctx)
		return
	}
	a.wake.OnWake = func() { a.startSession(ctx) }
	a.wake.Start(ctx)
	a.log.Info("waiting for wake phrase")
}

// startSession builds a fresh orchestrator; each session is one-shot.
func (a *app) startSession(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.orch != nil && a.orch.State() != session.StateIdle {
		return
	}

	sessionID := uuid.NewString()
	cfg := a.cfg

	pipe := playback.New(a.gw, a.sink, a.lock, a.mute, a.observer, playback.Config{
		SessionID:             sessionID,
		Owner:                 "session",
		Voice:                 cfg.TTS.Voice,
		Speed:                 cfg.TTS.Speed,
		Strategy:              playback.Strategy(cfg.TTS.Strategy),
		MinDecodableBytes:     cfg.Playback.MinDecodableBytes,
		MinBuffers:            cfg.Playback.MinBuffers,
		MaxBufferWait:         time.Duration(cfg.Playback.MaxBufferWaitMS) * time.Millisecond,
		NetworkSilenceTimeout: time.Duration(cfg.Playback.NetworkSilenceTimeoutMS) * time.Millisecond,
		SynthAhead:            cfg.Playback.SynthAhead,
		CacheSize:             cfg.Playback.CacheSize,
	})

	llm := llmclient.New(a.gw, llmclient.Config{})
	sttc := sttclient.New(a.primarySTT(), a.fallbackSTT(), sttclient.Config{
		SessionID: sessionID,
		Language:  cfg.STT.Language,
	})

	orch := session.New(session.Config{
		SessionID:         sessionID,
		Owner:             "session",
		Greeting:          cfg.Session.Greeting,
		Language:          cfg.STT.Language,
		UtteranceCooldown: time.Duration(cfg.Session.UtteranceCooldownMS) * time.Millisecond,
		InterruptSettle:   time.Duration(cfg.Session.InterruptSettleMS) * time.Millisecond,
		ErrorRecovery:     time.Duration(cfg.Session.ErrorRecoveryMS) * time.Millisecond,
		MicReopenDebounce: time.Duration(cfg.Session.MicReopenDebounceMS) * time.Millisecond,
	}, session.Deps{
		STT:      sttc,
		LLM:      llm,
		Playback: pipe,
		Wake:     a.wake,
		Lock:     a.lock,
		Mic: audioio.NewCapture(audioio.CaptureConfig{
			SampleRate: uint32(cfg.Audio.InputSampleRate),
		}, a.log),
		History:  convo.NewStore(cfg.Session.MaxHistory),
		Observer: a.observer,
		TimerOpt: []timers.Option{
			timers.WithIdleThreshold(time.Duration(cfg.Timers.IdleThresholdS) * time.Second),
			timers.WithTickInterval(time.Duration(cfg.Timers.TickIntervalMS) * time.Millisecond),
		},
	})

	if err := orch.Start(ctx, a.recipe); err != nil {
		a.log.Error("session start failed", "error", err)
		return
	}
	a.orch = orch
	a.log.Info("session started", "session_id", sessionID, "meal", a.recipe.MealName)
}

// primarySTT picks the network recognizer configured for this install.
func (a *app) primarySTT() sttclient.ProviderFactory {
	switch strings.ToLower(a.cfg.STT.Provider) {
	case "deepgram":
		var dg config.DeepgramSettings
		if err := config.DecodeSettings(a.cfg.STT.Settings, &dg); err != nil {
			a.log.Error("deepgram settings invalid", "error", err)
		}
		return func(_ context.Context, sessionID, language string) (stt.StreamingSTT, error) {
			return deepgram.New(deepgram.Config{
				APIKey:         dg.APIKey,
				Model:          dg.Model,
				Language:       language,
				SampleRate:     a.cfg.Audio.InputSampleRate,
				Interim:        dg.Interim,
				VADEvents:      dg.VADEvents,
				UtteranceEndMS: dg.UtteranceEndMS,
				SessionID:      sessionID,
			}), nil
		}
	case "local":
		return a.fallbackSTT()
	default:
		return func(ctx context.Context, sessionID, language string) (stt.StreamingSTT, error) {
			tok, err := a.gw.STTSessionToken(ctx, language)
			if err != nil {
				return nil, err
			}
			return wsstt.New(wsstt.Config{
				WSURL:     tok.WSURL,
				Token:     tok.Token,
				SessionID: sessionID,
				Language:  language,
			}), nil
		}
	}
}

// fallbackSTT wraps the local recognizer path. OS-level recognition is an
// injection point; the built-in recognizer keeps the session alive in
// degraded mode without producing transcripts.
func (a *app) fallbackSTT() sttclient.ProviderFactory {
	return func(_ context.Context, sessionID, _ string) (stt.StreamingSTT, error) {
		return localstt.New(silentRecognizer{}, localstt.Config{
			SessionID: sessionID,
		}), nil
	}
}

// silentRecognizer blocks until cancelled and never emits results.
type silentRecognizer struct{}

func (silentRecognizer) Name() string { return "silent" }

func (silentRecognizer) Listen(ctx context.Context, _ string, _ func(localstt.Result)) error {
	<-ctx.Done()
	return ctx.Err()
}

// Drain implements runner.Drainer; it stops the live session so queued
// audio and network streams wind down before exit.
func (a *app) Drain() error {
	a.mu.Lock()
	orch := a.orch
	a.mu.Unlock()
	if orch != nil {
		orch.Stop()
	}
	if a.wake != nil {
		a.wake.Stop()
	}
	a.sink.Reset()
	return nil
}

type recipeFile struct {
	MealName    string   `json:"mealName"`
	Steps       []string `json:"steps"`
	Ingredients []string `json:"ingredients"`
}

func loadRecipe(path string) (convo.RecipeContext, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return convo.RecipeContext{}, err
	}
	var rf recipeFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return convo.RecipeContext{}, err
	}
	if len(rf.Steps) == 0 {
		return convo.RecipeContext{}, fmt.Errorf("recipe %q has no steps", rf.MealName)
	}
	return convo.RecipeContext{
		MealName:    rf.MealName,
		Steps:       rf.Steps,
		Ingredients: rf.Ingredients,
	}, nil
}
