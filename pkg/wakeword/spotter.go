// Package wakeword listens passively for the wake phrase. The primary
// detector is an openWakeWord ONNX pipeline (melspectrogram, embedding,
// keyword model); when model init fails, a phrase matcher over local
// recognition takes over.
package wakeword

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hearthware/sous/pkg/errorsx"
	"github.com/hearthware/sous/pkg/logging"
)

const (
	chunkSamples = 1280 // 80 ms @ 16 kHz
	melWindow    = 76   // mel frames per embedding window
	melStep      = 8
	embeddingDim = 96
	nEmbedFrames = 16
	melBins      = 32
	nMelFrames   = 5
	scoreWindow  = 5 // trailing scores, max wins
)

type SpotterConfig struct {
	KeywordModel   string
	MelspecModel   string
	EmbeddingModel string
	OnnxLib        string
	Threshold      float32
}

func (c *SpotterConfig) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 0.3
	}
}

// Spotter scores 80ms PCM chunks against the keyword model and calls
// onScore for each score above zero interest.
type Spotter struct {
	cfg    SpotterConfig
	logger *slog.Logger

	mu         sync.Mutex
	needsReset bool
}

func NewSpotter(cfg SpotterConfig) *Spotter {
	cfg.defaults()
	return &Spotter{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "wakeword_spotter"),
	}
}

// RequestReset flushes the pipeline buffers before the next chunk, so
// audio heard before a pause cannot contribute to a detection after it.
func (s *Spotter) RequestReset() {
	s.mu.Lock()
	s.needsReset = true
	s.mu.Unlock()
}

func (s *Spotter) takeReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.needsReset {
		s.needsReset = false
		return true
	}
	return false
}

// Run drives the ONNX pipeline over frames until ctx ends. onDetect fires
// for every score at or above the threshold; cooldown is the caller's
// concern.
func (s *Spotter) Run(ctx context.Context, frames <-chan []byte, onDetect func(score float32)) error {
	ort.SetSharedLibraryPath(s.cfg.OnnxLib)
	if err := ort.InitializeEnvironment(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	defer ort.DestroyEnvironment()

	melIn, err := ort.NewEmptyTensor[float32](ort.NewShape(1, chunkSamples))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	defer melIn.Destroy()
	melOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, nMelFrames, melBins))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	defer melOut.Destroy()
	melSess, err := s.session(s.cfg.MelspecModel, melIn, melOut)
	if err != nil {
		return err
	}
	defer melSess.Destroy()

	embedIn, err := ort.NewEmptyTensor[float32](ort.NewShape(1, melWindow, melBins, 1))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	defer embedIn.Destroy()
	embedOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, embeddingDim))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	defer embedOut.Destroy()
	embedSess, err := s.session(s.cfg.EmbeddingModel, embedIn, embedOut)
	if err != nil {
		return err
	}
	defer embedSess.Destroy()

	kwIn, err := ort.NewEmptyTensor[float32](ort.NewShape(1, nEmbedFrames, embeddingDim))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	defer kwIn.Destroy()
	kwOut, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	defer kwOut.Destroy()
	kwSess, err := s.session(s.cfg.KeywordModel, kwIn, kwOut)
	if err != nil {
		return err
	}
	defer kwSess.Destroy()

	melBuffer := make([]float32, 0, 300*melBins)
	embedBuffer := make([]float32, nEmbedFrames*embeddingDim)
	pending := make([]int16, 0, chunkSamples*2)
	scores := make([]float32, scoreWindow)
	scoreIdx := 0

	s.logger.Info("keyword spotter running",
		"model", s.cfg.KeywordModel,
		"threshold", s.cfg.Threshold)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if s.takeReset() {
				melBuffer = melBuffer[:0]
				for i := range embedBuffer {
					embedBuffer[i] = 0
				}
				pending = pending[:0]
				for i := range scores {
					scores[i] = 0
				}
				scoreIdx = 0
			}

			pending = append(pending, pcmToSamples(frame)...)
			for len(pending) >= chunkSamples {
				chunk := pending[:chunkSamples]
				n := copy(pending, pending[chunkSamples:])
				pending = pending[:n]

				inData := melIn.GetData()
				for i, v := range chunk {
					inData[i] = float32(v)
				}
				if err := melSess.Run(); err != nil {
					s.logger.Error("melspec run failed", "error", err)
					continue
				}
				melData := melOut.GetData()
				for i := 0; i < nMelFrames*melBins && i < len(melData); i++ {
					melBuffer = append(melBuffer, melData[i]/10.0+2.0)
				}

				newEmbed := false
				for len(melBuffer)/melBins >= melWindow {
					eData := embedIn.GetData()
					copy(eData, melBuffer[:melWindow*melBins])
					if err := embedSess.Run(); err != nil {
						s.logger.Error("embedding run failed", "error", err)
						break
					}
					copy(embedBuffer, embedBuffer[embeddingDim:])
					copy(embedBuffer[(nEmbedFrames-1)*embeddingDim:], embedOut.GetData()[:embeddingDim])
					newEmbed = true

					n := copy(melBuffer, melBuffer[melStep*melBins:])
					melBuffer = melBuffer[:n]
				}
				if !newEmbed {
					continue
				}

				copy(kwIn.GetData(), embedBuffer)
				if err := kwSess.Run(); err != nil {
					s.logger.Error("keyword run failed", "error", err)
					continue
				}
				score := kwOut.GetData()[0]
				scores[scoreIdx%scoreWindow] = score
				scoreIdx++

				var maxScore float32
				for _, v := range scores {
					if v > maxScore {
						maxScore = v
					}
				}
				if maxScore >= s.cfg.Threshold {
					for i := range scores {
						scores[i] = 0
					}
					onDetect(maxScore)
				}
			}
		}
	}
}

func (s *Spotter) session(model string, in, out *ort.Tensor[float32]) (*ort.AdvancedSession, error) {
	inInfo, outInfo, err := ort.GetInputOutputInfo(model)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	sess, err := ort.NewAdvancedSession(model,
		[]string{inInfo[0].Name}, []string{outInfo[0].Name},
		[]ort.Value{in}, []ort.Value{out},
		nil)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonWakeInit)
	}
	return sess, nil
}

func pcmToSamples(raw []byte) []int16 {
	n := len(raw) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return out
}
