package service

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"oral_practice_backend/internal/config"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/pkg/logger"
	"oral_practice_backend/pkg/monitoring"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// abnormalPauseSeconds 异常停顿判定阈值（秒）。相邻两词的间隔超过该值
// 记为一次异常停顿。统一采用服务端口径 2.5 秒。
const abnormalPauseSeconds = 2.5

const transcribeRetries = 2

// Transcriber 转写适配器。供应商出错与"未检测到语音"都返回结构化结果
// （Text 为失败哨兵值），不向编排器抛异常，下游聚合按零分处理。
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) *model.TranscriptionResult
}

// TranscriptionService 基于Whisper兼容接口的转写实现
type TranscriptionService struct {
	api      *openai.Client
	model    string
	language string
	limiter  *rate.Limiter
	timeout  time.Duration
}

func NewTranscriptionService(cfg config.SpeechConfig, timeout time.Duration) (*TranscriptionService, error) {
	// 凭证缺失在构造时报错，而不是每次调用时晦涩地失败
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("speech: api_key is not configured")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("speech: model is not configured")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	rpm := cfg.MaxRPM
	if rpm <= 0 {
		rpm = 30
	}

	return &TranscriptionService{
		api:      openai.NewClientWithConfig(clientCfg),
		model:    cfg.Model,
		language: cfg.Language,
		limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		timeout:  timeout,
	}, nil
}

func failedTranscription(reason string) *model.TranscriptionResult {
	return &model.TranscriptionResult{
		Text:       model.TranscriptFailedSentinel,
		Failed:     true,
		FailReason: reason,
	}
}

func (s *TranscriptionService) Transcribe(ctx context.Context, audio []byte, filename string) *model.TranscriptionResult {
	if len(audio) == 0 {
		return failedTranscription(model.ReasonNoSpeech)
	}

	var resp openai.AudioResponse
	var err error
	for i := 0; i <= transcribeRetries; i++ {
		if werr := s.limiter.Wait(ctx); werr != nil {
			return failedTranscription(model.ReasonTranscriptionFailed)
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		start := time.Now()
		resp, err = s.api.CreateTranscription(callCtx, openai.AudioRequest{
			Model:    s.model,
			Reader:   bytes.NewReader(audio),
			FilePath: filename,
			Language: s.language,
			Format:   openai.AudioResponseFormatVerboseJSON,
			TimestampGranularities: []openai.TranscriptionTimestampGranularity{
				openai.TranscriptionTimestampGranularityWord,
				openai.TranscriptionTimestampGranularitySegment,
			},
		})
		monitoring.ObserveProviderCall("transcription", start)
		cancel()

		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err != nil {
		logger.Log.Warn("transcription provider error", zap.String("file", filename), zap.Error(err))
		return failedTranscription(model.ReasonTranscriptionFailed)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return failedTranscription(model.ReasonNoSpeech)
	}

	stamps := make([]wordStamp, 0, len(resp.Words))
	for _, w := range resp.Words {
		stamps = append(stamps, wordStamp{Word: strings.TrimSpace(w.Word), Start: w.Start, End: w.End})
	}
	segments := make([]segmentStamp, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, segmentStamp{Start: seg.Start, End: seg.End, AvgLogprob: seg.AvgLogprob})
	}

	metrics, confidence := buildPronunciationMetrics(stamps, segments, resp.Duration)

	return &model.TranscriptionResult{
		Text:       text,
		Confidence: confidence,
		Duration:   resp.Duration,
		Metrics:    metrics,
	}
}

// wordStamp / segmentStamp 供应商响应里本服务关心的时间戳信息
type wordStamp struct {
	Word  string
	Start float64
	End   float64
}

type segmentStamp struct {
	Start      float64
	End        float64
	AvgLogprob float64
}

// buildPronunciationMetrics 从词级时间戳与段级置信度推导发音指标
func buildPronunciationMetrics(stamps []wordStamp, segments []segmentStamp, duration float64) (*model.PronunciationMetrics, float64) {
	// 段级 avg_logprob → 置信度
	confidence := 0.0
	if len(segments) > 0 {
		for _, seg := range segments {
			confidence += clamp01(math.Exp(seg.AvgLogprob))
		}
		confidence /= float64(len(segments))
	}

	words := make([]model.WordTiming, 0, len(stamps))
	for _, w := range stamps {
		words = append(words, model.WordTiming{
			Word:     w.Word,
			Start:    w.Start,
			End:      w.End,
			Accuracy: segmentAccuracyAt(segments, w.Start),
		})
	}

	// 异常停顿：相邻词间隔超过阈值
	var pauses []model.Pause
	var gaps []float64
	for i := 1; i < len(words); i++ {
		gap := words[i].Start - words[i-1].End
		if gap > 0 {
			gaps = append(gaps, gap)
		}
		if gap > abnormalPauseSeconds {
			pauses = append(pauses, model.Pause{
				AfterWord: words[i-1].Word,
				Start:     words[i-1].End,
				Duration:  gap,
			})
		}
	}

	if duration <= 0 && len(words) > 0 {
		duration = words[len(words)-1].End
	}

	speechRate := 0.0
	if duration > 0 {
		speechRate = float64(len(words)) / duration * 60.0
	}

	metrics := &model.PronunciationMetrics{
		AccuracyScore: confidence * 100,
		FluencyScore:  fluencyScore(speechRate, len(pauses)),
		ProsodyScore:  prosodyScore(gaps),
		SpeechRate:    speechRate,
		Words:         words,
		Pauses:        pauses,
	}
	return metrics, confidence
}

// segmentAccuracyAt 词落在哪个段内就继承该段的置信度
func segmentAccuracyAt(segments []segmentStamp, at float64) float64 {
	for _, seg := range segments {
		if at >= seg.Start && at < seg.End {
			return clamp01(math.Exp(seg.AvgLogprob)) * 100
		}
	}
	return 0
}

// fluencyScore 语速落在 90-150 词/分钟记满分，偏离线性扣分；
// 每次异常停顿再扣8分
func fluencyScore(speechRate float64, pauseCount int) float64 {
	score := 100.0
	switch {
	case speechRate <= 0:
		return 0
	case speechRate < 90:
		score -= (90 - speechRate) * 1.2
	case speechRate > 150:
		score -= (speechRate - 150) * 0.8
	}
	score -= float64(pauseCount) * 8
	return clampScore(score)
}

// prosodyScore 词间隔越均匀节奏感越好，用间隔的标准差做惩罚
func prosodyScore(gaps []float64) float64 {
	if len(gaps) == 0 {
		return 0
	}
	mean := 0.0
	for _, g := range gaps {
		mean += g
	}
	mean /= float64(len(gaps))

	variance := 0.0
	for _, g := range gaps {
		variance += (g - mean) * (g - mean)
	}
	variance /= float64(len(gaps))

	return clampScore(100 - math.Sqrt(variance)*60)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
