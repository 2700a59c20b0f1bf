package service

import (
	"math"
	"testing"
)

func TestBuildPronunciationMetricsPauses(t *testing.T) {
	words := []wordStamp{
		{Word: "I", Start: 0, End: 0.3},
		{Word: "like", Start: 0.4, End: 0.8},
		{Word: "summer", Start: 3.5, End: 4.0}, // 2.7秒间隔，超过阈值
		{Word: "best", Start: 4.1, End: 4.5},
	}
	segments := []segmentStamp{{Start: 0, End: 5, AvgLogprob: 0}}

	metrics, confidence := buildPronunciationMetrics(words, segments, 4.5)

	if confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 (exp(0))", confidence)
	}
	if len(metrics.Pauses) != 1 {
		t.Fatalf("pauses = %d, want 1", len(metrics.Pauses))
	}
	if metrics.Pauses[0].AfterWord != "like" {
		t.Errorf("pause after %q, want %q", metrics.Pauses[0].AfterWord, "like")
	}
	if math.Abs(metrics.Pauses[0].Duration-2.7) > 1e-9 {
		t.Errorf("pause duration = %v, want 2.7", metrics.Pauses[0].Duration)
	}

	// 4词 / 4.5秒 = 53.3 词/分钟
	wantRate := 4.0 / 4.5 * 60.0
	if math.Abs(metrics.SpeechRate-wantRate) > 1e-9 {
		t.Errorf("speech rate = %v, want %v", metrics.SpeechRate, wantRate)
	}
	if metrics.AccuracyScore != 100 {
		t.Errorf("accuracy = %v, want 100", metrics.AccuracyScore)
	}
}

func TestBuildPronunciationMetricsBelowThresholdGap(t *testing.T) {
	words := []wordStamp{
		{Word: "hello", Start: 0, End: 0.5},
		{Word: "there", Start: 2.8, End: 3.2}, // 2.3秒间隔，不超阈值
	}
	metrics, _ := buildPronunciationMetrics(words, nil, 3.2)
	if len(metrics.Pauses) != 0 {
		t.Errorf("pauses = %d, want 0 for gaps under the threshold", len(metrics.Pauses))
	}
}

func TestBuildPronunciationMetricsDurationFallback(t *testing.T) {
	words := []wordStamp{
		{Word: "one", Start: 0, End: 1},
		{Word: "two", Start: 1, End: 2},
	}
	metrics, _ := buildPronunciationMetrics(words, nil, 0)
	// 时长缺失时用最后一个词的结束时间兜底
	if math.Abs(metrics.SpeechRate-60.0) > 1e-9 {
		t.Errorf("speech rate = %v, want 60", metrics.SpeechRate)
	}
}

func TestFluencyScore(t *testing.T) {
	tests := []struct {
		name       string
		rate       float64
		pauseCount int
		want       float64
	}{
		{"no speech", 0, 0, 0},
		{"ideal low end", 90, 0, 100},
		{"ideal high end", 150, 0, 100},
		{"too slow", 60, 0, 64},   // 100 - 30*1.2
		{"too fast", 180, 0, 76},  // 100 - 30*0.8
		{"pauses", 120, 3, 76},    // 100 - 3*8
		{"floor at zero", 10, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fluencyScore(tt.rate, tt.pauseCount); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("fluencyScore(%v, %d) = %v, want %v", tt.rate, tt.pauseCount, got, tt.want)
			}
		})
	}
}

func TestProsodyScore(t *testing.T) {
	uniform := prosodyScore([]float64{0.2, 0.2, 0.2, 0.2})
	if uniform != 100 {
		t.Errorf("uniform gaps = %v, want 100 (zero stddev)", uniform)
	}

	erratic := prosodyScore([]float64{0.1, 2.5, 0.1, 3.0})
	if erratic >= uniform {
		t.Errorf("erratic gaps (%v) should score below uniform gaps (%v)", erratic, uniform)
	}
	if erratic < 0 || erratic > 100 {
		t.Errorf("prosody score %v out of [0,100]", erratic)
	}

	if prosodyScore(nil) != 0 {
		t.Error("no gaps should yield 0")
	}
}

func TestFailedTranscriptionSentinel(t *testing.T) {
	result := failedTranscription("no_speech")
	if !result.Failed {
		t.Error("result should be marked failed")
	}
	if result.Text == "" {
		t.Error("failed transcriptions carry the sentinel, not an empty string")
	}
}
