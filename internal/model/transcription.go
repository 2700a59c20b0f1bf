package model

// WordTiming 单词级时间戳与准确度
type WordTiming struct {
	Word     string  `json:"word"`
	Start    float64 `json:"start"` // 秒
	End      float64 `json:"end"`
	Accuracy float64 `json:"accuracy"` // 0-100
}

// Pause 异常停顿：相邻两词之间的间隔超过固定阈值
type Pause struct {
	AfterWord string  `json:"afterWord"`
	Start     float64 `json:"start"`
	Duration  float64 `json:"duration"` // 秒
}

// PronunciationMetrics 转写阶段产出的发音指标，作为流利度评分的附加信号
type PronunciationMetrics struct {
	AccuracyScore float64      `json:"accuracyScore"` // 0-100
	FluencyScore  float64      `json:"fluencyScore"`  // 0-100
	ProsodyScore  float64      `json:"prosodyScore"`  // 0-100
	SpeechRate    float64      `json:"speechRate"`    // 词/分钟
	Words         []WordTiming `json:"words,omitempty"`
	Pauses        []Pause      `json:"pauses,omitempty"`
}

// TranscriptionResult 转写适配器的结构化返回值。供应商出错或未检测到
// 语音时 Text 为失败哨兵值而不是抛错，Failed/FailReason 标明细节。
type TranscriptionResult struct {
	Text       string                `json:"text"`
	Confidence float64               `json:"confidence"` // 0-1
	Duration   float64               `json:"duration"`   // 秒
	Metrics    *PronunciationMetrics `json:"metrics,omitempty"`
	Failed     bool                  `json:"failed"`
	FailReason string                `json:"failReason,omitempty"`
}
