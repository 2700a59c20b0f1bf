package model

import (
	"encoding/json"
	"time"
)

// SessionStatus 会话处理状态，只允许向前推进：
// pending → in_progress → completed|failed，终态不可再变更。
type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// Terminal 会话是否已到终态
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SessionStage 处理中会话所处的流水线阶段，供客户端轮询展示进度
type SessionStage string

const (
	StageUploading    SessionStage = "uploading"
	StageTranscribing SessionStage = "transcribing"
	StageScoring      SessionStage = "scoring"
	StageAggregating  SessionStage = "aggregating"
	StageDone         SessionStage = "done"
)

// 题目未获评分的原因
const (
	ReasonUploadFailed        = "upload_failed"
	ReasonTranscriptionFailed = "transcription_failed"
	ReasonNoSpeech            = "no_speech"
	ReasonScoringFailed       = "scoring_failed"
)

// TranscriptFailedSentinel 转写失败哨兵值。与空串（尚未转写）区分开，
// 下游聚合据此判零分而不是崩溃。
const TranscriptFailedSentinel = "[transcription-failed]"

// TranscriptUsable 转写文本是否可用于评分
func TranscriptUsable(transcript string) bool {
	return transcript != "" && transcript != TranscriptFailedSentinel
}

// swagger:model PracticeSession
type PracticeSession struct {
	UUIDBase
	UserID      uint        `gorm:"index;type:bigint unsigned;not null" json:"userId"`
	User        *User       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Type        SessionType `gorm:"size:20;not null" json:"type"`
	Status      SessionStatus `gorm:"size:20;default:'pending';index" json:"status"`
	Stage       SessionStage  `gorm:"size:30" json:"stage"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt"`
	// 会话总分（0-100 整数）；completed 前为 null
	TotalScore *int `json:"totalScore"`
	// 会话级各维度平均分，如 {"topic_development":78,...}
	CriterionAverages json.RawMessage `gorm:"type:json" json:"criterionAverages"`
	// 全真模拟的模块小分，如 {"part_a":80,"part_b":60,"part_c":80}
	ModuleScores json.RawMessage `gorm:"type:json" json:"moduleScores,omitempty"`
	// 会话级失败原因（仅 failed）
	FailReason string `gorm:"size:255" json:"failReason,omitempty"`

	Attempts []QuestionAttempt `gorm:"foreignKey:SessionID" json:"attempts,omitempty"`
}

func (PracticeSession) TableName() string {
	return "practice_sessions"
}

// swagger:model QuestionAttempt
type QuestionAttempt struct {
	BaseModel
	SessionID  string     `gorm:"index;type:varchar(36);not null" json:"sessionId"`
	QuestionID uint       `gorm:"index;type:bigint unsigned;not null" json:"questionId"`
	Question   *Question  `gorm:"foreignKey:QuestionID" json:"question,omitempty"`
	Module     ModuleType `gorm:"size:20;not null" json:"module"`
	Order      int        `gorm:"default:0" json:"order"`

	// 录音存储句柄（上传成功后写入）
	AudioKey      string  `gorm:"size:500" json:"-"`
	AudioDuration float64 `json:"audioDuration"` // 秒

	// 转写文本：空串=尚未转写；TranscriptFailedSentinel=转写失败
	Transcript string          `gorm:"type:text" json:"transcript"`
	Metrics    json.RawMessage `gorm:"type:json" json:"metrics,omitempty"` // 发音指标

	// 评分结果。Scored=false 时 TotalScore 恒为0，CriterionResults 为空，
	// UnscoredReason 记录原因 —— 单题失败不拖垮整个会话。
	Scored           bool            `gorm:"default:false" json:"scored"`
	UnscoredReason   string          `gorm:"size:50" json:"unscoredReason,omitempty"`
	TotalScore       int             `gorm:"default:0" json:"totalScore"`
	CriterionResults json.RawMessage `gorm:"type:json" json:"criterionResults,omitempty"`
}

func (QuestionAttempt) TableName() string {
	return "question_attempts"
}

// CriterionResult 单题单维度的评分结果
type CriterionResult struct {
	Criterion    Criterion `json:"criterion"`
	Score        int       `json:"score"`  // 0-100
	Weight       int       `json:"weight"` // 该模块下的固定权重
	Feedback     string    `json:"feedback"`
	Strengths    []string  `json:"strengths"`
	Improvements []string  `json:"improvements"`
}

// DecodeCriterionResults 解析题目上持久化的维度评分
func (a *QuestionAttempt) DecodeCriterionResults() []CriterionResult {
	if len(a.CriterionResults) == 0 {
		return nil
	}
	var results []CriterionResult
	if err := json.Unmarshal(a.CriterionResults, &results); err != nil {
		return nil
	}
	return results
}
