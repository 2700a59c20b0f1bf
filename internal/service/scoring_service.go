package service

import (
	"context"
	"fmt"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/pkg/logger"
	"strings"

	"go.uber.org/zap"
)

// CriterionScorer 单维度评分器
type CriterionScorer interface {
	Score(ctx context.Context, criterion model.Criterion, question *model.Question, transcript string, metrics *model.PronunciationMetrics) (*model.CriterionResult, error)
}

// criterionPromptNames 各维度在提示词中的说明
var criterionPromptNames = map[model.Criterion]string{
	model.CriterionTopicDevelopment: "主题展开（是否扣题、内容是否充分、逻辑是否连贯）",
	model.CriterionVocabulary:       "词汇（用词是否准确、多样、符合语境）",
	model.CriterionGrammar:          "语法（句法结构是否正确、时态搭配是否恰当）",
	model.CriterionFluency:          "流利度（语速、停顿、语流的自然程度，结合发音指标）",
}

// jsonCompleter 评分所需的大模型调用能力，由 AIService 实现
type jsonCompleter interface {
	CompleteJSON(ctx context.Context, system, user string, out interface{}) error
}

// ScoringService 口语评分服务。每个维度对大模型做两次串行调用：
// 第一次只定分数，第二次在已定分数的前提下生成定性反馈，
// 保证展示的分数与评语口径一致。
type ScoringService struct {
	ai jsonCompleter
}

func NewScoringService(ai *AIService) *ScoringService {
	return &ScoringService{ai: ai}
}

type scoreReply struct {
	Score         int    `json:"score"`
	Justification string `json:"justification"`
}

type feedbackReply struct {
	Feedback     string   `json:"feedback"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
}

func (s *ScoringService) Score(ctx context.Context, criterion model.Criterion, question *model.Question, transcript string, metrics *model.PronunciationMetrics) (*model.CriterionResult, error) {
	// 第一步：打分
	var scored scoreReply
	if err := s.ai.CompleteJSON(ctx, scoreSystemPrompt(criterion), scoreUserPrompt(criterion, question, transcript, metrics), &scored); err != nil {
		return nil, fmt.Errorf("score %s: %w", criterion, err)
	}
	if scored.Score < 0 {
		scored.Score = 0
	}
	if scored.Score > 100 {
		scored.Score = 100
	}

	result := &model.CriterionResult{
		Criterion:    criterion,
		Score:        scored.Score,
		Weight:       model.WeightFor(question.Module, criterion),
		Strengths:    []string{},
		Improvements: []string{},
	}

	// 第二步：基于已定分数生成反馈。失败只降级为"有分无评"，
	// 不丢弃已经拿到的分数。
	var fb feedbackReply
	if err := s.ai.CompleteJSON(ctx, feedbackSystemPrompt(), feedbackUserPrompt(criterion, question, transcript, scored), &fb); err != nil {
		logger.Log.Warn("feedback call failed, keeping bare score",
			zap.String("criterion", string(criterion)), zap.Error(err))
		return result, nil
	}

	result.Feedback = fb.Feedback
	if fb.Strengths != nil {
		result.Strengths = fb.Strengths
	}
	if fb.Improvements != nil {
		result.Improvements = fb.Improvements
	}
	return result, nil
}

func scoreSystemPrompt(criterion model.Criterion) string {
	var sb strings.Builder
	sb.WriteString("你是一名严格的英语口语考试评分员，只负责「")
	sb.WriteString(criterionPromptNames[criterion])
	sb.WriteString("」这一个维度。\n")
	sb.WriteString("根据题目与考生作答的转写文本给出 0-100 的整数分。\n")
	sb.WriteString("只输出JSON对象，格式：{\"score\": <0-100整数>, \"justification\": \"<一句话依据>\"}")
	return sb.String()
}

func scoreUserPrompt(criterion model.Criterion, question *model.Question, transcript string, metrics *model.PronunciationMetrics) string {
	var sb strings.Builder
	sb.WriteString("题目：" + question.Content + "\n\n")
	sb.WriteString("考生作答（语音转写）：\n" + transcript + "\n")

	// 流利度维度附带转写阶段产出的发音指标
	if criterion == model.CriterionFluency && metrics != nil {
		sb.WriteString(fmt.Sprintf("\n发音指标：语速 %.0f 词/分钟，准确度 %.0f/100，流利度 %.0f/100，韵律 %.0f/100，异常停顿 %d 次。\n",
			metrics.SpeechRate, metrics.AccuracyScore, metrics.FluencyScore, metrics.ProsodyScore, len(metrics.Pauses)))
	}
	return sb.String()
}

func feedbackSystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("你是一名英语口语老师，为已经定分的作答写评语。评语使用中文，面向学生本人。\n")
	sb.WriteString("只输出JSON对象，格式：{\"feedback\": \"<总评>\", \"strengths\": [\"<亮点>\"], \"improvements\": [\"<改进建议>\"]}")
	return sb.String()
}

func feedbackUserPrompt(criterion model.Criterion, question *model.Question, transcript string, scored scoreReply) string {
	var sb strings.Builder
	sb.WriteString("评分维度：" + criterionPromptNames[criterion] + "\n")
	sb.WriteString(fmt.Sprintf("该维度已定分数：%d/100（依据：%s）\n\n", scored.Score, scored.Justification))
	sb.WriteString("题目：" + question.Content + "\n\n")
	sb.WriteString("考生作答（语音转写）：\n" + transcript + "\n\n")
	sb.WriteString("评语必须与上面的分数一致，不要重新打分。")
	return sb.String()
}
