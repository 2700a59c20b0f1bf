package service

import (
	"encoding/json"
	"oral_practice_backend/internal/model"
	"testing"
)

func TestAggregateQuestion(t *testing.T) {
	tests := []struct {
		name    string
		results []model.CriterionResult
		want    int
	}{
		{"empty", nil, 0},
		{"weighted four criteria", []model.CriterionResult{
			{Criterion: model.CriterionTopicDevelopment, Score: 80, Weight: 50},
			{Criterion: model.CriterionVocabulary, Score: 70, Weight: 20},
			{Criterion: model.CriterionGrammar, Score: 60, Weight: 15},
			{Criterion: model.CriterionFluency, Score: 90, Weight: 15},
		}, 77}, // 40 + 14 + 9 + 13.5 = 76.5 → 77
		{"three criteria no fluency", []model.CriterionResult{
			{Criterion: model.CriterionTopicDevelopment, Score: 80, Weight: 50},
			{Criterion: model.CriterionVocabulary, Score: 60, Weight: 25},
			{Criterion: model.CriterionGrammar, Score: 60, Weight: 25},
		}, 70},
		{"all max", []model.CriterionResult{
			{Score: 100, Weight: 50},
			{Score: 100, Weight: 20},
			{Score: 100, Weight: 15},
			{Score: 100, Weight: 15},
		}, 100},
		{"all zero", []model.CriterionResult{
			{Score: 0, Weight: 50},
			{Score: 0, Weight: 50},
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AggregateQuestion(tt.results)
			if got != tt.want {
				t.Errorf("AggregateQuestion() = %d, want %d", got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("AggregateQuestion() = %d, out of [0,100]", got)
			}
		})
	}
}

func TestRoundHalfUp(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{76.5, 77},
		{76.4, 76},
		{0.5, 1},
		{0.49, 0},
		{54.0, 54},
	}
	for _, tt := range tests {
		if got := roundHalfUp(tt.in); got != tt.want {
			t.Errorf("roundHalfUp(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAggregateSessionSingleModule(t *testing.T) {
	attempts := []model.QuestionAttempt{
		{Module: model.ModulePartA, Scored: true, TotalScore: 77},
		{Module: model.ModulePartA, Scored: false, TotalScore: 0},
		{Module: model.ModulePartA, Scored: true, TotalScore: 85},
	}

	agg := AggregateSession(attempts, model.SessionPartA)
	// (77 + 0 + 85) / 3 = 54
	if agg.Total != 54 {
		t.Errorf("Total = %d, want 54", agg.Total)
	}
	if agg.ModuleScores != nil {
		t.Errorf("ModuleScores should be nil for single-module sessions, got %v", agg.ModuleScores)
	}
}

func TestAggregateSessionSimulation(t *testing.T) {
	attempts := []model.QuestionAttempt{
		{Module: model.ModulePartA, Scored: true, TotalScore: 80},
		{Module: model.ModulePartB, Scored: true, TotalScore: 60},
		{Module: model.ModulePartC, Scored: true, TotalScore: 90},
		{Module: model.ModulePartC, Scored: true, TotalScore: 70},
	}

	agg := AggregateSession(attempts, model.SessionSimulation)
	// 80*0.25 + 60*0.25 + 80*0.50 = 75
	if agg.Total != 75 {
		t.Errorf("Total = %d, want 75", agg.Total)
	}
	if agg.ModuleScores[model.ModulePartA] != 80 {
		t.Errorf("part_a module score = %d, want 80", agg.ModuleScores[model.ModulePartA])
	}
	if agg.ModuleScores[model.ModulePartB] != 60 {
		t.Errorf("part_b module score = %d, want 60", agg.ModuleScores[model.ModulePartB])
	}
	if agg.ModuleScores[model.ModulePartC] != 80 {
		t.Errorf("part_c module score = %d, want 80", agg.ModuleScores[model.ModulePartC])
	}
}

func TestAggregateSessionEmpty(t *testing.T) {
	agg := AggregateSession(nil, model.SessionPartA)
	if agg.Total != 0 {
		t.Errorf("Total = %d, want 0", agg.Total)
	}
}

func TestCriterionAveragesSkipUnscored(t *testing.T) {
	scoredResults, _ := json.Marshal([]model.CriterionResult{
		{Criterion: model.CriterionTopicDevelopment, Score: 80, Weight: 50},
		{Criterion: model.CriterionVocabulary, Score: 60, Weight: 20},
	})
	attempts := []model.QuestionAttempt{
		{Module: model.ModulePartA, Scored: true, TotalScore: 74, CriterionResults: scoredResults},
		{Module: model.ModulePartA, Scored: false, UnscoredReason: model.ReasonTranscriptionFailed},
	}

	agg := AggregateSession(attempts, model.SessionPartA)
	if got := agg.CriterionAverages[model.CriterionTopicDevelopment]; got != 80 {
		t.Errorf("topic_development average = %d, want 80", got)
	}
	if got := agg.CriterionAverages[model.CriterionVocabulary]; got != 60 {
		t.Errorf("vocabulary average = %d, want 60", got)
	}
	// 未评分的题目不把0分摊进维度均值
	if _, ok := agg.CriterionAverages[model.CriterionGrammar]; ok {
		t.Error("grammar should be absent when never scored")
	}
}
