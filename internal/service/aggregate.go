package service

import (
	"math"
	"oral_practice_backend/internal/model"
)

// roundHalfUp 四舍五入（0.5进位）。所有小数分值落成整数都走这里，
// 保证全链路舍入口径一致。
func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// AggregateQuestion 按固定权重合成单题总分。只计入实际评过的维度
// （某模块不适用的维度既不在分子也不在分母——各模块适用维度的权重
// 之和恒为100，无需归一化）。
func AggregateQuestion(results []model.CriterionResult) int {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += float64(r.Score) * float64(r.Weight) / 100.0
	}
	total := roundHalfUp(sum)
	if total < 0 {
		return 0
	}
	if total > 100 {
		return 100
	}
	return total
}

// SessionAggregate 会话级聚合结果
type SessionAggregate struct {
	Total             int
	CriterionAverages map[model.Criterion]int
	// 全真模拟的模块小分；单模块练习为 nil
	ModuleScores map[model.ModuleType]int
}

// AggregateSession 把各题总分合成会话总分。
//   - 单模块练习：各题等权，总分为平均分；
//   - 全真模拟：模块A 25%、模块B 25%、模块C 50%（C 的两道小题先平均）。
//
// 未获评分的题目以其0分参与计算——部分失败压低总分而不是丢弃会话。
func AggregateSession(attempts []model.QuestionAttempt, sessionType model.SessionType) SessionAggregate {
	agg := SessionAggregate{
		CriterionAverages: criterionAverages(attempts),
	}

	if len(attempts) == 0 {
		return agg
	}

	if sessionType != model.SessionSimulation {
		sum := 0
		for _, a := range attempts {
			sum += a.TotalScore
		}
		agg.Total = roundHalfUp(float64(sum) / float64(len(attempts)))
		return agg
	}

	// 全真模拟：按模块分组
	byModule := make(map[model.ModuleType][]int)
	for _, a := range attempts {
		byModule[a.Module] = append(byModule[a.Module], a.TotalScore)
	}

	scoreA := firstOrZero(byModule[model.ModulePartA])
	scoreB := firstOrZero(byModule[model.ModulePartB])
	avgC := meanOrZero(byModule[model.ModulePartC])

	agg.Total = roundHalfUp(float64(scoreA)*model.SimulationWeightPartA +
		float64(scoreB)*model.SimulationWeightPartB +
		avgC*model.SimulationWeightPartC)

	agg.ModuleScores = map[model.ModuleType]int{
		model.ModulePartA: scoreA,
		model.ModulePartB: scoreB,
		model.ModulePartC: roundHalfUp(avgC),
	}
	return agg
}

// criterionAverages 会话级各维度平均分（只统计成功评分的题目）
func criterionAverages(attempts []model.QuestionAttempt) map[model.Criterion]int {
	sums := make(map[model.Criterion]int)
	counts := make(map[model.Criterion]int)
	for _, a := range attempts {
		if !a.Scored {
			continue
		}
		for _, r := range a.DecodeCriterionResults() {
			sums[r.Criterion] += r.Score
			counts[r.Criterion]++
		}
	}

	averages := make(map[model.Criterion]int, len(sums))
	for c, sum := range sums {
		averages[c] = roundHalfUp(float64(sum) / float64(counts[c]))
	}
	return averages
}

func firstOrZero(scores []int) int {
	if len(scores) == 0 {
		return 0
	}
	return scores[0]
}

func meanOrZero(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}
