package model

// ModuleType 考试模块类型
type ModuleType string

const (
	ModulePartA ModuleType = "part_a" // 口语表达
	ModulePartB ModuleType = "part_b" // 看图说话
	ModulePartC ModuleType = "part_c" // 视频理解（不评流利度）
)

// SessionType 练习会话类型：单模块练习或全真模拟
type SessionType string

const (
	SessionPartA      SessionType = "part_a"
	SessionPartB      SessionType = "part_b"
	SessionPartC      SessionType = "part_c"
	SessionSimulation SessionType = "simulation"
)

// Criterion 口语评分维度
type Criterion string

const (
	CriterionTopicDevelopment Criterion = "topic_development" // 主题展开
	CriterionVocabulary       Criterion = "vocabulary"        // 词汇
	CriterionGrammar          Criterion = "grammar"           // 语法
	CriterionFluency          Criterion = "fluency"           // 流利度
)

// CriterionWeight 某模块下单个维度的固定权重（百分比）
type CriterionWeight struct {
	Criterion Criterion `json:"criterion"`
	Weight    int       `json:"weight"`
}

// moduleCriteria 模块类型 → 适用维度及权重。每个模块的权重之和恒为100，
// 新增模块类型只需在此追加条目。视频理解模块没有完整的自主表达语流，
// 不评流利度。
var moduleCriteria = map[ModuleType][]CriterionWeight{
	ModulePartA: {
		{CriterionTopicDevelopment, 50},
		{CriterionVocabulary, 20},
		{CriterionGrammar, 15},
		{CriterionFluency, 15},
	},
	ModulePartB: {
		{CriterionTopicDevelopment, 50},
		{CriterionVocabulary, 20},
		{CriterionGrammar, 15},
		{CriterionFluency, 15},
	},
	ModulePartC: {
		{CriterionTopicDevelopment, 50},
		{CriterionVocabulary, 25},
		{CriterionGrammar, 25},
	},
}

// CriteriaFor 返回某模块的适用维度及权重（有序）
func CriteriaFor(module ModuleType) []CriterionWeight {
	return moduleCriteria[module]
}

// WeightFor 返回 (模块, 维度) 对应的固定权重；维度不适用时返回0
func WeightFor(module ModuleType, criterion Criterion) int {
	for _, cw := range moduleCriteria[module] {
		if cw.Criterion == criterion {
			return cw.Weight
		}
	}
	return 0
}

// 全真模拟的模块权重：A 25%、B 25%、C 50%（C 的两道小题平分）
const (
	SimulationWeightPartA = 0.25
	SimulationWeightPartB = 0.25
	SimulationWeightPartC = 0.50
)

// SimulationComposition 全真模拟的题目构成：模块 → 题目数
var SimulationComposition = map[ModuleType]int{
	ModulePartA: 1,
	ModulePartB: 1,
	ModulePartC: 2,
}
