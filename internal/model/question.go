package model

// swagger:model Question
type Question struct {
	BaseModel
	Module        ModuleType `gorm:"size:20;index;not null" json:"module"`
	Title         string     `gorm:"size:200" json:"title"`
	Content       string     `gorm:"type:text;not null" json:"content"` // 题目文本（提问/图片说明/视频问题）
	MediaURL      string     `gorm:"size:500" json:"mediaUrl"`          // 图片或视频素材地址
	PrepSeconds   int        `gorm:"default:30" json:"prepSeconds"`     // 准备时长
	AnswerSeconds int        `gorm:"default:60" json:"answerSeconds"`   // 作答时长
	Order         int        `gorm:"default:0" json:"order"`
	Enabled       bool       `gorm:"default:true" json:"enabled"`
}

func (Question) TableName() string {
	return "questions"
}
