package repository

import (
	"oral_practice_backend/internal/model"

	"gorm.io/gorm"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

func (r *QuestionRepository) Create(q *model.Question) error {
	return r.DB.Create(q).Error
}

func (r *QuestionRepository) FindByID(id uint) (*model.Question, error) {
	var q model.Question
	err := r.DB.First(&q, id).Error
	return &q, err
}

func (r *QuestionRepository) FindByIDs(ids []uint) ([]model.Question, error) {
	var qs []model.Question
	err := r.DB.Where("id IN ?", ids).Find(&qs).Error
	return qs, err
}

// ListEnabled 列出某模块（module 为空则全部）启用中的题目
func (r *QuestionRepository) ListEnabled(module model.ModuleType) ([]model.Question, error) {
	var qs []model.Question
	query := r.DB.Model(&model.Question{}).Where("enabled = ?", true)
	if module != "" {
		query = query.Where("module = ?", module)
	}
	err := query.Order("module asc, `order` asc, created_at desc").Find(&qs).Error
	return qs, err
}

func (r *QuestionRepository) List(module model.ModuleType, page, limit int) ([]model.Question, int64, error) {
	var qs []model.Question
	var total int64
	query := r.DB.Model(&model.Question{})
	if module != "" {
		query = query.Where("module = ?", module)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("`order` asc, created_at desc").Offset(offset).Limit(limit).Find(&qs).Error
	return qs, total, err
}

func (r *QuestionRepository) Update(q *model.Question) error {
	return r.DB.Save(q).Error
}

func (r *QuestionRepository) Delete(id uint) error {
	return r.DB.Delete(&model.Question{}, id).Error
}
