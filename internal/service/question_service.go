package service

import (
	"errors"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/internal/repository"
	"oral_practice_backend/internal/util"

	"gorm.io/gorm"
)

// QuestionService 题库管理。写操作仅教师/管理员可用（控制器层校验角色），
// 学生侧只读启用中的题目。
type QuestionService struct {
	repo *repository.QuestionRepository
}

func NewQuestionService(repo *repository.QuestionRepository) *QuestionService {
	return &QuestionService{repo: repo}
}

// ListForPractice 学生练习用：某模块启用中的题目
func (s *QuestionService) ListForPractice(module model.ModuleType) ([]model.Question, error) {
	return s.repo.ListEnabled(module)
}

// List 管理用：分页列出题目（含停用）
func (s *QuestionService) List(module model.ModuleType, page, limit int) ([]model.Question, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.repo.List(module, page, limit)
}

func (s *QuestionService) Get(id uint) (*model.Question, error) {
	q, err := s.repo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuestionNotFound
		}
		return nil, err
	}
	return q, nil
}

func (s *QuestionService) Create(q *model.Question) error {
	if q.PrepSeconds <= 0 {
		q.PrepSeconds = 30
	}
	if q.AnswerSeconds <= 0 {
		q.AnswerSeconds = 60
	}
	return s.repo.Create(q)
}

func (s *QuestionService) Update(q *model.Question) error {
	if _, err := s.Get(q.ID); err != nil {
		return err
	}
	return s.repo.Update(q)
}

// Delete 下线题目。历史会话记录中的题目引用保留，只影响后续练习。
func (s *QuestionService) Delete(id uint) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.repo.Delete(id)
}
