package repository

import (
	"context"
	"fmt"
	"oral_practice_backend/internal/model"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// statusCacheTTL 轮询结果的短期缓存时长。每次流水线写入都会使缓存失效，
// 两次写入之间重复轮询返回完全一致的结果。
const statusCacheTTL = 2 * time.Second

type PracticeRepository struct {
	DB  *gorm.DB
	RDB *redis.Client
}

func NewPracticeRepository(db *gorm.DB, rdb *redis.Client) *PracticeRepository {
	return &PracticeRepository{DB: db, RDB: rdb}
}

// CreateSession 创建会话及其全部题目记录（提交时的首次持久化写入）
func (r *PracticeRepository) CreateSession(session *model.PracticeSession) error {
	return r.DB.Create(session).Error
}

func (r *PracticeRepository) FindSessionByID(id string) (*model.PracticeSession, error) {
	var s model.PracticeSession
	err := r.DB.Preload("Attempts", func(db *gorm.DB) *gorm.DB {
		return db.Order("question_attempts.order asc")
	}).Preload("Attempts.Question").First(&s, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PracticeRepository) FindSessionForUser(id string, userID uint) (*model.PracticeSession, error) {
	s, err := r.FindSessionByID(id)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (r *PracticeRepository) ListSessionsByUser(userID uint, page, limit int) ([]model.PracticeSession, int64, error) {
	var ss []model.PracticeSession
	var total int64
	query := r.DB.Model(&model.PracticeSession{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * limit
	err := query.Order("created_at desc").Offset(offset).Limit(limit).Find(&ss).Error
	return ss, total, err
}

// UpdateSessionFields 字段级更新会话。终态会话不再接受任何变更，
// 保证状态只向前推进。
func (r *PracticeRepository) UpdateSessionFields(id string, fields map[string]interface{}) error {
	err := r.DB.Model(&model.PracticeSession{}).
		Where("id = ? AND status NOT IN ?", id, []string{string(model.StatusCompleted), string(model.StatusFailed)}).
		Updates(fields).Error
	if err == nil {
		r.invalidateStatus(id)
	}
	return err
}

// UpdateAttemptFields 字段级更新单条题目记录
func (r *PracticeRepository) UpdateAttemptFields(attemptID uint, sessionID string, fields map[string]interface{}) error {
	err := r.DB.Model(&model.QuestionAttempt{}).Where("id = ?", attemptID).Updates(fields).Error
	if err == nil {
		r.invalidateStatus(sessionID)
	}
	return err
}

// ListStuckSessions 找出处理中超过期限的会话（进程崩溃后的遗留）
func (r *PracticeRepository) ListStuckSessions(olderThan time.Duration) ([]model.PracticeSession, error) {
	var ss []model.PracticeSession
	cutoff := time.Now().Add(-olderThan)
	err := r.DB.Where("status IN ? AND updated_at < ?",
		[]string{string(model.StatusPending), string(model.StatusInProgress)}, cutoff).
		Find(&ss).Error
	return ss, err
}

// ListAudioKeysByUser 用户全部题目记录的录音存储句柄（抹除对象存储用）
func (r *PracticeRepository) ListAudioKeysByUser(userID uint) ([]string, error) {
	var keys []string
	err := r.DB.Model(&model.QuestionAttempt{}).
		Joins("JOIN practice_sessions ON practice_sessions.id = question_attempts.session_id").
		Where("practice_sessions.user_id = ? AND question_attempts.audio_key <> ''", userID).
		Pluck("question_attempts.audio_key", &keys).Error
	return keys, err
}

// DeleteSessionsByUser 用户数据抹除：删除其全部会话及题目记录
func (r *PracticeRepository) DeleteSessionsByUser(userID uint) error {
	var ids []string
	if err := r.DB.Model(&model.PracticeSession{}).Where("user_id = ?", userID).Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id IN ?", ids).Delete(&model.QuestionAttempt{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&model.PracticeSession{}).Error; err != nil {
			return err
		}
		for _, id := range ids {
			r.invalidateStatus(id)
		}
		return nil
	})
}

func statusCacheKey(sessionID string) string {
	return fmt.Sprintf("practice:status:%s", sessionID)
}

// GetCachedStatus 读取轮询缓存，未命中返回空串
func (r *PracticeRepository) GetCachedStatus(ctx context.Context, sessionID string) string {
	if r.RDB == nil {
		return ""
	}
	val, err := r.RDB.Get(ctx, statusCacheKey(sessionID)).Result()
	if err != nil {
		return ""
	}
	return val
}

func (r *PracticeRepository) SetCachedStatus(ctx context.Context, sessionID string, payload string) {
	if r.RDB == nil {
		return
	}
	r.RDB.Set(ctx, statusCacheKey(sessionID), payload, statusCacheTTL)
}

func (r *PracticeRepository) invalidateStatus(sessionID string) {
	if r.RDB == nil {
		return
	}
	r.RDB.Del(context.Background(), statusCacheKey(sessionID))
}
