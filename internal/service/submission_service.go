package service

import (
	"context"
	"encoding/json"
	"fmt"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/internal/util"
	"oral_practice_backend/pkg/logger"
	"oral_practice_backend/pkg/monitoring"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PracticeStore 编排器需要的持久化操作（字段级更新，而非整行覆盖）。
// 由 repository.PracticeRepository 实现，测试中用内存假实现替换。
type PracticeStore interface {
	CreateSession(session *model.PracticeSession) error
	FindSessionByID(id string) (*model.PracticeSession, error)
	FindSessionForUser(id string, userID uint) (*model.PracticeSession, error)
	ListSessionsByUser(userID uint, page, limit int) ([]model.PracticeSession, int64, error)
	UpdateSessionFields(id string, fields map[string]interface{}) error
	UpdateAttemptFields(attemptID uint, sessionID string, fields map[string]interface{}) error
	ListStuckSessions(olderThan time.Duration) ([]model.PracticeSession, error)
	ListAudioKeysByUser(userID uint) ([]string, error)
	DeleteSessionsByUser(userID uint) error
	GetCachedStatus(ctx context.Context, sessionID string) string
	SetCachedStatus(ctx context.Context, sessionID string, payload string)
}

// RecordingUploader 编排器需要的录音存储操作，由 StorageService 实现
type RecordingUploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PresignedURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// QuestionFinder 题目查询，由 repository.QuestionRepository 实现
type QuestionFinder interface {
	FindByIDs(ids []uint) ([]model.Question, error)
}

// AnswerUpload 一道题的录音上传
type AnswerUpload struct {
	QuestionID  uint
	Data        []byte
	Filename    string
	ContentType string
}

// SubmissionService 提交处理编排器：会话记录与题目记录在处理期间
// 由它独占写入，客户端只读轮询。
type SubmissionService struct {
	store       PracticeStore
	storage     RecordingUploader
	transcriber Transcriber
	scorer      CriterionScorer
	questions   QuestionFinder

	workers     int
	callTimeout time.Duration
	stuckAfter  time.Duration
}

func NewSubmissionService(
	store PracticeStore,
	storage RecordingUploader,
	transcriber Transcriber,
	scorer CriterionScorer,
	questions QuestionFinder,
	workers int,
	callTimeout time.Duration,
	stuckAfter time.Duration,
) *SubmissionService {
	if workers <= 0 {
		workers = 1
	}
	return &SubmissionService{
		store:       store,
		storage:     storage,
		transcriber: transcriber,
		scorer:      scorer,
		questions:   questions,
		workers:     workers,
		callTimeout: callTimeout,
		stuckAfter:  stuckAfter,
	}
}

// Submit 持久化会话并异步启动处理，立即返回会话ID供客户端轮询。
// 这是第一次落库——提交之前丢失页面不会在服务端留下任何残留记录。
func (s *SubmissionService) Submit(ctx context.Context, userID uint, sessionType model.SessionType, answers []AnswerUpload) (string, error) {
	if len(answers) == 0 {
		return "", util.ErrEmptySubmission
	}

	ids := make([]uint, 0, len(answers))
	for _, a := range answers {
		ids = append(ids, a.QuestionID)
	}
	questions, err := s.questions.FindByIDs(ids)
	if err != nil {
		return "", err
	}
	questionMap := make(map[uint]model.Question, len(questions))
	for _, q := range questions {
		questionMap[q.ID] = q
	}

	if err := validateComposition(sessionType, answers, questionMap); err != nil {
		return "", err
	}

	session := &model.PracticeSession{
		UserID:    userID,
		Type:      sessionType,
		Status:    model.StatusPending,
		Stage:     model.StageUploading,
		StartedAt: time.Now(),
	}
	for i, a := range answers {
		q := questionMap[a.QuestionID]
		session.Attempts = append(session.Attempts, model.QuestionAttempt{
			QuestionID: a.QuestionID,
			Module:     q.Module,
			Order:      i + 1,
		})
	}

	// 会话记录无法创建属于会话级失败：直接把错误交还调用方，不落任何数据
	if err := s.store.CreateSession(session); err != nil {
		return "", fmt.Errorf("create practice session: %w", err)
	}

	uploads := make(map[uint]AnswerUpload, len(answers))
	for _, a := range answers {
		uploads[a.QuestionID] = a
	}

	go s.Process(context.Background(), session.ID, uploads)

	return session.ID, nil
}

// validateComposition 校验题目集合与会话类型匹配：
// 单模块练习要求所有题目同属该模块；全真模拟要求 1×A + 1×B + 2×C。
func validateComposition(sessionType model.SessionType, answers []AnswerUpload, questions map[uint]model.Question) error {
	counts := make(map[model.ModuleType]int)
	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok || !q.Enabled {
			return util.ErrQuestionNotFound
		}
		counts[q.Module]++
	}

	if sessionType == model.SessionSimulation {
		for module, want := range model.SimulationComposition {
			if counts[module] != want {
				return util.ErrBadSessionComposition
			}
		}
		return nil
	}

	module := model.ModuleType(sessionType)
	if counts[module] != len(answers) {
		return util.ErrBadSessionComposition
	}
	return nil
}

// Process 驱动一个会话跑完整条流水线。可重入：终态会话直接返回。
// 单题失败（上传/转写/评分）只让该题计零分并打标，不拖垮会话；
// 只有持久化本身出问题才把整个会话置为 failed（已产出的部分结果保留）。
func (s *SubmissionService) Process(ctx context.Context, sessionID string, uploads map[uint]AnswerUpload) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("submission pipeline panic", zap.String("session", sessionID), zap.Any("panic", r))
			s.failSession(sessionID, fmt.Sprintf("pipeline panic: %v", r))
		}
	}()

	session, err := s.store.FindSessionByID(sessionID)
	if err != nil {
		logger.Log.Error("load session for processing", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if session.Status.Terminal() {
		return
	}

	// 存储层不保证带出题目关联，缺失的在此补查（评分提示词需要题干）
	if err := s.hydrateQuestions(session); err != nil {
		s.failSession(sessionID, fmt.Sprintf("load questions: %v", err))
		return
	}

	if err := s.store.UpdateSessionFields(sessionID, map[string]interface{}{
		"status": model.StatusInProgress,
		"stage":  model.StageUploading,
	}); err != nil {
		logger.Log.Error("mark session in progress", zap.String("session", sessionID), zap.Error(err))
		return
	}

	// 阶段1：上传全部录音。单个上传失败只标记该题，不阻塞其它题目。
	uploadGroup, uploadCtx := errgroup.WithContext(ctx)
	uploadGroup.SetLimit(s.workers)
	for i := range session.Attempts {
		attempt := &session.Attempts[i]
		uploadGroup.Go(func() error {
			return s.uploadRecording(uploadCtx, session, attempt, uploads[attempt.QuestionID])
		})
	}
	if err := uploadGroup.Wait(); err != nil {
		s.failSession(sessionID, err.Error())
		return
	}

	s.setStage(sessionID, model.StageTranscribing)

	// 阶段2：逐题转写+评分，题目级有限并发。
	// 同一题的状态更新由同一个goroutine串行完成，
	// 保证持久化顺序恒为 上传 → 转写 → 评分。
	scoreGroup, scoreCtx := errgroup.WithContext(ctx)
	scoreGroup.SetLimit(s.workers)
	for i := range session.Attempts {
		attempt := &session.Attempts[i]
		scoreGroup.Go(func() error {
			return s.transcribeAndScore(scoreCtx, session, attempt, uploads[attempt.QuestionID])
		})
	}
	if err := scoreGroup.Wait(); err != nil {
		s.failSession(sessionID, err.Error())
		return
	}

	s.setStage(sessionID, model.StageAggregating)

	// 阶段3：会话级聚合并收尾
	agg := AggregateSession(session.Attempts, session.Type)

	averagesJSON, _ := json.Marshal(agg.CriterionAverages)
	fields := map[string]interface{}{
		"status":             model.StatusCompleted,
		"stage":              model.StageDone,
		"total_score":        agg.Total,
		"criterion_averages": averagesJSON,
		"completed_at":       time.Now(),
	}
	if agg.ModuleScores != nil {
		moduleJSON, _ := json.Marshal(agg.ModuleScores)
		fields["module_scores"] = moduleJSON
	}
	if err := s.store.UpdateSessionFields(sessionID, fields); err != nil {
		s.failSession(sessionID, err.Error())
		return
	}

	monitoring.SessionsProcessed.WithLabelValues(string(model.StatusCompleted)).Inc()
	logger.Log.Info("practice session completed",
		zap.String("session", sessionID),
		zap.Int("totalScore", agg.Total),
		zap.Int("questions", len(session.Attempts)))
}

// hydrateQuestions 给缺少题目数据的记录补查题干
func (s *SubmissionService) hydrateQuestions(session *model.PracticeSession) error {
	missing := make([]uint, 0, len(session.Attempts))
	for i := range session.Attempts {
		if session.Attempts[i].Question == nil {
			missing = append(missing, session.Attempts[i].QuestionID)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	questions, err := s.questions.FindByIDs(missing)
	if err != nil {
		return err
	}
	byID := make(map[uint]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}
	for i := range session.Attempts {
		if session.Attempts[i].Question == nil {
			session.Attempts[i].Question = byID[session.Attempts[i].QuestionID]
		}
	}
	return nil
}

// uploadRecording 上传一道题的录音并持久化存储句柄。
// 上传失败把该题标记为未评分（upload_failed），返回 nil 让会话继续。
func (s *SubmissionService) uploadRecording(ctx context.Context, session *model.PracticeSession, attempt *model.QuestionAttempt, upload AnswerUpload) error {
	if len(upload.Data) == 0 {
		return s.markUnscored(session.ID, attempt, model.ReasonUploadFailed)
	}

	ext := filepath.Ext(upload.Filename)
	if ext == "" {
		ext = ".webm"
	}

	// 录音时长探测失败不致命，只是缺一项指标
	duration := 0.0
	if info, err := util.ProbeAudioBytes(upload.Data, ext); err == nil {
		duration = info.Duration
	} else {
		logger.Log.Debug("audio probe failed", zap.String("session", session.ID), zap.Error(err))
	}

	key := RecordingKey(session.UserID, session.ID, attempt.QuestionID, ext)

	putCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err := s.storage.Put(putCtx, key, upload.Data, upload.ContentType)
	cancel()
	if err != nil {
		logger.Log.Warn("recording upload failed",
			zap.String("session", session.ID), zap.Uint("question", attempt.QuestionID), zap.Error(err))
		return s.markUnscored(session.ID, attempt, model.ReasonUploadFailed)
	}

	attempt.AudioKey = key
	attempt.AudioDuration = duration
	// 上传成功即写一条带占位分数的题目记录，客户端立刻能看到"处理中"
	return s.store.UpdateAttemptFields(attempt.ID, session.ID, map[string]interface{}{
		"audio_key":      key,
		"audio_duration": duration,
	})
}

// transcribeAndScore 一道题的转写与多维度评分。录音字节在处理期间
// 仍在内存中，转写直接复用，不再从对象存储回读。
func (s *SubmissionService) transcribeAndScore(ctx context.Context, session *model.PracticeSession, attempt *model.QuestionAttempt, upload AnswerUpload) error {
	// 上传阶段已经失败的题目直接跳过
	if attempt.UnscoredReason != "" || attempt.AudioKey == "" {
		return nil
	}

	result := s.transcriber.Transcribe(ctx, upload.Data, upload.Filename)

	// 转写结果（成功或失败哨兵）立刻落库，不等整个会话
	metricsJSON := []byte(nil)
	if result.Metrics != nil {
		metricsJSON, _ = json.Marshal(result.Metrics)
	}
	if err := s.store.UpdateAttemptFields(attempt.ID, session.ID, map[string]interface{}{
		"transcript": result.Text,
		"metrics":    metricsJSON,
	}); err != nil {
		return err
	}
	attempt.Transcript = result.Text
	attempt.Metrics = metricsJSON

	// 无可用转写文本：零分收场，绝不对哨兵值评分
	if result.Failed || !model.TranscriptUsable(result.Text) {
		reason := result.FailReason
		if reason == "" {
			reason = model.ReasonTranscriptionFailed
		}
		return s.markUnscored(session.ID, attempt, reason)
	}

	s.setStage(session.ID, model.StageScoring)

	question := attempt.Question
	if question == nil {
		return fmt.Errorf("attempt %d has no question loaded", attempt.ID)
	}

	// 逐维度评分。任一维度的打分调用失败视为该题评分失败（零分打标），
	// 不做部分维度的折算。
	results := make([]model.CriterionResult, 0, 4)
	for _, cw := range model.CriteriaFor(attempt.Module) {
		r, err := s.scorer.Score(ctx, cw.Criterion, question, result.Text, result.Metrics)
		if err != nil {
			logger.Log.Warn("criterion scoring failed",
				zap.String("session", session.ID),
				zap.Uint("question", attempt.QuestionID),
				zap.String("criterion", string(cw.Criterion)),
				zap.Error(err))
			return s.markUnscored(session.ID, attempt, model.ReasonScoringFailed)
		}
		results = append(results, *r)
	}

	total := AggregateQuestion(results)
	resultsJSON, _ := json.Marshal(results)

	if err := s.store.UpdateAttemptFields(attempt.ID, session.ID, map[string]interface{}{
		"scored":            true,
		"total_score":       total,
		"criterion_results": resultsJSON,
	}); err != nil {
		return err
	}
	attempt.Scored = true
	attempt.TotalScore = total
	attempt.CriterionResults = resultsJSON
	return nil
}

// markUnscored 把一道题标记为未评分：零分+原因，会话继续
func (s *SubmissionService) markUnscored(sessionID string, attempt *model.QuestionAttempt, reason string) error {
	monitoring.QuestionsUnscored.WithLabelValues(reason).Inc()
	attempt.Scored = false
	attempt.UnscoredReason = reason
	attempt.TotalScore = 0
	return s.store.UpdateAttemptFields(attempt.ID, sessionID, map[string]interface{}{
		"scored":          false,
		"unscored_reason": reason,
		"total_score":     0,
	})
}

// setStage 推进会话阶段（仅供轮询展示，不影响正确性）
func (s *SubmissionService) setStage(sessionID string, stage model.SessionStage) {
	if err := s.store.UpdateSessionFields(sessionID, map[string]interface{}{"stage": stage}); err != nil {
		logger.Log.Debug("update session stage", zap.String("session", sessionID), zap.Error(err))
	}
}

// AttemptStatus 轮询响应中单道题的状态
type AttemptStatus struct {
	QuestionID     uint             `json:"questionId"`
	Order          int              `json:"order"`
	Module         model.ModuleType `json:"module"`
	State          string           `json:"state"` // pending | scored | unscored
	TotalScore     *int             `json:"totalScore,omitempty"`
	UnscoredReason string           `json:"unscoredReason,omitempty"`
}

// SessionStatusResponse 轮询响应。处理中也带出已完成题目的部分结果。
type SessionStatusResponse struct {
	SessionID         string              `json:"sessionId"`
	Status            model.SessionStatus `json:"status"`
	Stage             model.SessionStage  `json:"stage"`
	TotalScore        *int                `json:"totalScore,omitempty"`
	CriterionAverages json.RawMessage     `json:"criterionAverages,omitempty"`
	FailReason        string              `json:"failReason,omitempty"`
	Attempts          []AttemptStatus     `json:"attempts"`
}

// GetStatus 查询会话处理状态。结果经Redis短期缓存，流水线每次写入都会
// 让缓存失效，轮询方不会看到回退的状态。
func (s *SubmissionService) GetStatus(ctx context.Context, sessionID string, userID uint) (*SessionStatusResponse, error) {
	if cached := s.store.GetCachedStatus(ctx, sessionID); cached != "" {
		var resp SessionStatusResponse
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			return &resp, nil
		}
	}

	session, err := s.store.FindSessionForUser(sessionID, userID)
	if err != nil {
		return nil, util.ErrSessionNotFound
	}

	resp := &SessionStatusResponse{
		SessionID:         session.ID,
		Status:            session.Status,
		Stage:             session.Stage,
		TotalScore:        session.TotalScore,
		CriterionAverages: session.CriterionAverages,
		FailReason:        session.FailReason,
		Attempts:          make([]AttemptStatus, 0, len(session.Attempts)),
	}
	for _, a := range session.Attempts {
		st := AttemptStatus{
			QuestionID: a.QuestionID,
			Order:      a.Order,
			Module:     a.Module,
			State:      "pending",
		}
		if a.Scored {
			st.State = "scored"
			score := a.TotalScore
			st.TotalScore = &score
		} else if a.UnscoredReason != "" {
			st.State = "unscored"
			st.UnscoredReason = a.UnscoredReason
		}
		resp.Attempts = append(resp.Attempts, st)
	}

	if payload, err := json.Marshal(resp); err == nil {
		s.store.SetCachedStatus(ctx, sessionID, string(payload))
	}
	return resp, nil
}

// AttemptDetail 详情响应中的单题记录，附限时可读的录音回放链接
type AttemptDetail struct {
	model.QuestionAttempt
	AudioURL string `json:"audioUrl,omitempty"`
}

// SessionDetail 会话详情：完整评分结果、评语与录音回放链接
type SessionDetail struct {
	model.PracticeSession
	Attempts []AttemptDetail `json:"attempts"`
}

// GetDetail 查询会话详情（仅限本人）
func (s *SubmissionService) GetDetail(ctx context.Context, sessionID string, userID uint) (*SessionDetail, error) {
	session, err := s.store.FindSessionForUser(sessionID, userID)
	if err != nil {
		return nil, util.ErrSessionNotFound
	}

	detail := &SessionDetail{PracticeSession: *session}
	detail.PracticeSession.Attempts = nil
	for _, a := range session.Attempts {
		item := AttemptDetail{QuestionAttempt: a}
		if a.AudioKey != "" {
			// 回放链接拿不到不阻塞详情展示
			if u, err := s.storage.PresignedURL(ctx, a.AudioKey); err == nil {
				item.AudioURL = u
			} else {
				logger.Log.Debug("presign recording url", zap.String("session", sessionID), zap.Error(err))
			}
		}
		detail.Attempts = append(detail.Attempts, item)
	}
	return detail, nil
}

// ListSessions 按时间倒序分页列出用户历史会话
func (s *SubmissionService) ListSessions(userID uint, page, limit int) ([]model.PracticeSession, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return s.store.ListSessionsByUser(userID, page, limit)
}

// EraseUser 抹除用户的全部练习数据：先尽力删除对象存储中的录音，
// 再删库中记录。单个对象删不掉只记日志，不阻塞数据库侧的抹除。
func (s *SubmissionService) EraseUser(ctx context.Context, userID uint) error {
	keys, err := s.store.ListAudioKeysByUser(userID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			logger.Log.Warn("delete recording object", zap.String("key", key), zap.Error(err))
		}
	}
	return s.store.DeleteSessionsByUser(userID)
}

// ReapStuckSessions 把处理中超过期限的会话置为 failed。
// 进程崩溃后录音字节已不在内存，无法续跑，只能收尾。
func (s *SubmissionService) ReapStuckSessions() {
	sessions, err := s.store.ListStuckSessions(s.stuckAfter)
	if err != nil {
		logger.Log.Error("list stuck sessions", zap.Error(err))
		return
	}
	for _, session := range sessions {
		logger.Log.Warn("reaping stuck session",
			zap.String("session", session.ID),
			zap.Time("startedAt", session.StartedAt))
		s.failSession(session.ID, "processing timed out")
	}
}

// StartReaper 启动后台回收循环，ctx 取消时退出
func (s *SubmissionService) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReapStuckSessions()
			}
		}
	}()
}

// failSession 会话级失败：状态置 failed，保留已产出的单题结果
func (s *SubmissionService) failSession(sessionID string, reason string) {
	monitoring.SessionsProcessed.WithLabelValues(string(model.StatusFailed)).Inc()
	if err := s.store.UpdateSessionFields(sessionID, map[string]interface{}{
		"status":       model.StatusFailed,
		"stage":        model.StageDone,
		"fail_reason":  reason,
		"completed_at": time.Now(),
	}); err != nil {
		logger.Log.Error("mark session failed", zap.String("session", sessionID), zap.Error(err))
	}
}
