package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"oral_practice_backend/internal/model"
	"oral_practice_backend/internal/util"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore PracticeStore 的内存实现，把字段级更新直接应用到会话结构上
type memStore struct {
	mu      sync.Mutex
	session *model.PracticeSession
	cache   map[string]string

	sessionUpdates int
	attemptUpdates int
	updateErr      error
}

func newMemStore() *memStore {
	return &memStore{cache: make(map[string]string)}
}

func (s *memStore) CreateSession(session *model.PracticeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = "sess-1"
	}
	for i := range session.Attempts {
		session.Attempts[i].ID = uint(i + 1)
		session.Attempts[i].SessionID = session.ID
	}
	s.session = session
	return nil
}

func (s *memStore) FindSessionByID(id string) (*model.PracticeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.ID != id {
		return nil, errors.New("record not found")
	}
	return s.session, nil
}

func (s *memStore) FindSessionForUser(id string, userID uint) (*model.PracticeSession, error) {
	session, err := s.FindSessionByID(id)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, errors.New("record not found")
	}
	return session, nil
}

func (s *memStore) ListSessionsByUser(userID uint, page, limit int) ([]model.PracticeSession, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.UserID != userID {
		return nil, 0, nil
	}
	return []model.PracticeSession{*s.session}, 1, nil
}

func (s *memStore) UpdateSessionFields(id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	if s.session == nil || s.session.ID != id || s.session.Status.Terminal() {
		return nil
	}
	s.sessionUpdates++
	for k, v := range fields {
		switch k {
		case "status":
			s.session.Status = v.(model.SessionStatus)
		case "stage":
			s.session.Stage = v.(model.SessionStage)
		case "total_score":
			score := v.(int)
			s.session.TotalScore = &score
		case "criterion_averages":
			s.session.CriterionAverages = v.([]byte)
		case "module_scores":
			s.session.ModuleScores = v.([]byte)
		case "fail_reason":
			s.session.FailReason = v.(string)
		case "completed_at":
			at := v.(time.Time)
			s.session.CompletedAt = &at
		}
	}
	delete(s.cache, id)
	return nil
}

func (s *memStore) UpdateAttemptFields(attemptID uint, sessionID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	s.attemptUpdates++
	for i := range s.session.Attempts {
		a := &s.session.Attempts[i]
		if a.ID != attemptID {
			continue
		}
		for k, v := range fields {
			switch k {
			case "audio_key":
				a.AudioKey = v.(string)
			case "audio_duration":
				a.AudioDuration = v.(float64)
			case "transcript":
				a.Transcript = v.(string)
			case "metrics":
				a.Metrics = v.([]byte)
			case "scored":
				a.Scored = v.(bool)
			case "unscored_reason":
				a.UnscoredReason = v.(string)
			case "total_score":
				a.TotalScore = v.(int)
			case "criterion_results":
				a.CriterionResults = v.([]byte)
			}
		}
	}
	delete(s.cache, sessionID)
	return nil
}

func (s *memStore) ListStuckSessions(olderThan time.Duration) ([]model.PracticeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && !s.session.Status.Terminal() {
		return []model.PracticeSession{*s.session}, nil
	}
	return nil, nil
}

func (s *memStore) ListAudioKeysByUser(userID uint) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	if s.session != nil && s.session.UserID == userID {
		for _, a := range s.session.Attempts {
			if a.AudioKey != "" {
				keys = append(keys, a.AudioKey)
			}
		}
	}
	return keys, nil
}

func (s *memStore) DeleteSessionsByUser(userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && s.session.UserID == userID {
		s.session = nil
	}
	return nil
}

func (s *memStore) GetCachedStatus(ctx context.Context, sessionID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[sessionID]
}

func (s *memStore) SetCachedStatus(ctx context.Context, sessionID string, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[sessionID] = payload
}

// fakeUploader 键名包含 failSubstring 的上传失败
type fakeUploader struct {
	mu            sync.Mutex
	failSubstring string
	putKeys       []string
	deletedKeys   []string
}

func (u *fakeUploader) Put(ctx context.Context, key string, data []byte, contentType string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failSubstring != "" && strings.Contains(key, u.failSubstring) {
		return errors.New("storage unavailable")
	}
	u.putKeys = append(u.putKeys, key)
	return nil
}

func (u *fakeUploader) PresignedURL(ctx context.Context, key string) (string, error) {
	return "https://storage.example/" + key, nil
}

func (u *fakeUploader) Delete(ctx context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.deletedKeys = append(u.deletedKeys, key)
	return nil
}

// fakeTranscriber 按文件名定制结果，默认返回一段可评分的文本
type fakeTranscriber struct {
	results map[string]*model.TranscriptionResult
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) *model.TranscriptionResult {
	if r, ok := f.results[filename]; ok {
		return r
	}
	return &model.TranscriptionResult{Text: "I like summer best because the days are long.", Confidence: 0.9, Duration: 30}
}

// fakeScorer 按题目ID返回固定分数，errFor 中的题目评分失败
type fakeScorer struct {
	scores map[uint]int
	errFor map[uint]bool
}

func (f *fakeScorer) Score(ctx context.Context, criterion model.Criterion, question *model.Question, transcript string, metrics *model.PronunciationMetrics) (*model.CriterionResult, error) {
	if f.errFor[question.ID] {
		return nil, errors.New("scoring provider down")
	}
	score := 80
	if v, ok := f.scores[question.ID]; ok {
		score = v
	}
	return &model.CriterionResult{
		Criterion: criterion,
		Score:     score,
		Weight:    model.WeightFor(question.Module, criterion),
	}, nil
}

type fakeQuestions struct {
	questions []model.Question
}

func (f *fakeQuestions) FindByIDs(ids []uint) ([]model.Question, error) {
	return f.questions, nil
}

func questionSet(modules ...model.ModuleType) []model.Question {
	var qs []model.Question
	for i, m := range modules {
		q := model.Question{Module: m, Content: fmt.Sprintf("question %d", i+1), Enabled: true}
		q.ID = uint(i + 1)
		qs = append(qs, q)
	}
	return qs
}

// seedSession 在内存存储里建好会话，返回会话ID与对应的上传内容
func seedSession(store *memStore, sessionType model.SessionType, questions []model.Question) (string, map[uint]AnswerUpload) {
	session := &model.PracticeSession{
		UserID:    1,
		Type:      sessionType,
		Status:    model.StatusPending,
		Stage:     model.StageUploading,
		StartedAt: time.Now(),
	}
	uploads := make(map[uint]AnswerUpload)
	for i := range questions {
		q := questions[i]
		session.Attempts = append(session.Attempts, model.QuestionAttempt{
			QuestionID: q.ID,
			Question:   &questions[i],
			Module:     q.Module,
			Order:      i + 1,
		})
		uploads[q.ID] = AnswerUpload{
			QuestionID:  q.ID,
			Data:        []byte("fake-audio"),
			Filename:    fmt.Sprintf("q%d.webm", q.ID),
			ContentType: "audio/webm",
		}
	}
	store.CreateSession(session)
	return session.ID, uploads
}

func newTestService(store *memStore, uploader *fakeUploader, transcriber *fakeTranscriber, scorer *fakeScorer, questions []model.Question) *SubmissionService {
	return NewSubmissionService(store, uploader, transcriber, scorer,
		&fakeQuestions{questions: questions}, 2, 5*time.Second, 30*time.Minute)
}

func TestProcessHappyPath(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartA)
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, &fakeScorer{}, questions)
	sid, uploads := seedSession(store, model.SessionPartA, questions)

	svc.Process(context.Background(), sid, uploads)

	session := store.session
	if session.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", session.Status)
	}
	if session.Stage != model.StageDone {
		t.Errorf("stage = %s, want done", session.Stage)
	}
	if session.TotalScore == nil || *session.TotalScore != 80 {
		t.Errorf("total = %v, want 80", session.TotalScore)
	}
	if session.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	for _, a := range session.Attempts {
		if !a.Scored || a.TotalScore != 80 {
			t.Errorf("attempt %d: scored=%v total=%d, want scored with 80", a.ID, a.Scored, a.TotalScore)
		}
		if a.AudioKey == "" {
			t.Errorf("attempt %d: audio key not persisted", a.ID)
		}
		if !model.TranscriptUsable(a.Transcript) {
			t.Errorf("attempt %d: transcript not persisted", a.ID)
		}
	}

	var averages map[model.Criterion]int
	if err := json.Unmarshal(session.CriterionAverages, &averages); err != nil {
		t.Fatalf("criterion averages not persisted: %v", err)
	}
	if averages[model.CriterionTopicDevelopment] != 80 {
		t.Errorf("topic_development average = %d, want 80", averages[model.CriterionTopicDevelopment])
	}
}

func TestProcessUploadFailureDoesNotStallSession(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartA, model.ModulePartA)
	uploader := &fakeUploader{failSubstring: "/2."}
	svc := newTestService(store, uploader, &fakeTranscriber{}, &fakeScorer{}, questions)
	sid, uploads := seedSession(store, model.SessionPartA, questions)

	svc.Process(context.Background(), sid, uploads)

	session := store.session
	if session.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed despite one upload failure", session.Status)
	}

	failed := session.Attempts[1]
	if failed.Scored || failed.UnscoredReason != model.ReasonUploadFailed || failed.TotalScore != 0 {
		t.Errorf("attempt 2: scored=%v reason=%q total=%d, want unscored upload_failed with 0",
			failed.Scored, failed.UnscoredReason, failed.TotalScore)
	}
	// (80 + 0 + 80) / 3 = 53.3 → 53
	if session.TotalScore == nil || *session.TotalScore != 53 {
		t.Errorf("total = %v, want 53 (zero included in the average)", session.TotalScore)
	}
}

func TestProcessTranscriptionFailure(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartA)
	transcriber := &fakeTranscriber{results: map[string]*model.TranscriptionResult{
		"q2.webm": {Text: model.TranscriptFailedSentinel, Failed: true, FailReason: model.ReasonNoSpeech},
	}}
	svc := newTestService(store, &fakeUploader{}, transcriber, &fakeScorer{}, questions)
	sid, uploads := seedSession(store, model.SessionPartA, questions)

	svc.Process(context.Background(), sid, uploads)

	session := store.session
	if session.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", session.Status)
	}
	failed := session.Attempts[1]
	if failed.Scored || failed.UnscoredReason != model.ReasonNoSpeech {
		t.Errorf("attempt 2: scored=%v reason=%q, want unscored no_speech", failed.Scored, failed.UnscoredReason)
	}
	if failed.Transcript != model.TranscriptFailedSentinel {
		t.Errorf("transcript = %q, want the failure sentinel persisted", failed.Transcript)
	}
	if len(failed.CriterionResults) != 0 {
		t.Error("no criterion scores may be populated for a failed transcript")
	}
}

func TestProcessScoringFailure(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartA)
	scorer := &fakeScorer{errFor: map[uint]bool{1: true}}
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, scorer, questions)
	sid, uploads := seedSession(store, model.SessionPartA, questions)

	svc.Process(context.Background(), sid, uploads)

	session := store.session
	if session.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", session.Status)
	}
	failed := session.Attempts[0]
	if failed.Scored || failed.UnscoredReason != model.ReasonScoringFailed || failed.TotalScore != 0 {
		t.Errorf("attempt 1: scored=%v reason=%q total=%d, want unscored scoring_failed with 0",
			failed.Scored, failed.UnscoredReason, failed.TotalScore)
	}
	if session.Attempts[1].TotalScore != 80 {
		t.Errorf("attempt 2 total = %d, want 80", session.Attempts[1].TotalScore)
	}
}

func TestProcessSimulationAggregation(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartB, model.ModulePartC, model.ModulePartC)
	scorer := &fakeScorer{scores: map[uint]int{1: 80, 2: 60, 3: 90, 4: 70}}
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, scorer, questions)
	sid, uploads := seedSession(store, model.SessionSimulation, questions)

	svc.Process(context.Background(), sid, uploads)

	session := store.session
	if session.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", session.Status)
	}
	// 80*0.25 + 60*0.25 + avg(90,70)*0.50 = 75
	if session.TotalScore == nil || *session.TotalScore != 75 {
		t.Errorf("total = %v, want 75", session.TotalScore)
	}

	var moduleScores map[model.ModuleType]int
	if err := json.Unmarshal(session.ModuleScores, &moduleScores); err != nil {
		t.Fatalf("module scores not persisted: %v", err)
	}
	if moduleScores[model.ModulePartC] != 80 {
		t.Errorf("part_c module score = %d, want 80", moduleScores[model.ModulePartC])
	}
}

func TestProcessLoadsQuestionsWhenStoreOmitsThem(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartA)
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, &fakeScorer{}, questions)
	sid, uploads := seedSession(store, model.SessionPartA, questions)

	// 存储层查询可能不带题目关联，流水线必须自己补齐
	for i := range store.session.Attempts {
		store.session.Attempts[i].Question = nil
	}

	svc.Process(context.Background(), sid, uploads)

	session := store.session
	if session.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed without preloaded questions", session.Status)
	}
	for _, a := range session.Attempts {
		if !a.Scored || a.TotalScore != 80 {
			t.Errorf("attempt %d: scored=%v total=%d, want scored with 80", a.ID, a.Scored, a.TotalScore)
		}
	}
}

func TestProcessTerminalSessionIsNoop(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA)
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, &fakeScorer{}, questions)
	sid, uploads := seedSession(store, model.SessionPartA, questions)
	store.session.Status = model.StatusCompleted

	svc.Process(context.Background(), sid, uploads)

	if store.sessionUpdates != 0 || store.attemptUpdates != 0 {
		t.Errorf("terminal session must not be touched: %d session updates, %d attempt updates",
			store.sessionUpdates, store.attemptUpdates)
	}
}

func TestSubmitValidation(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartB)
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, &fakeScorer{}, questions)

	if _, err := svc.Submit(context.Background(), 1, model.SessionPartA, nil); !errors.Is(err, util.ErrEmptySubmission) {
		t.Errorf("empty submission: err = %v, want ErrEmptySubmission", err)
	}

	// part_a 会话里混入 part_b 的题目
	answers := []AnswerUpload{
		{QuestionID: 1, Data: []byte("a"), Filename: "q1.webm"},
		{QuestionID: 2, Data: []byte("a"), Filename: "q2.webm"},
	}
	if _, err := svc.Submit(context.Background(), 1, model.SessionPartA, answers); !errors.Is(err, util.ErrBadSessionComposition) {
		t.Errorf("mixed modules: err = %v, want ErrBadSessionComposition", err)
	}

	// 全真模拟缺少 part_c 的两道题
	if _, err := svc.Submit(context.Background(), 1, model.SessionSimulation, answers); !errors.Is(err, util.ErrBadSessionComposition) {
		t.Errorf("bad simulation composition: err = %v, want ErrBadSessionComposition", err)
	}
}

func TestSubmitRunsPipeline(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartA)
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, &fakeScorer{}, questions)

	answers := []AnswerUpload{
		{QuestionID: 1, Data: []byte("a"), Filename: "q1.webm", ContentType: "audio/webm"},
		{QuestionID: 2, Data: []byte("a"), Filename: "q2.webm", ContentType: "audio/webm"},
	}
	sid, err := svc.Submit(context.Background(), 1, model.SessionPartA, answers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid == "" {
		t.Fatal("Submit must return the session id immediately")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		terminal := store.session != nil && store.session.Status.Terminal()
		store.mu.Unlock()
		if terminal {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session did not reach a terminal state")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if store.session.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", store.session.Status)
	}
}

func TestGetStatusIdempotent(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA)
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, &fakeScorer{}, questions)
	sid, uploads := seedSession(store, model.SessionPartA, questions)
	svc.Process(context.Background(), sid, uploads)

	first, err := svc.GetStatus(context.Background(), sid, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.GetStatus(context.Background(), sid, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("repeated polls without writes must return identical results:\n%s\n%s", a, b)
	}
	if first.Status != model.StatusCompleted {
		t.Errorf("status = %s, want completed", first.Status)
	}
	if len(first.Attempts) != 1 || first.Attempts[0].State != "scored" {
		t.Errorf("attempt state = %+v, want scored", first.Attempts)
	}
}

func TestGetStatusWrongUser(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA)
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, &fakeScorer{}, questions)
	sid, _ := seedSession(store, model.SessionPartA, questions)

	if _, err := svc.GetStatus(context.Background(), sid, 42); err == nil {
		t.Error("another user's session must not be visible")
	}
}

func TestEraseUserRemovesRecordings(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA, model.ModulePartA)
	uploader := &fakeUploader{}
	svc := newTestService(store, uploader, &fakeTranscriber{}, &fakeScorer{}, questions)
	sid, uploads := seedSession(store, model.SessionPartA, questions)
	svc.Process(context.Background(), sid, uploads)

	if err := svc.EraseUser(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uploader.deletedKeys) != 2 {
		t.Errorf("deleted %d objects, want 2", len(uploader.deletedKeys))
	}
	if store.session != nil {
		t.Error("session rows should be gone")
	}
}

func TestReapStuckSessions(t *testing.T) {
	store := newMemStore()
	questions := questionSet(model.ModulePartA)
	svc := newTestService(store, &fakeUploader{}, &fakeTranscriber{}, &fakeScorer{}, questions)
	seedSession(store, model.SessionPartA, questions)
	store.session.Status = model.StatusInProgress

	svc.ReapStuckSessions()

	if store.session.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", store.session.Status)
	}
	if store.session.FailReason == "" {
		t.Error("fail reason should be recorded")
	}
}
