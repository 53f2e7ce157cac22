// internal/services/interview_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
)

// ------------------------------------------------
// 测试替身：内存草稿存储和固定响应的AI解释器
// ------------------------------------------------

type fakeStore struct {
	mu       sync.Mutex
	drafts   map[string]*models.Draft
	approved map[string]*models.ApprovedPrimitiveList

	failPrimitiveSave bool
	failStateSave     bool
	failInsert        bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drafts:   make(map[string]*models.Draft),
		approved: make(map[string]*models.ApprovedPrimitiveList),
	}
}

func (f *fakeStore) putDraft(draft *models.Draft) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[draft.ID] = draft
}

func (f *fakeStore) GetDraft(userID, draftID string) (*models.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	draft, exists := f.drafts[draftID]
	if !exists || draft.UserID != userID {
		return nil, apperrors.NewNotFoundError("草稿不存在: "+draftID, nil)
	}

	copied := *draft
	copied.Primitive = draft.Primitive.Clone()
	copied.EnhancedPrimitive = draft.EnhancedPrimitive.Clone()
	return &copied, nil
}

func (f *fakeStore) UpdatePrimitive(userID, draftID string, primitive models.Primitive) (*models.Draft, error) {
	if f.failPrimitiveSave {
		return nil, apperrors.NewPersistenceError("保存草稿失败", errors.New("disk full"))
	}

	f.mu.Lock()
	f.drafts[draftID].Primitive = primitive.Clone()
	f.mu.Unlock()

	return f.GetDraft(userID, draftID)
}

func (f *fakeStore) UpdateEnhancedPrimitive(userID, draftID string, enhanced models.Primitive) (*models.Draft, error) {
	f.mu.Lock()
	f.drafts[draftID].EnhancedPrimitive = enhanced.Clone()
	f.mu.Unlock()

	return f.GetDraft(userID, draftID)
}

func (f *fakeStore) UpdateWorkflowState(userID, draftID string, state models.WorkflowState) (*models.Draft, error) {
	if f.failStateSave {
		return nil, apperrors.NewPersistenceError("保存草稿失败", errors.New("disk full"))
	}

	f.mu.Lock()
	f.drafts[draftID].WorkflowState = state
	f.mu.Unlock()

	return f.GetDraft(userID, draftID)
}

func (f *fakeStore) UpdateVideo(userID, draftID, videoURL, videoStatus string) (*models.Draft, error) {
	f.mu.Lock()
	f.drafts[draftID].VideoURL = videoURL
	f.drafts[draftID].VideoStatus = videoStatus
	f.mu.Unlock()

	return f.GetDraft(userID, draftID)
}

func (f *fakeStore) InsertApprovedRecord(userID, documentID string, primitive models.Primitive) (*models.ApprovedPrimitive, error) {
	if f.failInsert {
		return nil, apperrors.NewPersistenceError("保存批准记录失败", errors.New("disk full"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	list, exists := f.approved[documentID]
	if !exists {
		list = &models.ApprovedPrimitiveList{DocumentID: documentID}
		f.approved[documentID] = list
	}

	record := models.ApprovedPrimitive{
		ID:         "appr_" + documentID + "_" + string(rune('a'+len(list.Records))),
		DocumentID: documentID,
		UserID:     userID,
		Primitive:  primitive.Clone(),
	}
	list.Records = append(list.Records, record)

	return &record, nil
}

func (f *fakeStore) LatestApproved(userID, documentID string) (*models.ApprovedPrimitive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, exists := f.approved[documentID]
	if !exists || list.Latest() == nil {
		return nil, apperrors.NewNotFoundError("文档没有批准记录: "+documentID, nil)
	}

	latest := *list.Latest()
	return &latest, nil
}

func (f *fakeStore) UpdateApprovedScripts(userID, documentID, recordID, finalScript, approvedScript string) (*models.ApprovedPrimitive, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, exists := f.approved[documentID]
	if !exists {
		return nil, apperrors.NewNotFoundError("批准记录不存在: "+recordID, nil)
	}

	for i := range list.Records {
		if list.Records[i].ID == recordID {
			list.Records[i].FinalScript = finalScript
			list.Records[i].ApprovedScript = approvedScript
			record := list.Records[i]
			return &record, nil
		}
	}

	return nil, apperrors.NewNotFoundError("批准记录不存在: "+recordID, nil)
}

func (f *fakeStore) recordCount(documentID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if list, exists := f.approved[documentID]; exists {
		return len(list.Records)
	}
	return 0
}

type fakeResolver struct {
	enhanced   models.Primitive
	enhanceErr error

	instructionResult *InstructionResult
	instructionErr    error

	regenScript string
	regenErr    error
}

func (f *fakeResolver) EnhancePrimitive(ctx context.Context, primitive models.Primitive) (models.Primitive, error) {
	if f.enhanceErr != nil {
		return nil, f.enhanceErr
	}
	return f.enhanced.Clone(), nil
}

func (f *fakeResolver) ResolveInstruction(ctx context.Context, instruction string, history []models.Message, current models.Primitive) (*InstructionResult, error) {
	if f.instructionErr != nil {
		return nil, f.instructionErr
	}
	return f.instructionResult, nil
}

func (f *fakeResolver) RegenerateScript(ctx context.Context, primitive models.Primitive) (string, error) {
	return f.regenScript, f.regenErr
}

func newTestInterviewService(store *fakeStore, resolver *fakeResolver) *InterviewService {
	approval := NewApprovalService(store, resolver)
	return NewInterviewService(store, resolver, approval)
}

func seedDraft(store *fakeStore, primitive models.Primitive) *models.Draft {
	draft := &models.Draft{
		ID:            "draft_1",
		UserID:        "user_1",
		DocumentID:    "doc_1",
		ScriptText:    "a short script",
		Primitive:     primitive,
		WorkflowState: models.WorkflowPrimitiveClarification,
	}
	store.putDraft(draft)
	return draft
}

func lastMessage(t *testing.T, sess *InterviewSession) models.Message {
	t.Helper()
	snap := sess.Snapshot()
	if len(snap.Messages) == 0 {
		t.Fatal("会话没有任何消息")
	}
	return snap.Messages[len(snap.Messages)-1]
}

// ------------------------------------------------
// 引导访谈
// ------------------------------------------------

// TestOpenInterview_PromptsFirstMissingField 打开会话后按声明顺序提示第一个缺失字段
func TestOpenInterview_PromptsFirstMissingField(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{enhanced: models.Primitive{"trigger_condition": "door opens"}}
	svc := newTestInterviewService(store, resolver)

	sess, err := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	if err != nil {
		t.Fatalf("OpenInterview: %v", err)
	}

	msg := lastMessage(t, sess)
	if msg.Role != models.RoleAssistant {
		t.Errorf("首条消息角色 = %q, want assistant", msg.Role)
	}
	if !strings.Contains(msg.Content, `"trigger_condition"`) {
		t.Errorf("应提示 trigger_condition 缺失: %q", msg.Content)
	}
	if !strings.Contains(msg.Content, `"door opens"`) {
		t.Errorf("应包含建议值: %q", msg.Content)
	}
}

// TestAcceptSuggestion_PersistsAndAdvances 接受建议写入基元并步进到下一个字段
func TestAcceptSuggestion_PersistsAndAdvances(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{enhanced: models.Primitive{
		"trigger_condition": "door opens",
		"preconditions":     "guard on duty",
	}}
	svc := newTestInterviewService(store, resolver)

	sess, err := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	if err != nil {
		t.Fatalf("OpenInterview: %v", err)
	}

	if err := sess.AcceptSuggestion(); err != nil {
		t.Fatalf("AcceptSuggestion: %v", err)
	}

	// 写穿到存储
	draft, _ := store.GetDraft("user_1", "draft_1")
	if draft.Primitive["trigger_condition"] != "door opens" {
		t.Errorf("接受的值未持久化: %v", draft.Primitive)
	}

	snap := sess.Snapshot()
	if snap.StepIndex != 1 {
		t.Errorf("StepIndex = %d, want 1", snap.StepIndex)
	}

	// 确认消息恰好一条，随后是下一个字段的提示
	var confirmations int
	for _, msg := range snap.Messages {
		if strings.Contains(msg.Content, "Accepted AI suggestion") {
			confirmations++
		}
	}
	if confirmations != 1 {
		t.Errorf("确认消息数 = %d, want 1", confirmations)
	}
	// 步进索引指向重新计算后的缺失列表：已接受的字段离开列表，
	// 所以下一个提示是 missing[1] = required_action
	if !strings.Contains(lastMessage(t, sess).Content, `"required_action"`) {
		t.Errorf("应提示下一个缺失字段: %q", lastMessage(t, sess).Content)
	}
}

// TestAcceptSuggestion_NoSuggestionIsNoop 当前字段没有建议值时接受是无操作
func TestAcceptSuggestion_NoSuggestionIsNoop(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{enhanced: models.Primitive{}}
	svc := newTestInterviewService(store, resolver)

	sess, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	before := sess.Snapshot()

	if err := sess.AcceptSuggestion(); err != nil {
		t.Fatalf("AcceptSuggestion: %v", err)
	}

	after := sess.Snapshot()
	if after.StepIndex != before.StepIndex {
		t.Error("无建议时不应步进")
	}
	if len(after.Messages) != len(before.Messages) {
		t.Error("无建议时不应追加消息")
	}
}

// TestAcceptSuggestion_SaveFailureBlocksAdvance 保存失败必须阻止步进
func TestAcceptSuggestion_SaveFailureBlocksAdvance(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{enhanced: models.Primitive{"trigger_condition": "door opens"}}
	svc := newTestInterviewService(store, resolver)

	sess, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	store.failPrimitiveSave = true

	err := sess.AcceptSuggestion()
	if !apperrors.IsPersistenceError(err) {
		t.Fatalf("期望持久化错误，得到: %v", err)
	}

	snap := sess.Snapshot()
	if snap.StepIndex != 0 {
		t.Errorf("保存失败后 StepIndex = %d, want 0", snap.StepIndex)
	}
	if _, exists := snap.Primitive["trigger_condition"]; exists {
		t.Error("保存失败后会话基元不应变更")
	}
}

// TestSkip_SetsEmptyValue 跳过写入显式空字符串（present but skipped）
func TestSkip_SetsEmptyValue(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{enhanced: models.Primitive{}}
	svc := newTestInterviewService(store, resolver)

	sess, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	if err := sess.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	draft, _ := store.GetDraft("user_1", "draft_1")
	value, exists := draft.Primitive["trigger_condition"]
	if !exists || value != "" {
		t.Errorf("跳过后字段应为显式空字符串: %v", draft.Primitive)
	}

	// 跳过的字段不再缺失
	missing := draft.Primitive.MissingFields()
	for _, field := range missing {
		if field == "trigger_condition" {
			t.Error("跳过的字段不应继续出现在缺失列表")
		}
	}
}

// TestAcceptThenSkip_MonotonicStep 接受后跳过，步进单调前进，不回访已处理字段
func TestAcceptThenSkip_MonotonicStep(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{enhanced: models.Primitive{"trigger_condition": "door opens"}}
	svc := newTestInterviewService(store, resolver)

	sess, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")

	if err := sess.AcceptSuggestion(); err != nil {
		t.Fatalf("AcceptSuggestion: %v", err)
	}
	if err := sess.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}

	snap := sess.Snapshot()
	if snap.StepIndex != 2 {
		t.Errorf("StepIndex = %d, want 2", snap.StepIndex)
	}

	// 接受 trigger_condition 后缺失列表重新计算，
	// Skip 作用在 missing[1] = required_action 上
	for _, field := range snap.Completion.Missing {
		if field == "trigger_condition" || field == "required_action" {
			t.Errorf("已处理的字段不应继续缺失: %s", field)
		}
	}
	if value, exists := snap.Primitive["required_action"]; !exists || value != "" {
		t.Errorf("跳过的字段应为显式空字符串: %v", snap.Primitive)
	}

	// 步进索引只增不减：当前提示在已处理字段之后
	if !strings.Contains(lastMessage(t, sess).Content, `"failure_consequences"`) {
		t.Errorf("应提示 failure_consequences: %q", lastMessage(t, sess).Content)
	}
}

// TestCompletion_AnnouncedExactlyOnce 完成通知只发一次
func TestCompletion_AnnouncedExactlyOnce(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{
		"who":                  "guard",
		"trigger_condition":    "door opens",
		"preconditions":        "on duty",
		"required_action":      "lock the door",
		"verification_method":  "camera check",
	})
	resolver := &fakeResolver{
		enhanced:          models.Primitive{"failure_consequences": "incident report"},
		instructionResult: &InstructionResult{AIMessage: "Nothing to change."},
	}
	svc := newTestInterviewService(store, resolver)

	sess, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")

	// 接受最后一个缺失字段 -> 完成
	if err := sess.AcceptSuggestion(); err != nil {
		t.Fatalf("AcceptSuggestion: %v", err)
	}

	// 完成后的其他操作不应重复完成通知
	sess.Skip()
	sess.SubmitInstruction(context.Background(), "looks good")

	var completions int
	for _, msg := range sess.Snapshot().Messages {
		if strings.Contains(msg.Content, "All required fields are complete") {
			completions++
		}
	}
	if completions != 1 {
		t.Errorf("完成通知数 = %d, want 1", completions)
	}
}

// ------------------------------------------------
// 自由文本指令
// ------------------------------------------------

// TestSubmitInstruction_MergesAndPersists 解释出的更新按覆盖策略合并并持久化
func TestSubmitInstruction_MergesAndPersists(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X", "required_action": "lock the door"})
	resolver := &fakeResolver{
		enhanced:          models.Primitive{},
		instructionResult: &InstructionResult{Updates: models.Primitive{"who": "supervisor"}},
	}
	svc := newTestInterviewService(store, resolver)

	sess, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	if err := sess.SubmitInstruction(context.Background(), "change who to supervisor"); err != nil {
		t.Fatalf("SubmitInstruction: %v", err)
	}

	draft, _ := store.GetDraft("user_1", "draft_1")
	if draft.Primitive["who"] != "supervisor" {
		t.Errorf("更新未持久化: %v", draft.Primitive)
	}
	if draft.Primitive["required_action"] != "lock the door" {
		t.Error("未提及的字段应保持不变")
	}

	// 回显更新后的基元，随后重新评估会继续提示缺失字段
	var echoed bool
	for _, msg := range sess.Snapshot().Messages {
		if strings.Contains(msg.Content, "Primitive Updated:") &&
			strings.Contains(msg.Content, "supervisor") {
			echoed = true
		}
	}
	if !echoed {
		t.Error("应回显更新后的基元")
	}
}

// TestSubmitInstruction_AIFailureAppendsFixedMessage AI失败只追加固定消息，不变更基元，不返回错误
func TestSubmitInstruction_AIFailureAppendsFixedMessage(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{
		enhanced:       models.Primitive{},
		instructionErr: apperrors.NewServiceError("自由文本编辑服务调用失败", errors.New("timeout")),
	}
	svc := newTestInterviewService(store, resolver)

	sess, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	before, _ := store.GetDraft("user_1", "draft_1")

	if err := sess.SubmitInstruction(context.Background(), "change who"); err != nil {
		t.Fatalf("AI失败不应向调用方传播: %v", err)
	}

	if lastMessage(t, sess).Content != msgResolveFailed {
		t.Errorf("应追加固定失败消息, got %q", lastMessage(t, sess).Content)
	}

	after, _ := store.GetDraft("user_1", "draft_1")
	if len(after.Primitive) != len(before.Primitive) {
		t.Error("AI失败不应变更基元")
	}
}

// TestSubmitInstruction_NoUpdatesUsesAIMessage 没有更新时回显AI消息，空消息用占位符
func TestSubmitInstruction_NoUpdatesUsesAIMessage(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{
		enhanced:          models.Primitive{},
		instructionResult: &InstructionResult{},
	}
	svc := newTestInterviewService(store, resolver)

	sess, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	if err := sess.SubmitInstruction(context.Background(), "what do you think?"); err != nil {
		t.Fatalf("SubmitInstruction: %v", err)
	}

	if !strings.Contains(lastMessage(t, sess).Content, msgNoAIReply) {
		t.Errorf("空AI消息应使用占位符: %q", lastMessage(t, sess).Content)
	}
}

// TestReopen_ClosesPreviousSession 再次打开会话后旧会话的结果被静默丢弃
func TestReopen_ClosesPreviousSession(t *testing.T) {
	store := newFakeStore()
	seedDraft(store, models.Primitive{"who": "X"})
	resolver := &fakeResolver{
		enhanced:          models.Primitive{},
		instructionResult: &InstructionResult{Updates: models.Primitive{"who": "supervisor"}},
	}
	svc := newTestInterviewService(store, resolver)

	old, _ := svc.OpenInterview(context.Background(), "user_1", "draft_1")
	oldCount := len(old.Snapshot().Messages)

	if _, err := svc.OpenInterview(context.Background(), "user_1", "draft_1"); err != nil {
		t.Fatalf("重新打开会话: %v", err)
	}

	// 旧会话已关闭：指令被丢弃，不追加消息也不报错
	if err := old.SubmitInstruction(context.Background(), "change who"); err != nil {
		t.Fatalf("关闭会话上的指令不应报错: %v", err)
	}
	if len(old.Snapshot().Messages) != oldCount {
		t.Error("关闭会话不应追加消息")
	}
}
