// internal/services/interview_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/utils"
)

// 访谈会话的用户可见消息
// 这些文案直接出现在对话面板里，保持英文
const (
	msgCompletion         = "All required fields are complete.\n\nDo you want to make any further changes or approve?"
	msgStandingPrompt     = "\n\nDo you want to make further changes or approve?"
	msgResolveFailed      = "Could not process instruction."
	msgNoAIReply          = "AI did not respond."
	msgApproved           = "Primitive approved for video generation."
	msgRegenerated        = "Script regenerated. Approve it to save."
	msgRegenApproved      = "Regenerated script approved."
	msgRegenApproveFailed = "Failed to approve regenerated script."
)

// DraftStoreInterface 访谈控制器需要的草稿持久化操作
type DraftStoreInterface interface {
	GetDraft(userID, draftID string) (*models.Draft, error)
	UpdatePrimitive(userID, draftID string, primitive models.Primitive) (*models.Draft, error)
	UpdateEnhancedPrimitive(userID, draftID string, enhanced models.Primitive) (*models.Draft, error)
}

// InstructionResolverInterface 访谈控制器需要的AI操作
type InstructionResolverInterface interface {
	EnhancePrimitive(ctx context.Context, primitive models.Primitive) (models.Primitive, error)
	ResolveInstruction(ctx context.Context, instruction string, history []models.Message, current models.Primitive) (*InstructionResult, error)
}

// MessageListener 接收会话新消息的监听器（WebSocket推送用）
type MessageListener interface {
	SessionMessage(draftID string, msg models.Message)
}

// InterviewService 引导访谈控制器的会话管理器
// 每个草稿同一时刻只有一个打开的会话：再次打开会关闭前一个
type InterviewService struct {
	drafts   DraftStoreInterface
	llm      InstructionResolverInterface
	approval *ApprovalService
	logger   *utils.Logger

	mu       sync.Mutex
	sessions map[string]*InterviewSession // draftID -> 当前会话

	listener MessageListener
}

// NewInterviewService 创建访谈服务
func NewInterviewService(drafts DraftStoreInterface, llmService InstructionResolverInterface, approval *ApprovalService) *InterviewService {
	return &InterviewService{
		drafts:   drafts,
		llm:      llmService,
		approval: approval,
		logger:   utils.GetLogger(),
		sessions: make(map[string]*InterviewSession),
	}
}

// SetMessageListener 设置会话消息监听器
func (s *InterviewService) SetMessageListener(listener MessageListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
}

// InterviewSession 一次引导访谈的显式会话对象
// 状态机：状态是 (stepIndex, primitive)，迁移是 AcceptSuggestion/Skip，
// stepIndex 单调递增，missingFields 为空即终态
type InterviewSession struct {
	mu sync.Mutex

	DraftID    string
	UserID     string
	DocumentID string

	primitive models.Primitive
	enhanced  models.Primitive

	messages  []models.Message
	stepIndex int

	// completionAnnounced 完成通知只发一次的显式标志
	// （取代检查"最后一条消息的角色"的隐式判断）
	completionAnnounced bool

	// 批准后解锁脚本再生成周期
	regenerateUnlocked bool
	// regeneratedScript 再生成脚本的暂存值，批准后写入存储并清空
	regeneratedScript string

	closed bool

	svc *InterviewService
}

// OpenInterview 打开草稿的访谈会话
// 增强基元为空时在此惰性计算；失败只降级为无建议，不阻塞访谈
func (s *InterviewService) OpenInterview(ctx context.Context, userID, draftID string) (*InterviewSession, error) {
	draft, err := s.drafts.GetDraft(userID, draftID)
	if err != nil {
		return nil, err
	}

	enhanced := draft.EnhancedPrimitive
	if enhancedIsEmpty(enhanced) {
		computed, err := s.llm.EnhancePrimitive(ctx, draft.Primitive)
		if err != nil {
			s.logger.Warnf("基元增强失败，访谈继续（无建议）: %v", err)
			computed = models.Primitive{}
		} else if updated, err := s.drafts.UpdateEnhancedPrimitive(userID, draftID, computed); err != nil {
			// 增强结果保存失败不阻塞访谈，本次会话仍可使用建议
			s.logger.Warnf("保存增强基元失败: %v", err)
		} else {
			draft = updated
		}
		enhanced = computed
	}
	if enhanced == nil {
		enhanced = models.Primitive{}
	}

	session := &InterviewSession{
		DraftID:            draftID,
		UserID:             userID,
		DocumentID:         draft.DocumentID,
		primitive:          draft.Primitive.Clone(),
		enhanced:           enhanced.Clone(),
		regenerateUnlocked: draft.WorkflowState == models.WorkflowVideoReady,
		svc:                s,
	}

	s.mu.Lock()
	if prev, exists := s.sessions[draftID]; exists {
		prev.markClosed()
	}
	s.sessions[draftID] = session
	s.mu.Unlock()

	session.mu.Lock()
	session.evaluate()
	session.mu.Unlock()

	return session, nil
}

// GetSession 获取草稿当前打开的会话
func (s *InterviewService) GetSession(draftID string) (*InterviewSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, exists := s.sessions[draftID]
	return session, exists
}

// CloseInterview 关闭草稿的访谈会话
func (s *InterviewService) CloseInterview(draftID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, exists := s.sessions[draftID]; exists {
		session.markClosed()
		delete(s.sessions, draftID)
	}
}

func (s *InterviewService) publish(draftID string, msg models.Message) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.SessionMessage(draftID, msg)
	}
}

// enhancedIsEmpty 增强基元没有任何非空值时视为未计算
func enhancedIsEmpty(p models.Primitive) bool {
	if len(p) == 0 {
		return true
	}
	for _, v := range p {
		if v != "" {
			return false
		}
	}
	return true
}

// ------------------------------------------------
// 会话操作
// ------------------------------------------------

func (sess *InterviewSession) markClosed() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.closed = true
}

// append 追加消息并推送给监听器
func (sess *InterviewSession) append(msg models.Message) {
	sess.messages = append(sess.messages, msg)
	sess.svc.publish(sess.DraftID, msg)
}

// evaluate 基元或步进变化后的重新评估：
// 还有缺失字段且步进未越界时给出当前字段的提示和建议值；
// 全部完成且未通知过时发出一次完成通知
func (sess *InterviewSession) evaluate() {
	state := sess.primitive.Completion()

	if !state.Complete() {
		if sess.stepIndex < len(state.Missing) {
			field := state.Missing[sess.stepIndex]
			suggestion := sess.enhanced[field]
			sess.append(models.NewAssistantMessage(
				fmt.Sprintf("Field %q is missing. Suggested: %q", field, suggestion)))
		}
		return
	}

	if !sess.completionAnnounced {
		sess.append(models.NewAssistantMessage(msgCompletion))
		sess.completionAnnounced = true
	}
}

// AcceptSuggestion 接受当前字段的AI建议
// 当前字段没有建议值时是无操作（不变更、不发消息）
// 保存失败时阻止步进并返回错误
func (sess *InterviewSession) AcceptSuggestion() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return nil
	}

	missing := sess.primitive.MissingFields()
	if len(missing) == 0 || sess.stepIndex >= len(missing) {
		return nil
	}

	field := missing[sess.stepIndex]
	value := sess.enhanced[field]
	if value == "" {
		return nil
	}

	updated := sess.primitive.Clone()
	updated[field] = value

	// 先持久化，成功后才步进（happens-before约束）
	draft, err := sess.svc.drafts.UpdatePrimitive(sess.UserID, sess.DraftID, updated)
	if err != nil {
		return err
	}
	sess.primitive = draft.Primitive.Clone()

	sess.append(models.NewAssistantMessage(fmt.Sprintf("Accepted AI suggestion for %q.", field)))
	sess.stepIndex++
	sess.evaluate()

	return nil
}

// Skip 跳过当前字段（显式置空字符串：present but skipped）
func (sess *InterviewSession) Skip() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return nil
	}

	missing := sess.primitive.MissingFields()
	if len(missing) == 0 || sess.stepIndex >= len(missing) {
		return nil
	}

	field := missing[sess.stepIndex]

	updated := sess.primitive.Clone()
	updated[field] = ""

	draft, err := sess.svc.drafts.UpdatePrimitive(sess.UserID, sess.DraftID, updated)
	if err != nil {
		return err
	}
	sess.primitive = draft.Primitive.Clone()

	sess.append(models.NewAssistantMessage(fmt.Sprintf("Skipped field %q.", field)))
	sess.stepIndex++
	sess.evaluate()

	return nil
}

// SubmitInstruction 处理自由文本编辑指令
// AI服务失败只追加固定的失败消息，不变更基元，不向上传播；
// 合并后的保存失败按持久化错误上报并中止本次变更
func (sess *InterviewSession) SubmitInstruction(ctx context.Context, instruction string) error {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return nil
	}
	sess.append(models.NewUserMessage(instruction))
	history := make([]models.Message, len(sess.messages))
	copy(history, sess.messages)
	current := sess.primitive.Clone()
	sess.mu.Unlock()

	// AI调用不持锁；调用一旦发出不可取消
	result, err := sess.svc.llm.ResolveInstruction(ctx, instruction, history, current)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// 会话在调用期间被关闭：静默丢弃结果
	if sess.closed {
		return nil
	}

	if err != nil {
		sess.svc.logger.Errorf("自由文本解释失败: %v", err)
		sess.append(models.NewAssistantMessage(msgResolveFailed))
		return nil
	}

	if len(result.Updates) > 0 {
		merged := sess.primitive.Merge(result.Updates)

		draft, err := sess.svc.drafts.UpdatePrimitive(sess.UserID, sess.DraftID, merged)
		if err != nil {
			sess.append(models.NewAssistantMessage("Failed to save primitive update."))
			return err
		}
		sess.primitive = draft.Primitive.Clone()

		pretty, _ := json.MarshalIndent(sess.primitive, "", "  ")
		sess.append(models.NewAssistantMessage(
			"Primitive Updated:\n" + string(pretty) + msgStandingPrompt))
		sess.evaluate()
		return nil
	}

	reply := result.AIMessage
	if reply == "" {
		reply = msgNoAIReply
	}
	sess.append(models.NewAssistantMessage(reply + msgStandingPrompt))
	return nil
}

// Approve 批准当前基元
// 委托批准门执行两段写入；失败原因逐条映射为对话消息
func (sess *InterviewSession) Approve() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	draft, err := sess.svc.drafts.GetDraft(sess.UserID, sess.DraftID)
	if err != nil {
		sess.append(models.NewAssistantMessage(fmt.Sprintf("Approval failed: %s", err.Error())))
		return err
	}

	result, err := sess.svc.approval.Approve(draft, sess.primitive)
	if err != nil {
		switch {
		case err == ErrMissingDocumentID:
			sess.append(models.NewAssistantMessage("Cannot approve: document id missing in draft."))
		case err == ErrEmptyPrimitive:
			sess.append(models.NewAssistantMessage("Cannot approve: primitive is empty."))
		case result != nil && result.RecordInserted:
			// 批准记录已写入但工作流状态更新失败：已知的不一致窗口
			sess.append(models.NewAssistantMessage(fmt.Sprintf("Failed to update draft workflow: %s", err.Error())))
		default:
			sess.append(models.NewAssistantMessage(fmt.Sprintf("Approval failed: %s", err.Error())))
		}
		return err
	}

	sess.append(models.NewAssistantMessage(msgApproved))
	sess.regenerateUnlocked = true

	return nil
}

// Regenerate 用批准记录再生成脚本，结果暂存在会话里（未持久化）
func (sess *InterviewSession) Regenerate(ctx context.Context) error {
	sess.mu.Lock()
	if !sess.regenerateUnlocked {
		sess.mu.Unlock()
		return ErrRegenerationLocked
	}
	userID, documentID := sess.UserID, sess.DocumentID
	sess.mu.Unlock()

	script, err := sess.svc.approval.Regenerate(ctx, userID, documentID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		return nil
	}

	if err != nil {
		switch {
		case err == ErrEmptyRegeneratedScript:
			sess.append(models.NewAssistantMessage("Script regeneration returned no script."))
		case isNotFound(err):
			sess.append(models.NewAssistantMessage("Primitive data not found, cannot regenerate."))
		default:
			sess.append(models.NewAssistantMessage("Script regeneration failed (service error)."))
		}
		return err
	}

	sess.regeneratedScript = script
	sess.append(models.NewAssistantMessage(msgRegenerated))

	return nil
}

// ApproveRegenerated 批准再生成脚本并写入批准记录
// text 非空时覆盖暂存值（用户可以在批准前编辑脚本）
func (sess *InterviewSession) ApproveRegenerated(text string) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	script := strings.TrimSpace(text)
	if script == "" {
		script = sess.regeneratedScript
	}
	if script == "" {
		return ErrNoRegeneratedScript
	}

	_, err := sess.svc.approval.ApproveRegenerated(sess.UserID, sess.DocumentID, script)
	if err != nil {
		// 保存失败：暂存值保留，可重试
		sess.append(models.NewAssistantMessage(msgRegenApproveFailed))
		return err
	}

	sess.append(models.NewAssistantMessage(msgRegenApproved))
	sess.regeneratedScript = ""

	return nil
}

// ------------------------------------------------
// 会话快照（渲染层使用）
// ------------------------------------------------

// SessionSnapshot 会话状态的只读视图
type SessionSnapshot struct {
	DraftID            string                 `json:"draft_id"`
	DocumentID         string                 `json:"document_id"`
	Primitive          models.Primitive       `json:"primitive"`
	Enhanced           models.Primitive       `json:"enhanced_primitive"`
	Messages           []models.Message       `json:"messages"`
	StepIndex          int                    `json:"step_index"`
	Completion         models.CompletionState `json:"completion"`
	RegenerateUnlocked bool                   `json:"regenerate_unlocked"`
	RegeneratedScript  string                 `json:"regenerated_script,omitempty"`
}

// Snapshot 返回会话当前状态的副本
func (sess *InterviewSession) Snapshot() SessionSnapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	messages := make([]models.Message, len(sess.messages))
	copy(messages, sess.messages)

	return SessionSnapshot{
		DraftID:            sess.DraftID,
		DocumentID:         sess.DocumentID,
		Primitive:          sess.primitive.Clone(),
		Enhanced:           sess.enhanced.Clone(),
		Messages:           messages,
		StepIndex:          sess.stepIndex,
		Completion:         sess.primitive.Completion(),
		RegenerateUnlocked: sess.regenerateUnlocked,
		RegeneratedScript:  sess.regeneratedScript,
	}
}
