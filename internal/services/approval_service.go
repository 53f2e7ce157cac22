// internal/services/approval_service.go
package services

import (
	"context"

	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/utils"
)

// 批准门与再生成周期的哨兵错误
var (
	ErrMissingDocumentID      = apperrors.NewValidationError("草稿缺少文档ID，无法批准", nil)
	ErrEmptyPrimitive         = apperrors.NewValidationError("基元为空，无法批准", nil)
	ErrRegenerationLocked     = apperrors.NewForbiddenError("脚本再生成在批准前不可用", nil)
	ErrNoRegeneratedScript    = apperrors.NewValidationError("没有待批准的再生成脚本", nil)
	ErrEmptyRegeneratedScript = apperrors.NewServiceError("脚本再生成返回了空脚本", nil)
)

// ApprovedRecordStoreInterface 批准门需要的持久化操作
type ApprovedRecordStoreInterface interface {
	InsertApprovedRecord(userID, documentID string, primitive models.Primitive) (*models.ApprovedPrimitive, error)
	LatestApproved(userID, documentID string) (*models.ApprovedPrimitive, error)
	UpdateApprovedScripts(userID, documentID, recordID, finalScript, approvedScript string) (*models.ApprovedPrimitive, error)
	UpdateWorkflowState(userID, draftID string, state models.WorkflowState) (*models.Draft, error)
}

// ScriptRegeneratorInterface 再生成周期需要的AI操作
type ScriptRegeneratorInterface interface {
	RegenerateScript(ctx context.Context, primitive models.Primitive) (string, error)
}

// RefreshNotifier 批准成功后通知外部刷新（列表视图、WebSocket客户端）
type RefreshNotifier interface {
	DraftApproved(draft *models.Draft)
	ApprovedScriptUpdated(record *models.ApprovedPrimitive)
}

// ApprovalResult 一次批准的结果
// 两段写入不是原子的：RecordInserted 为真而 Draft 为空时，
// 批准记录已落盘但工作流状态更新失败
type ApprovalResult struct {
	Record         *models.ApprovedPrimitive
	Draft          *models.Draft
	RecordInserted bool
}

// ApprovalService 批准门：校验、写批准记录、推进工作流状态
type ApprovalService struct {
	store    ApprovedRecordStoreInterface
	llm      ScriptRegeneratorInterface
	notifier RefreshNotifier
	logger   *utils.Logger
}

// NewApprovalService 创建批准服务
func NewApprovalService(store ApprovedRecordStoreInterface, llmService ScriptRegeneratorInterface) *ApprovalService {
	return &ApprovalService{
		store:  store,
		llm:    llmService,
		logger: utils.GetLogger(),
	}
}

// SetNotifier 设置刷新通知器
func (s *ApprovalService) SetNotifier(notifier RefreshNotifier) {
	s.notifier = notifier
}

// Approve 批准草稿的当前基元
// 校验顺序固定：先查文档ID，再查基元非空
// 写入顺序固定：先插入批准记录，再推进工作流状态；
// 第二步失败时第一步不回滚（见 DESIGN.md）
// 重复批准不去重：每次调用都追加一条新记录
func (s *ApprovalService) Approve(draft *models.Draft, primitive models.Primitive) (*ApprovalResult, error) {
	if draft.DocumentID == "" {
		return nil, ErrMissingDocumentID
	}
	if primitive.IsEmpty() {
		return nil, ErrEmptyPrimitive
	}

	record, err := s.store.InsertApprovedRecord(draft.UserID, draft.DocumentID, primitive)
	if err != nil {
		return nil, err
	}

	result := &ApprovalResult{Record: record, RecordInserted: true}

	updated, err := s.store.UpdateWorkflowState(draft.UserID, draft.ID, models.WorkflowVideoReady)
	if err != nil {
		s.logger.Errorf("批准记录已写入但工作流状态更新失败 draft=%s: %v", draft.ID, err)
		return result, err
	}
	result.Draft = updated

	if s.notifier != nil {
		s.notifier.DraftApproved(updated)
	}

	return result, nil
}

// Regenerate 用文档的最新批准基元再生成脚本
// 结果不在这里持久化；空脚本和服务错误是不同的失败
func (s *ApprovalService) Regenerate(ctx context.Context, userID, documentID string) (string, error) {
	latest, err := s.store.LatestApproved(userID, documentID)
	if err != nil {
		return "", err
	}

	script, err := s.llm.RegenerateScript(ctx, latest.Primitive)
	if err != nil {
		return "", err
	}
	if script == "" {
		return "", ErrEmptyRegeneratedScript
	}

	return script, nil
}

// ApproveRegenerated 批准再生成脚本
// final_script 和 approved_script 在此同时写入最新批准记录
func (s *ApprovalService) ApproveRegenerated(userID, documentID, script string) (*models.ApprovedPrimitive, error) {
	latest, err := s.store.LatestApproved(userID, documentID)
	if err != nil {
		return nil, err
	}

	record, err := s.store.UpdateApprovedScripts(userID, documentID, latest.ID, script, script)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.ApprovedScriptUpdated(record)
	}

	return record, nil
}

// isNotFound 错误是否为未找到类型
func isNotFound(err error) bool {
	return apperrors.IsNotFoundError(err)
}
