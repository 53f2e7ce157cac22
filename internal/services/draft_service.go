// internal/services/draft_service.go
package services

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/storage"
)

// DraftService 草稿与批准记录的持久化层
// 所有读写都按 userID 作用域隔离（每个用户一个子目录）
// 没有乐观并发控制：同一草稿的并发写入后写覆盖先写
type DraftService struct {
	storage *storage.FileStorage
}

// NewDraftService 创建草稿服务
func NewDraftService(fs *storage.FileStorage) *DraftService {
	return &DraftService{storage: fs}
}

func draftDir(userID string) string {
	return filepath.Join("drafts", userID)
}

func approvedDir(userID string) string {
	return filepath.Join("approved", userID)
}

// CreateDraft 创建新草稿（脚本生成成功时调用），初始状态为基元澄清
func (s *DraftService) CreateDraft(userID, documentID, scriptText string, primitiveDraft models.Primitive) (*models.Draft, error) {
	if primitiveDraft == nil {
		primitiveDraft = models.Primitive{}
	}

	now := time.Now()
	draft := &models.Draft{
		ID:              fmt.Sprintf("draft_%d", now.UnixNano()),
		UserID:          userID,
		DocumentID:      documentID,
		ScriptText:      scriptText,
		Primitive:       primitiveDraft,
		PrimitiveStatus: "draft",
		ScriptStatus:    "draft",
		WorkflowState:   models.WorkflowPrimitiveClarification,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.saveDraft(draft); err != nil {
		return nil, err
	}

	return draft, nil
}

// GetDraft 加载草稿（按所有者作用域）
func (s *DraftService) GetDraft(userID, draftID string) (*models.Draft, error) {
	var draft models.Draft
	filename := draftID + ".json"

	if !s.storage.FileExists(draftDir(userID), filename) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("草稿不存在: %s", draftID), nil)
	}

	if err := s.storage.LoadJSONFile(draftDir(userID), filename, &draft); err != nil {
		return nil, apperrors.NewPersistenceError("读取草稿失败", err)
	}

	if draft.Primitive == nil {
		draft.Primitive = models.Primitive{}
	}

	return &draft, nil
}

// ListDrafts 列出用户的所有草稿，按创建时间倒序
func (s *DraftService) ListDrafts(userID string) ([]*models.Draft, error) {
	files, err := s.storage.ListFiles(draftDir(userID), ".json")
	if err != nil {
		return nil, apperrors.NewPersistenceError("列出草稿失败", err)
	}

	drafts := make([]*models.Draft, 0, len(files))
	for _, file := range files {
		draftID := strings.TrimSuffix(file, ".json")
		draft, err := s.GetDraft(userID, draftID)
		if err != nil {
			// 单个坏文件不阻塞列表
			continue
		}
		drafts = append(drafts, draft)
	}

	sort.Slice(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt.After(drafts[j].CreatedAt)
	})

	return drafts, nil
}

// UpdatePrimitive 持久化草稿的当前基元
// 加载-修改-保存，后写覆盖先写
func (s *DraftService) UpdatePrimitive(userID, draftID string, primitive models.Primitive) (*models.Draft, error) {
	draft, err := s.GetDraft(userID, draftID)
	if err != nil {
		return nil, err
	}

	draft.Primitive = primitive.Clone()
	if err := s.saveDraft(draft); err != nil {
		return nil, err
	}

	return draft, nil
}

// UpdateEnhancedPrimitive 持久化惰性计算的增强基元
func (s *DraftService) UpdateEnhancedPrimitive(userID, draftID string, enhanced models.Primitive) (*models.Draft, error) {
	draft, err := s.GetDraft(userID, draftID)
	if err != nil {
		return nil, err
	}

	draft.EnhancedPrimitive = enhanced.Clone()
	if err := s.saveDraft(draft); err != nil {
		return nil, err
	}

	return draft, nil
}

// UpdateWorkflowState 更新草稿的工作流状态
func (s *DraftService) UpdateWorkflowState(userID, draftID string, state models.WorkflowState) (*models.Draft, error) {
	draft, err := s.GetDraft(userID, draftID)
	if err != nil {
		return nil, err
	}

	draft.WorkflowState = state
	if err := s.saveDraft(draft); err != nil {
		return nil, err
	}

	return draft, nil
}

// UpdateVideo 回写视频生成结果
func (s *DraftService) UpdateVideo(userID, draftID, videoURL, videoStatus string) (*models.Draft, error) {
	draft, err := s.GetDraft(userID, draftID)
	if err != nil {
		return nil, err
	}

	draft.VideoURL = videoURL
	draft.VideoStatus = videoStatus
	if err := s.saveDraft(draft); err != nil {
		return nil, err
	}

	return draft, nil
}

func (s *DraftService) saveDraft(draft *models.Draft) error {
	draft.UpdatedAt = time.Now()
	if err := s.storage.SaveJSONFile(draftDir(draft.UserID), draft.ID+".json", draft); err != nil {
		return apperrors.NewPersistenceError("保存草稿失败", err)
	}
	return nil
}

// ------------------------------------------------
// 批准记录：按文档ID键控，只插入不去重
// ------------------------------------------------

// InsertApprovedRecord 追加一条不可变的批准记录
// 重复批准会产生重复记录（当前已知行为，见 DESIGN.md）
func (s *DraftService) InsertApprovedRecord(userID, documentID string, primitive models.Primitive) (*models.ApprovedPrimitive, error) {
	list, err := s.loadApprovedList(userID, documentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record := models.ApprovedPrimitive{
		ID:         fmt.Sprintf("appr_%d", now.UnixNano()),
		DocumentID: documentID,
		UserID:     userID,
		Primitive:  primitive.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	list.Records = append(list.Records, record)

	if err := s.saveApprovedList(userID, list); err != nil {
		return nil, err
	}

	return &record, nil
}

// GetApprovedRecords 获取文档下的全部批准记录
func (s *DraftService) GetApprovedRecords(userID, documentID string) (*models.ApprovedPrimitiveList, error) {
	return s.loadApprovedList(userID, documentID)
}

// LatestApproved 获取文档的最新批准记录，没有则返回未找到错误
func (s *DraftService) LatestApproved(userID, documentID string) (*models.ApprovedPrimitive, error) {
	list, err := s.loadApprovedList(userID, documentID)
	if err != nil {
		return nil, err
	}

	latest := list.Latest()
	if latest == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("文档没有批准记录: %s", documentID), nil)
	}

	return latest, nil
}

// UpdateApprovedScripts 把再生成的脚本写入指定批准记录
func (s *DraftService) UpdateApprovedScripts(userID, documentID, recordID, finalScript, approvedScript string) (*models.ApprovedPrimitive, error) {
	list, err := s.loadApprovedList(userID, documentID)
	if err != nil {
		return nil, err
	}

	for i := range list.Records {
		if list.Records[i].ID != recordID {
			continue
		}

		list.Records[i].FinalScript = finalScript
		list.Records[i].ApprovedScript = approvedScript
		list.Records[i].UpdatedAt = time.Now()

		if err := s.saveApprovedList(userID, list); err != nil {
			return nil, err
		}

		record := list.Records[i]
		return &record, nil
	}

	return nil, apperrors.NewNotFoundError(fmt.Sprintf("批准记录不存在: %s", recordID), nil)
}

func (s *DraftService) loadApprovedList(userID, documentID string) (*models.ApprovedPrimitiveList, error) {
	filename := documentID + ".json"

	list := &models.ApprovedPrimitiveList{DocumentID: documentID}
	if !s.storage.FileExists(approvedDir(userID), filename) {
		return list, nil
	}

	if err := s.storage.LoadJSONFile(approvedDir(userID), filename, list); err != nil {
		return nil, apperrors.NewPersistenceError("读取批准记录失败", err)
	}

	return list, nil
}

func (s *DraftService) saveApprovedList(userID string, list *models.ApprovedPrimitiveList) error {
	if err := s.storage.SaveJSONFile(approvedDir(userID), list.DocumentID+".json", list); err != nil {
		return apperrors.NewPersistenceError("保存批准记录失败", err)
	}
	return nil
}
