// internal/services/draft_service_test.go
package services

import (
	"testing"
	"time"

	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/storage"
)

func newTestDraftService(t *testing.T) *DraftService {
	t.Helper()

	fs, err := storage.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	return NewDraftService(fs)
}

// TestCreateAndGetDraft 创建后读回，初始状态为基元澄清
func TestCreateAndGetDraft(t *testing.T) {
	svc := newTestDraftService(t)

	created, err := svc.CreateDraft("user_1", "doc_1", "a script", models.Primitive{"who": "guard"})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if created.WorkflowState != models.WorkflowPrimitiveClarification {
		t.Errorf("初始状态 = %q, want primitive_clarification", created.WorkflowState)
	}

	loaded, err := svc.GetDraft("user_1", created.ID)
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if loaded.ScriptText != "a script" || loaded.Primitive["who"] != "guard" {
		t.Errorf("读回的草稿不正确: %+v", loaded)
	}
}

// TestGetDraft_OwnerScoped 其他用户读不到草稿
func TestGetDraft_OwnerScoped(t *testing.T) {
	svc := newTestDraftService(t)

	created, _ := svc.CreateDraft("user_1", "doc_1", "a script", nil)

	if _, err := svc.GetDraft("user_2", created.ID); !apperrors.IsNotFoundError(err) {
		t.Fatalf("跨用户读取应返回未找到错误，得到: %v", err)
	}
}

// TestListDrafts_SortedByCreatedAt 列表按创建时间倒序
func TestListDrafts_SortedByCreatedAt(t *testing.T) {
	svc := newTestDraftService(t)

	first, _ := svc.CreateDraft("user_1", "doc_1", "first", nil)
	time.Sleep(5 * time.Millisecond)
	second, _ := svc.CreateDraft("user_1", "doc_2", "second", nil)

	drafts, err := svc.ListDrafts("user_1")
	if err != nil {
		t.Fatalf("ListDrafts: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("草稿数 = %d, want 2", len(drafts))
	}
	if drafts[0].ID != second.ID || drafts[1].ID != first.ID {
		t.Errorf("列表未按创建时间倒序: %s, %s", drafts[0].ID, drafts[1].ID)
	}
}

// TestUpdatePrimitive_LastWriteWins 并发写入语义是后写覆盖先写
func TestUpdatePrimitive_LastWriteWins(t *testing.T) {
	svc := newTestDraftService(t)
	created, _ := svc.CreateDraft("user_1", "doc_1", "a script", models.Primitive{"who": "guard"})

	if _, err := svc.UpdatePrimitive("user_1", created.ID, models.Primitive{"who": "supervisor"}); err != nil {
		t.Fatalf("第一次写入: %v", err)
	}
	if _, err := svc.UpdatePrimitive("user_1", created.ID, models.Primitive{"who": "manager"}); err != nil {
		t.Fatalf("第二次写入: %v", err)
	}

	loaded, _ := svc.GetDraft("user_1", created.ID)
	if loaded.Primitive["who"] != "manager" {
		t.Errorf("后写未覆盖先写: %v", loaded.Primitive)
	}
}

// TestApprovedRecords_InsertOnly 批准记录只插入，Latest 返回最后一条
func TestApprovedRecords_InsertOnly(t *testing.T) {
	svc := newTestDraftService(t)

	if _, err := svc.LatestApproved("user_1", "doc_1"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("无记录时应返回未找到错误，得到: %v", err)
	}

	first, err := svc.InsertApprovedRecord("user_1", "doc_1", models.Primitive{"who": "guard"})
	if err != nil {
		t.Fatalf("InsertApprovedRecord: %v", err)
	}
	time.Sleep(time.Millisecond)
	second, err := svc.InsertApprovedRecord("user_1", "doc_1", models.Primitive{"who": "supervisor"})
	if err != nil {
		t.Fatalf("InsertApprovedRecord: %v", err)
	}
	if first.ID == second.ID {
		t.Error("两条记录不应有相同的ID")
	}

	list, _ := svc.GetApprovedRecords("user_1", "doc_1")
	if len(list.Records) != 2 {
		t.Fatalf("记录数 = %d, want 2", len(list.Records))
	}

	latest, _ := svc.LatestApproved("user_1", "doc_1")
	if latest.ID != second.ID {
		t.Errorf("Latest = %s, want %s", latest.ID, second.ID)
	}
}

// TestUpdateApprovedScripts 再生成脚本写入指定记录
func TestUpdateApprovedScripts(t *testing.T) {
	svc := newTestDraftService(t)
	record, _ := svc.InsertApprovedRecord("user_1", "doc_1", models.Primitive{"who": "guard"})

	updated, err := svc.UpdateApprovedScripts("user_1", "doc_1", record.ID, "new script", "new script")
	if err != nil {
		t.Fatalf("UpdateApprovedScripts: %v", err)
	}
	if updated.FinalScript != "new script" || updated.ApprovedScript != "new script" {
		t.Errorf("脚本字段未写入: %+v", updated)
	}

	if _, err := svc.UpdateApprovedScripts("user_1", "doc_1", "appr_missing", "x", "x"); !apperrors.IsNotFoundError(err) {
		t.Fatalf("不存在的记录应返回未找到错误，得到: %v", err)
	}
}
