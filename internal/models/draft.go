// internal/models/draft.go
package models

import (
	"time"
)

// WorkflowState 草稿的工作流状态
type WorkflowState string

const (
	// WorkflowPrimitiveClarification 基元澄清阶段（引导访谈进行中）
	WorkflowPrimitiveClarification WorkflowState = "primitive_clarification"
	// WorkflowVideoReady 基元已批准，可以生成视频（本核心的终态）
	WorkflowVideoReady WorkflowState = "video_ready"
)

// Draft 持有进行中的基元、派生脚本和工作流状态的可变容器
// 脚本生成成功时创建；访谈每一步和批准操作都会修改它
type Draft struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`

	ScriptText string `json:"script_text"`

	// Primitive 当前基元（访谈始终修改它）
	Primitive Primitive `json:"primitive_draft"`
	// EnhancedPrimitive AI建议值，只作为访谈提示，永不作为权威数据
	// 首次打开访谈时惰性计算
	EnhancedPrimitive Primitive `json:"enhanced_primitive,omitempty"`

	PrimitiveStatus string        `json:"primitive_status"`
	ScriptStatus    string        `json:"script_status"`
	WorkflowState   WorkflowState `json:"workflow_state"`

	// 视频生成结果（由外部触发器回写）
	VideoURL    string `json:"video_url,omitempty"`
	VideoStatus string `json:"video_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovedPrimitive 不可变的批准记录，关联源文档与最终批准的字段映射
// 只插入不更新（approved_script/final_script 除外，见再生成周期）
type ApprovedPrimitive struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id"`
	Primitive  Primitive `json:"primitive_json"`

	// FinalScript 再生成周期产出的脚本
	FinalScript string `json:"final_script,omitempty"`
	// ApprovedScript 用户批准后的最终脚本
	ApprovedScript string `json:"approved_script,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ApprovedPrimitiveList 同一文档下的全部批准记录
// 批准操作不去重：重复批准会追加新记录（当前已知行为，见 DESIGN.md）
type ApprovedPrimitiveList struct {
	DocumentID string              `json:"document_id"`
	Records    []ApprovedPrimitive `json:"records"`
}

// Latest 返回最新一条批准记录，没有则返回 nil
func (l *ApprovedPrimitiveList) Latest() *ApprovedPrimitive {
	if l == nil || len(l.Records) == 0 {
		return nil
	}
	return &l.Records[len(l.Records)-1]
}
