// internal/api/handlers.go
package api

import (
	"io"
	"strings"

	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/services"
	"github.com/Corphon/PrimitiveFlowMCP/internal/utils"
	"github.com/gin-gonic/gin"
)

// 上传文档的大小上限
const maxDocumentSize = 10 << 20 // 10MB

// Handler API处理器
type Handler struct {
	documents  *services.DocumentService
	drafts     *services.DraftService
	llm        *services.LLMService
	interviews *services.InterviewService
	approval   *services.ApprovalService
	video      *services.VideoService
	sockets    *InterviewSocketManager
	response   *ResponseHelper
	logger     *utils.Logger
}

// NewHandler 创建API处理器
func NewHandler(
	documents *services.DocumentService,
	drafts *services.DraftService,
	llm *services.LLMService,
	interviews *services.InterviewService,
	approval *services.ApprovalService,
	video *services.VideoService,
	sockets *InterviewSocketManager,
) *Handler {
	return &Handler{
		documents:  documents,
		drafts:     drafts,
		llm:        llm,
		interviews: interviews,
		approval:   approval,
		video:      video,
		sockets:    sockets,
		response:   NewResponseHelper(),
		logger:     utils.GetLogger(),
	}
}

// requireUserID 从请求头取用户身份，缺失时返回400
func (h *Handler) requireUserID(c *gin.Context) (string, bool) {
	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if userID == "" {
		h.response.BadRequest(c, "缺少 X-User-ID 请求头")
		return "", false
	}
	return userID, true
}

// requireSession 获取草稿的当前访谈会话并校验所有者
func (h *Handler) requireSession(c *gin.Context, userID string) (*services.InterviewSession, bool) {
	draftID := c.Param("id")

	session, exists := h.interviews.GetSession(draftID)
	if !exists {
		h.response.NotFound(c, "访谈会话未打开: "+draftID)
		return nil, false
	}
	if session.UserID != userID {
		h.response.Forbidden(c, "无权访问该访谈会话")
		return nil, false
	}

	return session, true
}

// ===============================
// 文档
// ===============================

// UploadDocument 上传清单文档
// 支持 multipart 文件上传和 JSON {filename, text} 两种形式
func (h *Handler) UploadDocument(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var filename string
	var data []byte

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			h.response.BadRequest(c, "缺少上传文件", err.Error())
			return
		}
		if fileHeader.Size > maxDocumentSize {
			h.response.BadRequest(c, "文件超过大小限制")
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			h.response.InternalError(c, "读取上传文件失败", err.Error())
			return
		}
		defer file.Close()

		data, err = io.ReadAll(io.LimitReader(file, maxDocumentSize))
		if err != nil {
			h.response.InternalError(c, "读取上传文件失败", err.Error())
			return
		}
		filename = fileHeader.Filename
	} else {
		var req struct {
			Filename string `json:"filename"`
			Text     string `json:"text" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			h.response.BadRequest(c, "请求格式错误", err.Error())
			return
		}
		filename = req.Filename
		if filename == "" {
			filename = "document.txt"
		}
		data = []byte(req.Text)
	}

	doc, err := h.documents.CreateDocument(c.Request.Context(), userID, filename, data)
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Created(c, doc, "文档上传成功")
}

// ListDocuments 列出当前用户的文档
func (h *Handler) ListDocuments(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	docs, err := h.documents.ListDocuments(userID)
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, docs)
}

// GetDocument 获取单个文档
func (h *Handler) GetDocument(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	doc, err := h.documents.GetDocument(userID, c.Param("id"))
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, doc)
}

// GetApprovedRecords 获取文档的全部批准记录
func (h *Handler) GetApprovedRecords(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	records, err := h.drafts.GetApprovedRecords(userID, c.Param("id"))
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, records)
}

// ===============================
// 草稿
// ===============================

// GenerateDraft 从文档生成脚本和基元草稿
func (h *Handler) GenerateDraft(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	var req struct {
		DocumentID string `json:"document_id"`
		Text       string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, "请求格式错误", err.Error())
		return
	}
	if req.DocumentID == "" && strings.TrimSpace(req.Text) == "" {
		h.response.BadRequest(c, "需要 document_id 或 text 之一")
		return
	}

	// 直接提交文本时先落一个内联文档，保持批准记录有文档可挂
	var doc *models.Document
	var err error
	if req.DocumentID != "" {
		doc, err = h.documents.GetDocument(userID, req.DocumentID)
	} else {
		doc, err = h.documents.CreateDocument(c.Request.Context(), userID, "inline.txt", []byte(req.Text))
	}
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	result, err := h.llm.GenerateScript(c.Request.Context(), doc.Text)
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	draft, err := h.drafts.CreateDraft(userID, doc.ID, result.Script, result.PrimitiveDraft)
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Created(c, draft, "草稿生成成功")
}

// ListDrafts 列出当前用户的草稿
func (h *Handler) ListDrafts(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	drafts, err := h.drafts.ListDrafts(userID)
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, drafts)
}

// GetDraft 获取单个草稿
func (h *Handler) GetDraft(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	draft, err := h.drafts.GetDraft(userID, c.Param("id"))
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, draft)
}

// ===============================
// 引导访谈
// ===============================

// OpenInterview 打开草稿的访谈会话
func (h *Handler) OpenInterview(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, err := h.interviews.OpenInterview(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, session.Snapshot(), "访谈会话已打开")
}

// GetInterview 获取访谈会话快照
func (h *Handler) GetInterview(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, ok := h.requireSession(c, userID)
	if !ok {
		return
	}

	h.response.Success(c, session.Snapshot())
}

// AcceptSuggestion 接受当前字段的AI建议
func (h *Handler) AcceptSuggestion(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, ok := h.requireSession(c, userID)
	if !ok {
		return
	}

	if err := session.AcceptSuggestion(); err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, session.Snapshot())
}

// SkipField 跳过当前字段
func (h *Handler) SkipField(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, ok := h.requireSession(c, userID)
	if !ok {
		return
	}

	if err := session.Skip(); err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, session.Snapshot())
}

// SubmitInstruction 提交自由文本编辑指令
func (h *Handler) SubmitInstruction(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, ok := h.requireSession(c, userID)
	if !ok {
		return
	}

	var req struct {
		Instruction string `json:"instruction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	if err := session.SubmitInstruction(c.Request.Context(), req.Instruction); err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, session.Snapshot())
}

// CloseInterview 关闭访谈会话
func (h *Handler) CloseInterview(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	if _, ok := h.requireSession(c, userID); !ok {
		return
	}

	h.interviews.CloseInterview(c.Param("id"))
	h.response.Success(c, nil, "访谈会话已关闭")
}

// ===============================
// 批准与再生成
// ===============================

// ApproveDraft 批准草稿的当前基元
func (h *Handler) ApproveDraft(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, ok := h.requireSession(c, userID)
	if !ok {
		return
	}

	if err := session.Approve(); err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, session.Snapshot(), "基元已批准")
}

// RegenerateScript 用最新批准基元再生成脚本
func (h *Handler) RegenerateScript(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, ok := h.requireSession(c, userID)
	if !ok {
		return
	}

	if err := session.Regenerate(c.Request.Context()); err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, session.Snapshot())
}

// ApproveRegeneratedScript 批准再生成的脚本
func (h *Handler) ApproveRegeneratedScript(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	session, ok := h.requireSession(c, userID)
	if !ok {
		return
	}

	// script 可选：非空时覆盖会话暂存的脚本
	var req struct {
		Script string `json:"script"`
	}
	c.ShouldBindJSON(&req)

	if err := session.ApproveRegenerated(req.Script); err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, session.Snapshot(), "再生成脚本已批准")
}

// ===============================
// 视频
// ===============================

// GenerateVideo 为已批准的草稿触发视频生成
func (h *Handler) GenerateVideo(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	draft, err := h.video.GenerateVideo(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.response.FromAppError(c, err)
		return
	}

	h.response.Success(c, draft, "视频生成完成")
}

// ===============================
// 状态
// ===============================

// LLMStatus 返回LLM提供者的配置状态
func (h *Handler) LLMStatus(c *gin.Context) {
	h.response.Success(c, gin.H{
		"ready":    h.llm.IsReady(),
		"provider": h.llm.ProviderName(),
	})
}

// InterviewWebSocket 订阅草稿访谈的实时消息推送
func (h *Handler) InterviewWebSocket(c *gin.Context) {
	userID, ok := h.requireUserID(c)
	if !ok {
		return
	}

	draftID := c.Param("id")
	if _, err := h.drafts.GetDraft(userID, draftID); err != nil {
		h.response.FromAppError(c, err)
		return
	}

	if err := h.sockets.Serve(c.Writer, c.Request, draftID, userID); err != nil {
		h.logger.Errorf("WebSocket升级失败 draft=%s: %v", draftID, err)
	}
}
