// internal/api/router.go
package api

import (
	"fmt"

	"github.com/Corphon/PrimitiveFlowMCP/internal/config"
	"github.com/Corphon/PrimitiveFlowMCP/internal/di"
	"github.com/Corphon/PrimitiveFlowMCP/internal/services"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由
// 只从容器获取服务，不创建新实例
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	documentService, ok := container.Get("document").(*services.DocumentService)
	if !ok {
		return nil, fmt.Errorf("文档服务未正确初始化")
	}

	draftService, ok := container.Get("draft").(*services.DraftService)
	if !ok {
		return nil, fmt.Errorf("草稿服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	interviewService, ok := container.Get("interview").(*services.InterviewService)
	if !ok {
		return nil, fmt.Errorf("访谈服务未正确初始化")
	}

	approvalService, ok := container.Get("approval").(*services.ApprovalService)
	if !ok {
		return nil, fmt.Errorf("批准服务未正确初始化")
	}

	videoService, ok := container.Get("video").(*services.VideoService)
	if !ok {
		return nil, fmt.Errorf("视频服务未正确初始化")
	}

	// WebSocket管理器同时是会话消息监听器和批准刷新通知器
	socketManager := NewInterviewSocketManager()
	interviewService.SetMessageListener(socketManager)
	approvalService.SetNotifier(socketManager)

	handler := NewHandler(
		documentService,
		draftService,
		llmService,
		interviewService,
		approvalService,
		videoService,
		socketManager,
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(requestIDMiddleware())

	// WebSocket 支持
	r.GET("/ws/interview/:id", handler.InterviewWebSocket)

	// ===============================
	// API路由
	// ===============================
	apiGroup := r.Group("/api")
	apiGroup.Use(DefaultRateLimit())
	{
		// 文档
		apiGroup.POST("/documents", handler.UploadDocument)
		apiGroup.GET("/documents", handler.ListDocuments)
		apiGroup.GET("/documents/:id", handler.GetDocument)
		apiGroup.GET("/documents/:id/approved", handler.GetApprovedRecords)

		// 草稿
		apiGroup.POST("/drafts/generate", GenerationRateLimit(), handler.GenerateDraft)
		apiGroup.GET("/drafts", handler.ListDrafts)
		apiGroup.GET("/drafts/:id", handler.GetDraft)

		// 引导访谈
		interview := apiGroup.Group("/drafts/:id/interview")
		interview.Use(InterviewRateLimit())
		{
			interview.POST("/open", handler.OpenInterview)
			interview.GET("", handler.GetInterview)
			interview.POST("/accept", handler.AcceptSuggestion)
			interview.POST("/skip", handler.SkipField)
			interview.POST("/instruction", handler.SubmitInstruction)
			interview.POST("/close", handler.CloseInterview)
		}

		// 批准与再生成
		apiGroup.POST("/drafts/:id/approve", handler.ApproveDraft)
		apiGroup.POST("/drafts/:id/script/regenerate", GenerationRateLimit(), handler.RegenerateScript)
		apiGroup.POST("/drafts/:id/script/approve", handler.ApproveRegeneratedScript)

		// 视频
		apiGroup.POST("/drafts/:id/video", GenerationRateLimit(), handler.GenerateVideo)

		// 状态
		apiGroup.GET("/llm/status", handler.LLMStatus)
	}

	return r, nil
}
