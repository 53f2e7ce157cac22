// internal/app/app.go
package app

import (
	"fmt"

	"github.com/Corphon/PrimitiveFlowMCP/internal/config"
	"github.com/Corphon/PrimitiveFlowMCP/internal/di"
	"github.com/Corphon/PrimitiveFlowMCP/internal/services"
	"github.com/Corphon/PrimitiveFlowMCP/internal/storage"
	"github.com/Corphon/PrimitiveFlowMCP/internal/utils"

	// 提供者通过 init 注册到工厂
	_ "github.com/Corphon/PrimitiveFlowMCP/internal/llm/providers/anthropic"
	_ "github.com/Corphon/PrimitiveFlowMCP/internal/llm/providers/openrouter"
)

// InitServices 按依赖顺序初始化所有服务并注册到容器
// 顺序：存储 -> LLM -> 草稿/文档 -> 批准 -> 访谈 -> 视频
func InitServices(container *di.Container) error {
	logger := utils.GetLogger()
	cfg := config.GetCurrentConfig()

	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	container.Register("storage", fileStorage)

	llmService, err := services.NewLLMService()
	if err != nil {
		return fmt.Errorf("初始化LLM服务失败: %w", err)
	}
	container.Register("llm", llmService)
	if llmService.IsReady() {
		logger.Infof("LLM服务就绪，提供者: %s", llmService.ProviderName())
	} else {
		logger.Warnf("LLM服务未配置，AI相关操作不可用")
	}

	extractionService := services.NewExtractionService(cfg.ExtractorAPIURL)
	container.Register("extraction", extractionService)

	documentService := services.NewDocumentService(fileStorage, extractionService)
	container.Register("document", documentService)

	draftService := services.NewDraftService(fileStorage)
	container.Register("draft", draftService)

	approvalService := services.NewApprovalService(draftService, llmService)
	container.Register("approval", approvalService)

	interviewService := services.NewInterviewService(draftService, llmService, approvalService)
	container.Register("interview", interviewService)

	videoService := services.NewVideoService(cfg.VideoAPIURL, draftService)
	container.Register("video", videoService)

	logger.Infof("服务初始化完成，共注册 %d 个服务", len(container.GetNames()))
	return nil
}
