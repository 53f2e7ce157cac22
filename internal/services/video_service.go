// internal/services/video_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/utils"
)

// VideoDraftStoreInterface 视频服务需要的草稿操作
type VideoDraftStoreInterface interface {
	GetDraft(userID, draftID string) (*models.Draft, error)
	UpdateVideo(userID, draftID, videoURL, videoStatus string) (*models.Draft, error)
}

// VideoService 视频生成协作方的客户端
// 只有工作流状态为 video_ready 的草稿才能触发生成
type VideoService struct {
	videoURL string
	drafts   VideoDraftStoreInterface
	client   *http.Client
	logger   *utils.Logger
}

// NewVideoService 创建视频服务
func NewVideoService(videoURL string, drafts VideoDraftStoreInterface) *VideoService {
	return &VideoService{
		videoURL: videoURL,
		drafts:   drafts,
		client:   &http.Client{Timeout: 120 * time.Second},
		logger:   utils.GetLogger(),
	}
}

// GenerateVideo 为已批准的草稿触发视频生成并回写结果
func (s *VideoService) GenerateVideo(ctx context.Context, userID, draftID string) (*models.Draft, error) {
	draft, err := s.drafts.GetDraft(userID, draftID)
	if err != nil {
		return nil, err
	}

	if draft.WorkflowState != models.WorkflowVideoReady {
		return nil, apperrors.NewForbiddenError("草稿未批准，视频生成不可用", nil)
	}

	if s.videoURL == "" {
		return nil, apperrors.NewServiceError("视频生成服务未配置", nil)
	}

	payload, err := json.Marshal(map[string]string{
		"draftId": draft.ID,
		"script":  draft.ScriptText,
	})
	if err != nil {
		return nil, apperrors.NewServiceError("构造视频请求失败", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.videoURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, apperrors.NewServiceError("构造视频请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.NewServiceError("视频生成服务调用失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		s.logger.Errorf("视频生成服务返回 %d: %s", resp.StatusCode, string(body))
		return nil, apperrors.NewServiceError("视频生成服务调用失败", nil)
	}

	var result struct {
		VideoURL string `json:"videoUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.NewServiceError("解析视频响应失败", err)
	}

	if result.VideoURL == "" {
		return nil, apperrors.NewServiceError("视频生成服务未返回地址", nil)
	}

	return s.drafts.UpdateVideo(userID, draftID, result.VideoURL, "completed")
}
