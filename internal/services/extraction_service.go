// internal/services/extraction_service.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/utils"
)

// 文本清理和候选筛选的模式
var (
	pageMarkerPattern = regexp.MustCompile(`(?im)^\s*(page\s+\d+(\s+of\s+\d+)?|第\s*\d+\s*页|-\s*\d+\s*-)\s*$`)
	figurePattern     = regexp.MustCompile(`(?im)^\s*(figure|fig\.?|table|图|表)\s*\d+.*$`)
	bulletPrefix      = regexp.MustCompile(`^\s*([-*•·▪]|\d+[.)]|[a-z][.)]|\[\s*\]|\[x\])\s+`)
	multiSpace        = regexp.MustCompile(`\s+`)
	sentenceSplit     = regexp.MustCompile(`(?m)[.!?;]\s+|\n`)

	// 目录行、页眉页脚之类的噪声
	rejectPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*table of contents`),
		regexp.MustCompile(`(?i)^\s*(appendix|revision history|document control)`),
		regexp.MustCompile(`\.{3,}\s*\d+\s*$`),
		regexp.MustCompile(`(?i)^(confidential|draft|internal use only)$`),
		regexp.MustCompile(`^[\d\s.,:;()-]+$`),
	}
)

// ExtractionService 文档文本抽取与清单候选筛选
// 纯文本文件本地处理；PDF/DOCX 交给外部抽取服务
type ExtractionService struct {
	extractorURL string
	client       *http.Client
	logger       *utils.Logger
}

// NewExtractionService 创建抽取服务
// extractorURL 为空时 PDF/DOCX 抽取不可用
func NewExtractionService(extractorURL string) *ExtractionService {
	return &ExtractionService{
		extractorURL: extractorURL,
		client:       &http.Client{Timeout: 60 * time.Second},
		logger:       utils.GetLogger(),
	}
}

// ExtractText 从上传文件中抽取纯文本
// 外部抽取服务的失败对调用方是不透明的服务错误
func (s *ExtractionService) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".txt", ".md":
		return string(data), nil
	case ".pdf", ".docx":
		return s.extractRemote(ctx, filename, data)
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("不支持的文件类型: %s", ext), nil)
	}
}

// extractRemote 调用外部抽取服务处理二进制文档
func (s *ExtractionService) extractRemote(ctx context.Context, filename string, data []byte) (string, error) {
	if s.extractorURL == "" {
		return "", apperrors.NewServiceError("文档抽取服务未配置", nil)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", apperrors.NewServiceError("构造抽取请求失败", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", apperrors.NewServiceError("构造抽取请求失败", err)
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.NewServiceError("构造抽取请求失败", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.extractorURL, &body)
	if err != nil {
		return "", apperrors.NewServiceError("构造抽取请求失败", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", apperrors.NewServiceError("文档抽取服务调用失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		s.logger.Errorf("文档抽取服务返回 %d: %s", resp.StatusCode, string(respBody))
		return "", apperrors.NewServiceError("文档抽取服务调用失败", nil)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", apperrors.NewServiceError("解析抽取响应失败", err)
	}

	if result.Text == "" {
		return "", apperrors.NewServiceError("文档抽取服务未返回文本", nil)
	}

	return result.Text, nil
}

// ExtractChecklistCandidates 从文档文本中筛选候选清单条目
// 启发式流程：去掉页码和图表标注，按段落和句子切分，
// 过滤噪声行，保留至少4个词的句子，按出现顺序去重
func (s *ExtractionService) ExtractChecklistCandidates(text string) []string {
	cleaned := pageMarkerPattern.ReplaceAllString(text, "")
	cleaned = figurePattern.ReplaceAllString(cleaned, "")

	candidates := make([]string, 0)
	seen := make(map[string]bool)

	for _, paragraph := range strings.Split(cleaned, "\n\n") {
		for _, raw := range sentenceSplit.Split(paragraph, -1) {
			sentence := bulletPrefix.ReplaceAllString(raw, "")
			sentence = strings.TrimSpace(multiSpace.ReplaceAllString(sentence, " "))

			if sentence == "" || isRejected(sentence) {
				continue
			}
			if len(strings.Fields(sentence)) < 4 {
				continue
			}

			key := strings.ToLower(sentence)
			if seen[key] {
				continue
			}
			seen[key] = true
			candidates = append(candidates, sentence)
		}
	}

	return candidates
}

func isRejected(sentence string) bool {
	for _, pattern := range rejectPatterns {
		if pattern.MatchString(sentence) {
			return true
		}
	}
	return false
}
