// internal/services/document_service.go
package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/storage"
)

// TextExtractorInterface 文档服务需要的文本抽取操作
type TextExtractorInterface interface {
	ExtractText(ctx context.Context, filename string, data []byte) (string, error)
	ExtractChecklistCandidates(text string) []string
}

// DocumentService 上传文档的存储层
// 文档在创建时抽取文本并计算清单候选，之后只读
type DocumentService struct {
	storage   *storage.FileStorage
	extractor TextExtractorInterface
}

// NewDocumentService 创建文档服务
func NewDocumentService(fs *storage.FileStorage, extractor TextExtractorInterface) *DocumentService {
	return &DocumentService{storage: fs, extractor: extractor}
}

func documentDir(userID string) string {
	return filepath.Join("documents", userID)
}

// CreateDocument 抽取文本、计算清单候选并保存文档
func (s *DocumentService) CreateDocument(ctx context.Context, userID, filename string, data []byte) (*models.Document, error) {
	if len(data) == 0 {
		return nil, apperrors.NewValidationError("文档内容为空", nil)
	}

	text, err := s.extractor.ExtractText(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("文档未抽取到文本", nil)
	}

	now := time.Now()
	doc := &models.Document{
		ID:         fmt.Sprintf("doc_%d", now.UnixNano()),
		UserID:     userID,
		Filename:   filename,
		Text:       text,
		Candidates: s.extractor.ExtractChecklistCandidates(text),
		CreatedAt:  now,
	}

	if err := s.storage.SaveJSONFile(documentDir(userID), doc.ID+".json", doc); err != nil {
		return nil, apperrors.NewPersistenceError("保存文档失败", err)
	}

	return doc, nil
}

// GetDocument 加载文档（按所有者作用域）
func (s *DocumentService) GetDocument(userID, documentID string) (*models.Document, error) {
	filename := documentID + ".json"

	if !s.storage.FileExists(documentDir(userID), filename) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("文档不存在: %s", documentID), nil)
	}

	var doc models.Document
	if err := s.storage.LoadJSONFile(documentDir(userID), filename, &doc); err != nil {
		return nil, apperrors.NewPersistenceError("读取文档失败", err)
	}

	return &doc, nil
}

// ListDocuments 列出用户的所有文档，按创建时间倒序
func (s *DocumentService) ListDocuments(userID string) ([]*models.Document, error) {
	files, err := s.storage.ListFiles(documentDir(userID), ".json")
	if err != nil {
		return nil, apperrors.NewPersistenceError("列出文档失败", err)
	}

	docs := make([]*models.Document, 0, len(files))
	for _, file := range files {
		docID := strings.TrimSuffix(file, ".json")
		doc, err := s.GetDocument(userID, docID)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})

	return docs, nil
}
