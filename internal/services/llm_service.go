// internal/services/llm_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Corphon/PrimitiveFlowMCP/internal/config"
	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/llm"
	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/utils"
)

// 脚本生成的系统提示
const scriptGenerationSystemPrompt = `You are an expert at turning checklist and
procedure documents into short narrative scripts and structured rule primitives.
A primitive is the smallest enforceable operational truth, described by the fields:
who, trigger_condition, preconditions, required_action, verification_method,
failure_consequences.
Given the document text, respond with a single JSON object:
{"script": "<narrative script>", "primitive_draft": {<field>: <value>, ...}}
Only include primitive fields you are confident about. Do not include any text
outside the JSON object.`

// 基元增强的系统提示
const primitiveEnhanceSystemPrompt = `You are completing a structured rule primitive.
Given a partially filled primitive with the fields who, trigger_condition,
preconditions, required_action, verification_method, failure_consequences,
suggest a plausible value for every field.
Respond with a single JSON object: {"primitive": {<field>: <value>, ...}}.
Do not include any text outside the JSON object.`

// 自由文本编辑的系统提示
const instructionSystemPrompt = `You are helping a user edit a structured rule primitive
through conversation. The primitive has the fields who, trigger_condition,
preconditions, required_action, verification_method, failure_consequences.
Interpret the user's instruction against the current primitive and the conversation.
If the instruction describes field changes, respond with:
{"updates": {<field>: <new value>, ...}}
Otherwise respond with: {"aiMessage": "<your reply>"}
Do not include any text outside the JSON object.`

// 脚本再生成的系统提示
const scriptRegenerateSystemPrompt = `You are writing a short narrative video script
from an approved structured rule primitive. Given the primitive JSON, respond with:
{"script": "<narrative script>"}
Do not include any text outside the JSON object.`

// ScriptGenerationResult 脚本生成服务的响应 {script, primitiveDraft}
type ScriptGenerationResult struct {
	Script         string           `json:"script"`
	PrimitiveDraft models.Primitive `json:"primitive_draft"`
}

// InstructionResult 自由文本编辑服务的响应 {updates?, aiMessage?}
type InstructionResult struct {
	Updates   models.Primitive `json:"updates,omitempty"`
	AIMessage string           `json:"aiMessage,omitempty"`
}

// LLMService 把四个AI协作方封装为类型化操作：
// 脚本生成 / 基元增强 / 自由文本解释 / 脚本再生成
// 本服务只负责请求响应形状；解释逻辑完全在外部模型
type LLMService struct {
	provider llm.Provider
	logger   *utils.Logger
}

// NewLLMService 根据当前配置创建LLM服务
func NewLLMService() (*LLMService, error) {
	cfg := config.GetCurrentConfig()

	if cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		// 没有密钥时返回空服务，AI操作会报服务错误
		return NewEmptyLLMService(), nil
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		return nil, fmt.Errorf("创建LLM提供者失败: %w", err)
	}

	return NewLLMServiceWithProvider(provider), nil
}

// NewLLMServiceWithProvider 使用指定提供者创建LLM服务（测试用）
func NewLLMServiceWithProvider(provider llm.Provider) *LLMService {
	return &LLMService{
		provider: provider,
		logger:   utils.GetLogger(),
	}
}

// NewEmptyLLMService 创建未配置提供者的空服务
func NewEmptyLLMService() *LLMService {
	return &LLMService{
		logger: utils.GetLogger(),
	}
}

// IsReady 提供者是否已配置
func (s *LLMService) IsReady() bool {
	return s.provider != nil
}

// ProviderName 当前提供者名称
func (s *LLMService) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.GetName()
}

// GenerateScript 脚本生成服务：{text} -> {script, primitiveDraft}
// 缺少 script 视为生成失败
func (s *LLMService) GenerateScript(ctx context.Context, text string) (*ScriptGenerationResult, error) {
	if !s.IsReady() {
		return nil, apperrors.NewServiceError("LLM提供者未配置", nil)
	}

	resp, err := s.provider.CompleteText(ctx, llm.CompletionRequest{
		SystemPrompt: scriptGenerationSystemPrompt,
		Prompt:       text,
		Temperature:  0.2,
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, apperrors.NewServiceError("脚本生成服务调用失败", err)
	}

	var result ScriptGenerationResult
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &result); err != nil {
		return nil, apperrors.NewServiceError("脚本生成响应解析失败", err)
	}

	if result.Script == "" {
		return nil, apperrors.NewServiceError("脚本生成服务未返回脚本", nil)
	}

	if result.PrimitiveDraft == nil {
		result.PrimitiveDraft = models.Primitive{}
	}

	return &result, nil
}

// EnhancePrimitive 基元增强服务：{primitive} -> {primitive}
// 返回的增强基元只作为访谈建议来源，永不作为权威数据
func (s *LLMService) EnhancePrimitive(ctx context.Context, primitive models.Primitive) (models.Primitive, error) {
	if !s.IsReady() {
		return nil, apperrors.NewServiceError("LLM提供者未配置", nil)
	}

	prompt, err := json.Marshal(map[string]models.Primitive{"primitive": primitive})
	if err != nil {
		return nil, err
	}

	resp, err := s.provider.CompleteText(ctx, llm.CompletionRequest{
		SystemPrompt: primitiveEnhanceSystemPrompt,
		Prompt:       string(prompt),
		Temperature:  0.3,
		MaxTokens:    1024,
	})
	if err != nil {
		return nil, apperrors.NewServiceError("基元增强服务调用失败", err)
	}

	var result struct {
		Primitive models.Primitive `json:"primitive"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &result); err != nil {
		return nil, apperrors.NewServiceError("基元增强响应解析失败", err)
	}

	if result.Primitive == nil {
		result.Primitive = models.Primitive{}
	}

	return result.Primitive, nil
}

// ResolveInstruction 自由文本编辑服务：
// {instruction, messages, currentPrimitive} -> {updates?, aiMessage?}
func (s *LLMService) ResolveInstruction(ctx context.Context, instruction string, history []models.Message, current models.Primitive) (*InstructionResult, error) {
	if !s.IsReady() {
		return nil, apperrors.NewServiceError("LLM提供者未配置", nil)
	}

	// 完整会话历史和当前基元作为上下文传给模型
	type historyEntry struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	entries := make([]historyEntry, 0, len(history))
	for _, msg := range history {
		entries = append(entries, historyEntry{Role: msg.Role, Content: msg.Content})
	}

	payload, err := json.Marshal(map[string]interface{}{
		"instruction":      instruction,
		"messages":         entries,
		"currentPrimitive": current,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.provider.CompleteText(ctx, llm.CompletionRequest{
		SystemPrompt: instructionSystemPrompt,
		Prompt:       string(payload),
		Temperature:  0.2,
		MaxTokens:    1024,
	})
	if err != nil {
		return nil, apperrors.NewServiceError("自由文本编辑服务调用失败", err)
	}

	var result InstructionResult
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &result); err != nil {
		return nil, apperrors.NewServiceError("自由文本编辑响应解析失败", err)
	}

	return &result, nil
}

// RegenerateScript 脚本再生成服务：{primitive} -> {script}
// 脚本为空时返回空字符串，由调用方区分"空结果"和"服务错误"
func (s *LLMService) RegenerateScript(ctx context.Context, primitive models.Primitive) (string, error) {
	if !s.IsReady() {
		return "", apperrors.NewServiceError("LLM提供者未配置", nil)
	}

	prompt, err := json.Marshal(map[string]models.Primitive{"primitive": primitive})
	if err != nil {
		return "", err
	}

	resp, err := s.provider.CompleteText(ctx, llm.CompletionRequest{
		SystemPrompt: scriptRegenerateSystemPrompt,
		Prompt:       string(prompt),
		Temperature:  0.4,
		MaxTokens:    2048,
	})
	if err != nil {
		return "", apperrors.NewServiceError("脚本再生成服务调用失败", err)
	}

	var result struct {
		Script string `json:"script"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Text)), &result); err != nil {
		return "", apperrors.NewServiceError("脚本再生成响应解析失败", err)
	}

	return result.Script, nil
}

// stripCodeFence 移除模型输出中的Markdown代码块标记
// 有些模型会把JSON包在 ```json ... ``` 里
func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
