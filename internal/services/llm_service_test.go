// internal/services/llm_service_test.go
package services

import (
	"context"
	"testing"

	apperrors "github.com/Corphon/PrimitiveFlowMCP/internal/errors"
	"github.com/Corphon/PrimitiveFlowMCP/internal/llm"
	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
)

// fakeProvider 返回固定文本的LLM提供者
type fakeProvider struct {
	text string
	err  error
}

func (p *fakeProvider) Initialize(config map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                           { return "fake" }
func (p *fakeProvider) GetSupportedModels() []string              { return []string{"fake-model"} }

func (p *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: p.text, ProviderName: "fake"}, nil
}

// TestGenerateScript_ParsesResponse 解析 {script, primitive_draft} 响应
func TestGenerateScript_ParsesResponse(t *testing.T) {
	svc := NewLLMServiceWithProvider(&fakeProvider{
		text: `{"script": "A guard locks the door.", "primitive_draft": {"who": "guard"}}`,
	})

	result, err := svc.GenerateScript(context.Background(), "checklist text")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if result.Script != "A guard locks the door." {
		t.Errorf("Script = %q", result.Script)
	}
	if result.PrimitiveDraft["who"] != "guard" {
		t.Errorf("PrimitiveDraft = %v", result.PrimitiveDraft)
	}
}

// TestGenerateScript_FencedResponse 模型输出带Markdown代码块时也能解析
func TestGenerateScript_FencedResponse(t *testing.T) {
	svc := NewLLMServiceWithProvider(&fakeProvider{
		text: "```json\n{\"script\": \"A guard locks the door.\", \"primitive_draft\": {}}\n```",
	})

	result, err := svc.GenerateScript(context.Background(), "checklist text")
	if err != nil {
		t.Fatalf("GenerateScript: %v", err)
	}
	if result.Script != "A guard locks the door." {
		t.Errorf("Script = %q", result.Script)
	}
}

// TestGenerateScript_MissingScriptFails 缺少 script 视为生成失败
func TestGenerateScript_MissingScriptFails(t *testing.T) {
	svc := NewLLMServiceWithProvider(&fakeProvider{
		text: `{"primitive_draft": {"who": "guard"}}`,
	})

	if _, err := svc.GenerateScript(context.Background(), "checklist text"); !apperrors.IsServiceError(err) {
		t.Fatalf("期望服务错误，得到: %v", err)
	}
}

// TestResolveInstruction_UpdatesAndMessage 两种响应形状都能解析
func TestResolveInstruction_UpdatesAndMessage(t *testing.T) {
	svc := NewLLMServiceWithProvider(&fakeProvider{
		text: `{"updates": {"who": "supervisor"}}`,
	})
	result, err := svc.ResolveInstruction(context.Background(), "change who", nil, models.Primitive{})
	if err != nil {
		t.Fatalf("ResolveInstruction: %v", err)
	}
	if result.Updates["who"] != "supervisor" {
		t.Errorf("Updates = %v", result.Updates)
	}

	svc = NewLLMServiceWithProvider(&fakeProvider{
		text: `{"aiMessage": "Nothing to change."}`,
	})
	result, err = svc.ResolveInstruction(context.Background(), "looks good", nil, models.Primitive{})
	if err != nil {
		t.Fatalf("ResolveInstruction: %v", err)
	}
	if result.AIMessage != "Nothing to change." {
		t.Errorf("AIMessage = %q", result.AIMessage)
	}
}

// TestRegenerateScript_EmptyIsNotError 空脚本返回空字符串而不是错误，由调用方区分
func TestRegenerateScript_EmptyIsNotError(t *testing.T) {
	svc := NewLLMServiceWithProvider(&fakeProvider{text: `{"script": ""}`})

	script, err := svc.RegenerateScript(context.Background(), models.Primitive{"who": "guard"})
	if err != nil {
		t.Fatalf("RegenerateScript: %v", err)
	}
	if script != "" {
		t.Errorf("script = %q, want empty", script)
	}
}

// TestEmptyService_NotReady 未配置提供者时AI操作报服务错误
func TestEmptyService_NotReady(t *testing.T) {
	svc := NewEmptyLLMService()

	if svc.IsReady() {
		t.Error("空服务不应就绪")
	}
	if _, err := svc.GenerateScript(context.Background(), "text"); !apperrors.IsServiceError(err) {
		t.Fatalf("期望服务错误，得到: %v", err)
	}
}

// TestStripCodeFence 代码块剥离
func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"无代码块", `{"a":1}`, `{"a":1}`},
		{"json代码块", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"无语言标记", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"带空白", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFence(tt.in); got != tt.want {
				t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
