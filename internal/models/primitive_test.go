// internal/models/primitive_test.go
package models

import (
	"reflect"
	"testing"
)

// TestMissingFields_Order 缺失字段必须按固定声明顺序返回
func TestMissingFields_Order(t *testing.T) {
	p := Primitive{
		"verification_method": "camera check",
		"who":                 "guard",
	}

	want := []string{"trigger_condition", "preconditions", "required_action", "failure_consequences"}
	got := p.MissingFields()

	if !reflect.DeepEqual(got, want) {
		t.Errorf("MissingFields() = %v, want %v", got, want)
	}
}

// TestMissingFields_SkippedNotMissing 显式空字符串表示已跳过，不算缺失
func TestMissingFields_SkippedNotMissing(t *testing.T) {
	p := Primitive{
		"who":                  "guard",
		"trigger_condition":    "",
		"preconditions":        "",
		"required_action":      "lock the door",
		"verification_method":  "camera check",
		"failure_consequences": "incident report",
	}

	if got := p.MissingFields(); len(got) != 0 {
		t.Errorf("跳过的字段不应计入缺失: %v", got)
	}
	if !p.Completion().Complete() {
		t.Error("所有字段都存在时 Completion 应为完成")
	}
}

// TestMissingFields_Empty 空基元缺失全部字段
func TestMissingFields_Empty(t *testing.T) {
	p := Primitive{}

	if got := p.MissingFields(); !reflect.DeepEqual(got, PrimitiveFields) {
		t.Errorf("MissingFields() = %v, want %v", got, PrimitiveFields)
	}
	if !p.IsEmpty() {
		t.Error("IsEmpty() = false, want true")
	}
}

// TestMerge_Override 合并按覆盖策略，且不修改原基元
func TestMerge_Override(t *testing.T) {
	p := Primitive{"who": "guard", "required_action": "lock the door"}

	merged := p.Merge(Primitive{"who": "supervisor", "trigger_condition": "door opens"})

	if merged["who"] != "supervisor" {
		t.Errorf("merged[who] = %q, want supervisor", merged["who"])
	}
	if merged["required_action"] != "lock the door" {
		t.Errorf("未更新的字段应保留: %q", merged["required_action"])
	}
	if merged["trigger_condition"] != "door opens" {
		t.Errorf("merged[trigger_condition] = %q, want door opens", merged["trigger_condition"])
	}
	if p["who"] != "guard" {
		t.Error("Merge 不应修改原基元")
	}
}

// TestClone_Independent 克隆后修改互不影响
func TestClone_Independent(t *testing.T) {
	p := Primitive{"who": "guard"}
	cloned := p.Clone()
	cloned["who"] = "supervisor"

	if p["who"] != "guard" {
		t.Error("修改克隆不应影响原基元")
	}
}
