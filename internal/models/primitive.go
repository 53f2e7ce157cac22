// internal/models/primitive.go
package models

// PrimitiveFields 基元必填字段的固定声明顺序
// missingFields 必须按此顺序返回，不依赖 map 的插入顺序
var PrimitiveFields = []string{
	"who",
	"trigger_condition",
	"preconditions",
	"required_action",
	"verification_method",
	"failure_consequences",
}

// Primitive 程序性规则的结构化记录（谁/触发/前提/动作/验证/后果）
// 字段缺失的定义：key 完全不存在；显式空字符串表示"已跳过"而非缺失
type Primitive map[string]string

// Clone 返回基元的浅拷贝（值都是 string，浅拷贝即深拷贝）
func (p Primitive) Clone() Primitive {
	cloned := make(Primitive, len(p))
	for k, v := range p {
		cloned[k] = v
	}
	return cloned
}

// MissingFields 按固定声明顺序返回缺失的必填字段
// 纯函数，无副作用
func (p Primitive) MissingFields() []string {
	missing := make([]string, 0, len(PrimitiveFields))
	for _, field := range PrimitiveFields {
		if _, exists := p[field]; !exists {
			missing = append(missing, field)
		}
	}
	return missing
}

// IsEmpty 检查基元是否没有任何字段
func (p Primitive) IsEmpty() bool {
	return len(p) == 0
}

// Merge 按覆盖策略合并更新：updates 中的每个 key 替换当前值，
// 未出现的 key 保持不变。返回合并后的新基元，不修改接收者
func (p Primitive) Merge(updates Primitive) Primitive {
	merged := p.Clone()
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// CompletionState 基元的完成状态（每次变更后计算一次，而不是到处用真值判断）
type CompletionState struct {
	Missing []string `json:"missing"`
}

// Complete 所有必填字段都已存在
func (cs CompletionState) Complete() bool {
	return len(cs.Missing) == 0
}

// Completion 计算当前的完成状态
func (p Primitive) Completion() CompletionState {
	return CompletionState{Missing: p.MissingFields()}
}
