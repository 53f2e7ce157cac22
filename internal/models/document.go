// internal/models/document.go
package models

import "time"

// Document 上传的清单/程序文档
// Text 是抽取后的纯文本，Candidates 是启发式挑出的候选清单条目
type Document struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Filename   string    `json:"filename"`
	Text       string    `json:"text"`
	Candidates []string  `json:"candidates,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
