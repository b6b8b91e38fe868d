package domain

import (
	"time"
)

// Status 单封邮件的可变状态，按 (邮箱所有者, 邮件ID) 存储。
//
// 零值即"全部为 false"的默认状态。状态只影响界面展示，不会写回链上。
type Status struct {
	Read      bool       `json:"read"`
	Spam      bool       `json:"spam"`
	Archived  bool       `json:"archived"`
	Deleted   bool       `json:"deleted"`
	Draft     bool       `json:"draft"`
	Labels    []string   `json:"labels,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	Purged    bool       `json:"purged,omitempty"`
}

// StatusPatch 状态的部分更新，nil 字段表示不修改。
type StatusPatch struct {
	Read         *bool    `json:"read,omitempty"`
	Spam         *bool    `json:"spam,omitempty"`
	Archived     *bool    `json:"archived,omitempty"`
	Deleted      *bool    `json:"deleted,omitempty"`
	Draft        *bool    `json:"draft,omitempty"`
	AddLabels    []string `json:"addLabels,omitempty"`
	RemoveLabels []string `json:"removeLabels,omitempty"`
}

// Bool 返回指向 v 的指针，便于构造 StatusPatch。
func Bool(v bool) *bool {
	return &v
}

// Clone 返回状态的深拷贝
func (s Status) Clone() Status {
	out := s
	if s.Labels != nil {
		out.Labels = append([]string(nil), s.Labels...)
	}
	if s.DeletedAt != nil {
		t := *s.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// Apply 按状态迁移规则把补丁应用到当前状态上，返回新状态。
//
// 规则：
//   - deleted=true 同时清除 spam 与 archived，并记录 deletedAt
//   - archived=true 同时清除 spam 与 deleted
//   - spam=true 同时清除 archived 与 deleted
//   - purged 是终态，已清除的记录不再接受任何修改
//
// 同一补丁里多个互斥标记同时为 true 时，按 spam、archived、deleted 的顺序应用，deleted 优先。
func (s Status) Apply(patch StatusPatch, now time.Time) Status {
	if s.Purged {
		return s.Clone()
	}
	out := s.Clone()

	if patch.Read != nil {
		out.Read = *patch.Read
	}
	if patch.Draft != nil {
		out.Draft = *patch.Draft
	}
	for _, label := range patch.AddLabels {
		if !containsLabel(out.Labels, label) {
			out.Labels = append(out.Labels, label)
		}
	}
	if len(patch.RemoveLabels) > 0 {
		kept := out.Labels[:0]
		for _, label := range out.Labels {
			if !containsLabel(patch.RemoveLabels, label) {
				kept = append(kept, label)
			}
		}
		out.Labels = kept
	}

	if patch.Spam != nil {
		out.Spam = *patch.Spam
		if out.Spam {
			out.Archived = false
			out.clearDeleted()
		}
	}
	if patch.Archived != nil {
		out.Archived = *patch.Archived
		if out.Archived {
			out.Spam = false
			out.clearDeleted()
		}
	}
	if patch.Deleted != nil {
		if *patch.Deleted {
			out.Deleted = true
			out.Spam = false
			out.Archived = false
			stamp := now.UTC()
			out.DeletedAt = &stamp
		} else {
			out.clearDeleted()
		}
	}

	return out
}

// ShouldPurge 判断已删除记录是否超过保留期
func (s Status) ShouldPurge(now time.Time, retention time.Duration) bool {
	if s.Purged || !s.Deleted || s.DeletedAt == nil {
		return false
	}
	return now.Sub(*s.DeletedAt) > retention
}

func (s *Status) clearDeleted() {
	s.Deleted = false
	s.DeletedAt = nil
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
