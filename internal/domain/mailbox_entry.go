package domain

// Bucket 邮件在统一视图中所属的分组
type Bucket string

const (
	BucketInbox   Bucket = "inbox"
	BucketSent    Bucket = "sent"
	BucketDraft   Bucket = "draft"
	BucketSpam    Bucket = "spam"
	BucketArchive Bucket = "archive"
	BucketTrash   Bucket = "trash"
)

// SentCopySuffix 自发自收邮件在"已发送"一侧的展示 ID 后缀
const SentCopySuffix = "-sent"

// BucketFor 根据状态计算有效分组，优先级 trash > archive > spam > draft > 原始分组。
func BucketFor(status Status, base Bucket) Bucket {
	switch {
	case status.Deleted:
		return BucketTrash
	case status.Archived:
		return BucketArchive
	case status.Spam:
		return BucketSpam
	case status.Draft:
		return BucketDraft
	default:
		return base
	}
}

// MailboxEntry 统一邮箱视图中的一条记录
type MailboxEntry struct {
	DisplayID     string         `json:"displayId"`     // 展示 ID，自发自收的已发送副本带 -sent 后缀
	MessageID     string         `json:"messageId"`     // 链上邮件 ID
	Direction     Bucket         `json:"direction"`     // 来源列表：inbox 或 sent
	Bucket        Bucket         `json:"bucket"`        // 合并状态后的有效分组
	Message       Message        `json:"message"`       // 链上记录
	SenderDisplay string         `json:"senderDisplay"` // 发件人展示名（反查失败时为地址）
	Content       *ContentRecord `json:"content"`       // 邮件内容，失败时为占位内容
	Status        Status         `json:"status"`        // 合并后的状态
}

// BaseMessageID 去掉已发送副本后缀，得到用于状态查询的邮件 ID
func BaseMessageID(displayID string) string {
	n := len(displayID) - len(SentCopySuffix)
	if n > 0 && displayID[n:] == SentCopySuffix {
		return displayID[:n]
	}
	return displayID
}
