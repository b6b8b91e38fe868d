package domain

import "time"

// Message 表示链上索引的一封邮件记录。
//
// 链上记录写入后不可变，也不会被删除；"删除"只是状态存储里的标记。
type Message struct {
	ID               string    `json:"id"`               // 链上分配的单调递增编号（十进制字符串）
	Locator          [32]byte  `json:"-"`                // 链上记录的定长内容定位摘要
	Sender           string    `json:"sender"`           // 发件人（链地址或别名）
	Recipient        string    `json:"recipient"`        // 收件人（链地址或别名）
	IsExternal       bool      `json:"isExternal"`       // 收件人是否在原生命名空间之外（需桥接到传统邮件）
	HasValueTransfer bool      `json:"hasValueTransfer"` // 是否附带资产转账
	IsSpam           bool      `json:"isSpam"`           // 索引时写入链上的垃圾邮件标记（与状态存储的 spam 独立）
	Timestamp        time.Time `json:"timestamp"`        // 区块时间
}

// ContentRecord 表示存放在内容存储中的邮件正文，发送时写入一次，之后只读。
type ContentRecord struct {
	Subject       string              `json:"subject"`
	Body          string              `json:"body"`
	HTMLBody      string              `json:"htmlBody,omitempty"`
	TextBody      string              `json:"textBody,omitempty"`
	From          string              `json:"from"`
	Timestamp     time.Time           `json:"timestamp"`
	Attachments   []ContentAttachment `json:"attachments,omitempty"`
	InReplyTo     string              `json:"inReplyTo,omitempty"`
	ValueTransfer *TransferMeta       `json:"valueTransfer,omitempty"`

	// Partial 为 true 表示这是加载失败时的占位内容，不应被长期缓存
	Partial bool `json:"-"`
}

// ContentAttachment 邮件附件（内容本身单独存放在内容存储中）。
type ContentAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Address     string `json:"address"` // 附件在内容存储中的地址
}

// TransferMeta 嵌入在邮件内容中的转账元数据。
type TransferMeta struct {
	Assets    []Asset `json:"assets"`
	IsDirect  bool    `json:"isDirect"`
	ClaimCode string  `json:"claimCode,omitempty"`
}

// PlaceholderSubject 内容暂不可用时显示的主题。
const PlaceholderSubject = "Loading…"

// PlaceholderContent 返回内容不可用时的占位记录。
func PlaceholderContent() *ContentRecord {
	return &ContentRecord{
		Subject: PlaceholderSubject,
		Partial: true,
	}
}
