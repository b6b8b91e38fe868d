package settlement

import (
	"errors"
	"math/big"

	"ledgermail/backend/internal/domain"
	"ledgermail/backend/internal/ledger"
)

var (
	// ErrNoRecipients 没有收件人
	ErrNoRecipients = errors.New("no recipients")
	// ErrMultiRecipientTransfer 附带资产的邮件只能发给一个收件人
	ErrMultiRecipientTransfer = errors.New("crypto transfer to multiple recipients")
	// ErrEmptyBody 正文为空
	ErrEmptyBody = errors.New("empty body")
	// ErrInvalidAsset 资产描述无法转换为转账参数
	ErrInvalidAsset = errors.New("invalid asset")
	// ErrRecipientValidation 收件人校验失败（注册状态、白名单或费用查询）
	ErrRecipientValidation = errors.New("recipient validation failed")
	// ErrContentStoreUnavailable 内容无法写入内容存储，邮件不会发送
	ErrContentStoreUnavailable = errors.New("content store unavailable")
	// ErrTransferFailed 首个资产的授权或转账写入失败
	ErrTransferFailed = errors.New("allowance/transfer write failed")
	// ErrIndexFailed 索引写入失败
	ErrIndexFailed = errors.New("index write failed")
)

// SendRequest 发送请求
type SendRequest struct {
	Sender        string                     // 发件人身份
	SenderAddress string                     // 发件人链地址
	Recipients    []string                   // 收件人身份或传统邮件地址
	Subject       string
	Body          string                     // 纯文本正文
	HTMLBody      string                     // 可选的 HTML 正文
	Attachments   []domain.ContentAttachment // 已上传到内容存储的附件
	Assets        []domain.Asset             // 附带资产，第一个为主资产
	InReplyTo     string
}

// Tally 按收件人统计的发送结果
type Tally struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RecipientResult 单个收件人的发送结果
type RecipientResult struct {
	Recipient  string
	IsExternal bool
	Payment    *big.Int         // 附带的联系费用
	Write      *ledger.WriteRef // 索引或首个转账写入
	Bridged    bool             // 是否已交给传统邮件桥接
	BridgeErr  error            // 桥接失败不影响该收件人的结果
	Err        error
}

// OK 该收件人的链上写入是否成功
func (r RecipientResult) OK() bool {
	return r.Err == nil
}

// AssetFailure 附加资产转账失败
type AssetFailure struct {
	Asset domain.Asset
	Err   error
}

// SendResult 发送结果
//
// 链上写入之后发生的失败不会变成整体失败，调用方应查看 Tally。
type SendResult struct {
	Tally          Tally
	Recipients     []RecipientResult
	AssetFailures  []AssetFailure
	ClaimCode      string // 未直接转账时生成的领取码
	ClaimStored    bool   // 领取记录是否已保存
	IsDirect       bool   // 资产是否直接转入收件人钱包
	ContentAddress string
	Locator        [32]byte
}

// Outcome 汇总结果：success、partial 或 failed
func (r *SendResult) Outcome() string {
	switch {
	case r.Tally.Attempted > 0 && r.Tally.Failed == 0 && len(r.AssetFailures) == 0:
		return "success"
	case r.Tally.Succeeded > 0:
		return "partial"
	default:
		return "failed"
	}
}

func (r *SendResult) record(rr RecipientResult) {
	r.Recipients = append(r.Recipients, rr)
	r.Tally.Attempted++
	if rr.OK() {
		r.Tally.Succeeded++
	} else {
		r.Tally.Failed++
	}
}
