package domain

import "time"

// ClaimRecord 托管转账的领取记录。
//
// 转账对象尚未注册或尚未部署钱包时创建；兑换成功后删除，且只会被消费一次。
type ClaimRecord struct {
	Code                   string    `json:"code"`                   // 6 位数字领取码
	TxRef                  string    `json:"txRef"`                  // 内容定位或交易哈希
	Recipient              string    `json:"recipient"`              // 收件人标识
	Sender                 string    `json:"sender"`                 // 发件人标识
	Assets                 []Asset   `json:"assets"`                 // 托管的资产
	CreatedAt              time.Time `json:"createdAt"`              // 创建时间
	IsRegisteredAtSendTime bool      `json:"isRegisteredAtSendTime"` // 发送时收件人是否已注册
	IsDirectTransfer       bool      `json:"isDirectTransfer"`       // 是否为直接转账
}
