package httptransport

import (
	"errors"

	"ledgermail/backend/internal/storage"
)

// 错误消息映射表（存储错误 -> 中文消息）
var errorMessages = map[error]string{
	storage.ErrNotFound:        "记录不存在",
	storage.ErrInvalidArgument: "参数无效",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidJSON     = "JSON格式错误"
	MsgInvalidLocator  = "定位符格式无效"
	MsgMissingAddress  = "缺少完整地址"
	MsgMissingOwner    = "缺少邮箱所有者"
	MsgMissingID       = "缺少邮件ID"
	MsgOwnerMismatch   = "令牌与邮箱所有者不匹配"
	MsgStoreFailure    = "存储服务暂时不可用"
	MsgLocatorNotFound = "定位映射不存在"
)
