package ledger

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrReadOnly 当前会话没有签名密钥，不能发起写交易
	ErrReadOnly = errors.New("ledger backend is read-only")
	// ErrNoEndpoints 没有可用的 RPC 节点
	ErrNoEndpoints = errors.New("no ledger endpoints configured")
	// ErrMessageNotFound 链上没有该邮件
	ErrMessageNotFound = errors.New("ledger message not found")
	// ErrInvalidMessageID 邮件 ID 不是十进制数字
	ErrInvalidMessageID = errors.New("invalid ledger message id")
)

// WriteRef 一次链上写入的引用
type WriteRef struct {
	TxHash   string `json:"txHash"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Backend 邮件合约的 RPC 后端
//
// 读方法可以安全重试，写方法（Transact、Approve）不能自动重试。
type Backend interface {
	// Call 调用合约只读方法，返回按 ABI 解码后的输出
	Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
	// Transact 发起合约写交易，value 为附带的原生币（可为 nil）
	Transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (WriteRef, error)
	// Allowance 查询签名账户授权给邮件合约的代币额度
	Allowance(ctx context.Context, token common.Address) (*big.Int, error)
	// Approve 授权邮件合约使用签名账户的代币
	Approve(ctx context.Context, token common.Address, amount *big.Int) (WriteRef, error)
	// SentEvents 扫描区块区间内某发件人的 MailSent 事件，按日志顺序返回邮件 ID
	SentEvents(ctx context.Context, sender common.Address, fromBlock, toBlock uint64) ([]*big.Int, error)
	// BlockNumber 返回最新区块高度
	BlockNumber(ctx context.Context) (uint64, error)
}

// noDataMarkers 未初始化账户读调用的典型错误
var noDataMarkers = []string{
	"attempting to unmarshall an empty string",
	"attempting to unmarshal an empty string",
	"execution reverted",
}

// IsNoData 判断读调用错误是否只是"没有数据"，这类错误应视为空结果
func IsNoData(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, bind.ErrNoCode) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range noDataMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isUnsupported 判断方法是否不被合约或节点支持
func isUnsupported(err error) bool {
	if err == nil {
		return false
	}
	if IsNoData(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "method not found") || strings.Contains(msg, "not supported") {
		return true
	}
	// abi: could not locate named method
	return strings.Contains(msg, "could not locate named method")
}
