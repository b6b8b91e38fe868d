package ledger

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SentLister 已发送列表的读取策略
type SentLister interface {
	Name() string
	ListSent(ctx context.Context, identity, senderAddress string) ([]string, error)
}

// indexedSentLister 通过合约的索引查询读取已发送列表
type indexedSentLister struct {
	backend Backend
}

func (l *indexedSentLister) Name() string { return "indexed" }

// detect 直接返回底层错误，供策略探测判断是否支持
func (l *indexedSentLister) detect(ctx context.Context, identity string) ([]string, error) {
	out, err := l.backend.Call(ctx, methodGetSent, identity)
	if err != nil {
		return nil, err
	}
	return idsFromOutput(out)
}

func (l *indexedSentLister) ListSent(ctx context.Context, identity, _ string) ([]string, error) {
	ids, err := l.detect(ctx, identity)
	if err != nil {
		if IsNoData(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list sent: %w", err)
	}
	return ids, nil
}

// eventScanSentLister 扫描最近区块窗口内的发件事件
type eventScanSentLister struct {
	backend Backend
	window  uint64
	chunk   uint64
}

func (l *eventScanSentLister) Name() string { return "event-scan" }

func (l *eventScanSentLister) ListSent(ctx context.Context, _ string, senderAddress string) ([]string, error) {
	head, err := l.backend.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sent: block number: %w", err)
	}
	var from uint64
	if head > l.window {
		from = head - l.window
	}
	return l.scan(ctx, senderAddress, from, head)
}

// scan 按块跨度分段查询，去重并保持日志顺序
func (l *eventScanSentLister) scan(ctx context.Context, senderAddress string, fromBlock, toBlock uint64) ([]string, error) {
	if !common.IsHexAddress(senderAddress) {
		return nil, fmt.Errorf("invalid sender address %q", senderAddress)
	}
	if fromBlock > toBlock {
		return []string{}, nil
	}
	sender := common.HexToAddress(senderAddress)

	ids := []string{}
	seen := make(map[string]struct{})
	for start := fromBlock; start <= toBlock; {
		end := start + l.chunk - 1
		if end > toBlock || end < start {
			end = toBlock
		}

		raw, err := l.backend.SentEvents(ctx, sender, start, end)
		if err != nil && !IsNoData(err) {
			return nil, fmt.Errorf("scan sent events [%d, %d]: %w", start, end, err)
		}
		for _, id := range bigsToStrings(raw) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}

		if end == toBlock {
			break
		}
		start = end + 1
	}
	return ids, nil
}
