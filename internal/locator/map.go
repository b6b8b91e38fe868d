package locator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"ledgermail/backend/internal/monitoring"
)

// Map 定位映射
//
// 按责任链解析：先查持久化存储，再依次查缓存层。写入时先写持久化存储，
// 无论结果如何都会再写所有缓存层。
type Map struct {
	durable Tier
	caches  []Tier
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewMap 创建定位映射，durable 可以为 nil（仅使用缓存）
func NewMap(durable Tier, caches []Tier, logger *zap.Logger) *Map {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Map{
		durable: durable,
		caches:  caches,
		logger:  logger,
	}
}

// SetMetrics 设置监控指标
func (m *Map) SetMetrics(metrics *monitoring.Metrics) {
	m.metrics = metrics
}

// Record 写入摘要到地址的映射。
//
// 持久化存储写入失败只记录日志；只有所有存储层都失败时才返回 ErrNotRecorded。
func (m *Map) Record(ctx context.Context, digest [32]byte, address string) error {
	stored := 0

	if m.durable != nil {
		if err := m.durable.Store(ctx, digest, address); err != nil {
			m.logger.Warn("Failed to record locator in durable store",
				zap.String("locator", Hex(digest)),
				zap.String("tier", m.durable.Name()),
				zap.Error(err))
		} else {
			stored++
		}
	}

	for _, tier := range m.caches {
		if err := tier.Store(ctx, digest, address); err != nil {
			m.logger.Warn("Failed to mirror locator into cache",
				zap.String("locator", Hex(digest)),
				zap.String("tier", tier.Name()),
				zap.Error(err))
			continue
		}
		stored++
	}

	if stored == 0 {
		return ErrNotRecorded
	}
	return nil
}

// Resolve 解析摘要对应的完整内容地址。
//
// 命中持久化存储时回填缓存层；命中缓存层时回写持久化存储和其他缓存层。
// 回填都是尽力而为，失败只记录日志。
func (m *Map) Resolve(ctx context.Context, digest [32]byte) Resolution {
	var lastErr error

	tiers := m.tiers()
	for i, tier := range tiers {
		address, err := tier.Lookup(ctx, digest)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				lastErr = err
				m.logger.Debug("Locator tier lookup failed",
					zap.String("locator", Hex(digest)),
					zap.String("tier", tier.Name()),
					zap.Error(err))
			}
			continue
		}

		m.repair(ctx, digest, address, tiers, i)
		m.metrics.RecordLocatorResolution(tier.Name())
		return Resolution{
			Outcome: Found,
			Address: address,
			Source:  tier.Name(),
		}
	}

	m.metrics.RecordLocatorResolution("unresolved")
	return Resolution{Outcome: Unresolved, Err: lastErr}
}

func (m *Map) tiers() []Tier {
	tiers := make([]Tier, 0, len(m.caches)+1)
	if m.durable != nil {
		tiers = append(tiers, m.durable)
	}
	return append(tiers, m.caches...)
}

// repair 把命中的地址写入除命中层以外的所有层
func (m *Map) repair(ctx context.Context, digest [32]byte, address string, tiers []Tier, hit int) {
	for i, tier := range tiers {
		if i == hit {
			continue
		}
		if err := tier.Store(ctx, digest, address); err != nil {
			m.logger.Debug("Locator read-repair failed",
				zap.String("locator", Hex(digest)),
				zap.String("tier", tier.Name()),
				zap.Error(err))
		}
	}
}
