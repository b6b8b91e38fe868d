package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	ID         string     `json:"id"`
	RuleID     string     `json:"ruleId"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Level      AlertLevel `json:"level"`
	Component  string     `json:"component"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// AlertRule 告警规则，Check 返回非 nil 错误表示条件成立
type AlertRule struct {
	ID        string
	Name      string
	Check     func() error
	Level     AlertLevel
	Component string
	Cooldown  time.Duration
}

// AlertReceiver 告警接收器接口
type AlertReceiver interface {
	SendAlert(alert *Alert) error
}

// AlertManager 告警管理器
//
// 同一规则在告警未解除前不会重复触发；条件恢复后自动解除。
type AlertManager struct {
	mu            sync.RWMutex
	active        map[string]*Alert // ruleID -> 未解除的告警
	lastTriggered map[string]time.Time
	rules         []AlertRule
	receivers     []AlertReceiver
	now           func() time.Time
	logger        *zap.Logger
}

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		active:        make(map[string]*Alert),
		lastTriggered: make(map[string]time.Time),
		now:           time.Now,
		logger:        logger,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// ActiveAlerts 获取未解除的告警
func (am *AlertManager) ActiveAlerts() []Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	out := make([]Alert, 0, len(am.active))
	for _, alert := range am.active {
		out = append(out, *alert)
	}
	return out
}

// CheckRules 检查全部告警规则
func (am *AlertManager) CheckRules() {
	am.mu.RLock()
	rules := append([]AlertRule(nil), am.rules...)
	am.mu.RUnlock()

	for _, rule := range rules {
		if err := rule.Check(); err != nil {
			am.trigger(rule, err)
		} else {
			am.resolve(rule.ID)
		}
	}
}

func (am *AlertManager) trigger(rule AlertRule, cause error) {
	now := am.now()

	am.mu.Lock()
	if _, exists := am.active[rule.ID]; exists {
		am.mu.Unlock()
		return
	}
	if last, ok := am.lastTriggered[rule.ID]; ok && now.Sub(last) < rule.Cooldown {
		am.mu.Unlock()
		return
	}

	alert := &Alert{
		ID:        fmt.Sprintf("%s_%d", rule.ID, now.Unix()),
		RuleID:    rule.ID,
		Title:     rule.Name,
		Message:   cause.Error(),
		Level:     rule.Level,
		Component: rule.Component,
		Timestamp: now,
	}
	am.active[rule.ID] = alert
	am.lastTriggered[rule.ID] = now
	receivers := append([]AlertReceiver(nil), am.receivers...)
	am.mu.Unlock()

	for _, receiver := range receivers {
		if err := receiver.SendAlert(alert); err != nil {
			am.logger.Error("Failed to send alert",
				zap.String("alert_id", alert.ID),
				zap.Error(err),
			)
		}
	}
}

func (am *AlertManager) resolve(ruleID string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, exists := am.active[ruleID]
	if !exists {
		return
	}
	now := am.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	delete(am.active, ruleID)

	am.logger.Info("Alert resolved", zap.String("alert_id", alert.ID))
}

// StartMonitoring 按间隔检查规则直到 ctx 取消
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules()
		}
	}
}

// HighMemoryUsageRule 高内存使用告警规则
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:   "high_memory_usage",
		Name: "High Memory Usage",
		Check: func() error {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			usedMB := float64(m.Alloc) / 1024 / 1024
			if usedMB > thresholdMB {
				return fmt.Errorf("memory usage %.1fMB exceeds %.1fMB", usedMB, thresholdMB)
			}
			return nil
		},
		Level:     AlertLevelWarning,
		Component: "system",
		Cooldown:  5 * time.Minute,
	}
}

// ComponentDownRule 组件健康检查失败告警规则
func ComponentDownRule(component string, check func() error) AlertRule {
	return AlertRule{
		ID:        component + "_down",
		Name:      component + " unavailable",
		Check:     check,
		Level:     AlertLevelCritical,
		Component: component,
		Cooldown:  time.Minute,
	}
}

// LogAlertReceiver 日志告警接收器
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 发送告警到日志
func (lar *LogAlertReceiver) SendAlert(alert *Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Time("timestamp", alert.Timestamp),
	}
	if alert.Level == AlertLevelCritical {
		lar.logger.Error("CRITICAL ALERT", fields...)
		return nil
	}
	lar.logger.Warn("WARNING ALERT", fields...)
	return nil
}
