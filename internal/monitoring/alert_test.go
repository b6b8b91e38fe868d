package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingReceiver struct {
	mu     sync.Mutex
	alerts []*Alert
}

func (r *recordingReceiver) SendAlert(alert *Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestAlertManager(t *testing.T) {
	var storeErr error
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	am := NewAlertManager(zap.NewNop())
	am.now = func() time.Time { return now }
	receiver := &recordingReceiver{}
	am.AddReceiver(receiver)
	am.AddReceiver(NewLogAlertReceiver(zap.NewNop()))
	am.AddRule(ComponentDownRule("store", func() error { return storeErr }))

	t.Run("条件不成立时不告警", func(t *testing.T) {
		am.CheckRules()
		assert.Zero(t, receiver.count())
	})

	t.Run("条件成立时告警且不重复", func(t *testing.T) {
		storeErr = errors.New("connection refused")
		am.CheckRules()
		am.CheckRules()

		require.Equal(t, 1, receiver.count())
		active := am.ActiveAlerts()
		require.Len(t, active, 1)
		assert.Equal(t, "store_down", active[0].RuleID)
		assert.Equal(t, AlertLevelCritical, active[0].Level)
		assert.Equal(t, "connection refused", active[0].Message)
	})

	t.Run("恢复后自动解除", func(t *testing.T) {
		storeErr = nil
		am.CheckRules()
		assert.Empty(t, am.ActiveAlerts())
	})

	t.Run("冷却期内不再次触发", func(t *testing.T) {
		storeErr = errors.New("again")
		now = now.Add(10 * time.Second)
		am.CheckRules()
		assert.Equal(t, 1, receiver.count())

		now = now.Add(time.Minute)
		am.CheckRules()
		assert.Equal(t, 2, receiver.count())
	})
}

func TestHighMemoryUsageRule(t *testing.T) {
	assert.Error(t, HighMemoryUsageRule(0).Check())
	assert.NoError(t, HighMemoryUsageRule(1<<20).Check())
}
