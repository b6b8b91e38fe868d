package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"ledgermail/backend/internal/config"
)

func TestNewLogger(t *testing.T) {
	t.Run("无效级别回退到info", func(t *testing.T) {
		log, err := NewLogger(Config{Level: "loud"})
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("写入日志文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "mail.log")
		log, err := NewLogger(Config{Level: "debug", LogFile: file, MaxSize: 1})
		require.NoError(t, err)

		log.Info("hello")
		_ = log.Sync()

		data, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello")
	})
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LogConfig{Level: "warn", Development: true, File: "/tmp/x.log"})

	assert.Equal(t, "warn", cfg.Level)
	assert.True(t, cfg.Development)
	assert.Equal(t, "/tmp/x.log", cfg.LogFile)
	assert.Equal(t, 100, cfg.MaxSize)
}
