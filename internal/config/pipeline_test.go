package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyPipelineConfigDefaults(t *testing.T) {
	cfg := EmptyPipelineConfig()

	assert.Equal(t, "0.0.0.0:1056", cfg.GetUDPAddress())
	assert.Equal(t, 1280, cfg.GetImageWidth())
	assert.Equal(t, 800, cfg.GetImageHeight())
	assert.Equal(t, 5, cfg.GetDetectionQueue())
	assert.Equal(t, 10, cfg.GetRenderQueue())
	assert.Equal(t, 50, cfg.GetRecord3DQueue())
	assert.Equal(t, 1000, cfg.GetRecord2DQueue())
	assert.Equal(t, 5, cfg.GetUndistortIterations())
	assert.Equal(t, 1e12, cfg.GetConditionLimit())
	assert.Equal(t, 1.0, cfg.GetPlaybackSpeed())
	assert.Equal(t, time.Millisecond, cfg.GetPlaybackMinSleep())
	assert.Equal(t, 100*time.Millisecond, cfg.GetFlushInterval())
	assert.Equal(t, time.Minute, cfg.GetStatsInterval())
	assert.Equal(t, "localhost:50061", cfg.GetGRPCListen())
	assert.Empty(t, cfg.GetDebugListen())
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsFileMatchesAccessors(t *testing.T) {
	cfg, err := LoadPipelineConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	empty := EmptyPipelineConfig()

	assert.Equal(t, empty.GetUDPAddress(), cfg.GetUDPAddress())
	assert.Equal(t, empty.GetUDPRcvBuf(), cfg.GetUDPRcvBuf())
	assert.Equal(t, empty.GetDetectionQueue(), cfg.GetDetectionQueue())
	assert.Equal(t, empty.GetRenderQueue(), cfg.GetRenderQueue())
	assert.Equal(t, empty.GetRecord3DQueue(), cfg.GetRecord3DQueue())
	assert.Equal(t, empty.GetRecord2DQueue(), cfg.GetRecord2DQueue())
	assert.Equal(t, empty.GetStatsInterval(), cfg.GetStatsInterval())
	assert.Equal(t, empty.GetFixLogInterval(), cfg.GetFixLogInterval())
	assert.Equal(t, empty.GetFlushInterval(), cfg.GetFlushInterval())
	assert.Equal(t, empty.GetConditionLimit(), cfg.GetConditionLimit())
	assert.Equal(t, empty.GetPlaybackMinSleep(), cfg.GetPlaybackMinSleep())
	assert.Equal(t, empty.GetGRPCListen(), cfg.GetGRPCListen())
	assert.Equal(t, empty.GetGRPCMaxClients(), cfg.GetGRPCMaxClients())
	assert.Equal(t, empty.GetGRPCClientQueue(), cfg.GetGRPCClientQueue())
}

func TestLoadPipelineConfig(t *testing.T) {
	dir := t.TempDir()

	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	t.Run("partial", func(t *testing.T) {
		cfg, err := LoadPipelineConfig(write("partial.json", `{"detection_queue": 8, "playback_speed": 2.5}`))
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.GetDetectionQueue())
		assert.Equal(t, 2.5, cfg.GetPlaybackSpeed())
		assert.Equal(t, 10, cfg.GetRenderQueue())
	})

	t.Run("wrong extension", func(t *testing.T) {
		_, err := LoadPipelineConfig(write("config.yaml", `{}`))
		assert.ErrorContains(t, err, ".json extension")
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadPipelineConfig(filepath.Join(dir, "missing.json"))
		assert.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		_, err := LoadPipelineConfig(write("bad.json", `{"detection_queue": "five"}`))
		assert.ErrorContains(t, err, "failed to parse config JSON")
	})

	t.Run("invalid value", func(t *testing.T) {
		_, err := LoadPipelineConfig(write("invalid.json", `{"render_queue": 0}`))
		assert.ErrorContains(t, err, "render_queue must be positive")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PipelineConfig
		wantErr string
	}{
		{"zero queue", PipelineConfig{DetectionQueue: ptrInt(0)}, "detection_queue"},
		{"negative rcvbuf", PipelineConfig{UDPRcvBuf: ptrInt(-1)}, "udp_rcvbuf"},
		{"bad duration", PipelineConfig{FlushInterval: ptrString("soon")}, "flush_interval"},
		{"negative duration", PipelineConfig{PlaybackMinSleep: ptrString("-1ms")}, "playback_min_sleep"},
		{"condition limit", PipelineConfig{ConditionLimit: ptrFloat64(0.5)}, "condition_limit"},
		{"speed", PipelineConfig{PlaybackSpeed: ptrFloat64(0)}, "playback_speed"},
		{"iterations", PipelineConfig{UndistortIterations: ptrInt(0)}, "undistort_iterations"},
		{"ok", PipelineConfig{PlaybackSpeed: ptrFloat64(4), FlushInterval: ptrString("")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Run("overrides present variables only", func(t *testing.T) {
		cfg := &PipelineConfig{RenderQueue: ptrInt(20)}
		err := cfg.ApplyEnv(map[string]string{
			"IRM_UDP_ADDRESS":     "127.0.0.1:2000",
			"IRM_DETECTION_QUEUE": "7",
			"IRM_FLUSH_INTERVAL":  "250ms",
			"IRM_PLAYBACK_SPEED":  "0.5",
			"UNRELATED":           "x",
		})
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1:2000", cfg.GetUDPAddress())
		assert.Equal(t, 7, cfg.GetDetectionQueue())
		assert.Equal(t, 250*time.Millisecond, cfg.GetFlushInterval())
		assert.Equal(t, 0.5, cfg.GetPlaybackSpeed())
		// Untouched fields keep their file or default values.
		assert.Equal(t, 20, cfg.GetRenderQueue())
		assert.Nil(t, cfg.Record2DQueue)
		assert.Nil(t, cfg.DebugListen)
	})

	t.Run("unparsable value", func(t *testing.T) {
		cfg := EmptyPipelineConfig()
		err := cfg.ApplyEnv(map[string]string{"IRM_RENDER_QUEUE": "many"})
		assert.ErrorContains(t, err, "parse env")
	})

	t.Run("invalid value", func(t *testing.T) {
		cfg := EmptyPipelineConfig()
		err := cfg.ApplyEnv(map[string]string{"IRM_RECORD_3D_QUEUE": "0"})
		assert.ErrorContains(t, err, "record_3d_queue")
	})

	t.Run("no variables", func(t *testing.T) {
		cfg := EmptyPipelineConfig()
		require.NoError(t, cfg.ApplyEnv(map[string]string{}))
		assert.Equal(t, PipelineConfig{}, *cfg)
	})
}
