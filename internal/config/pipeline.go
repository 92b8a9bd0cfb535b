package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultConfigPath is the path of the checked-in pipeline defaults.
const DefaultConfigPath = "config/pipeline.defaults.json"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IRM_"

// Defaults for fields left out of the JSON file.
const (
	DefaultUDPAddress          = "0.0.0.0:1056"
	DefaultUDPRcvBuf           = 2 << 20
	DefaultImageWidth          = 1280
	DefaultImageHeight         = 800
	DefaultDetectionQueue      = 5
	DefaultRenderQueue         = 10
	DefaultRecord3DQueue       = 50
	DefaultRecord2DQueue       = 1000
	DefaultStatsInterval       = time.Minute
	DefaultFixLogInterval      = time.Second
	DefaultFlushInterval       = 100 * time.Millisecond
	DefaultUndistortIterations = 5
	DefaultConditionLimit      = 1e12
	DefaultPlaybackSpeed       = 1.0
	DefaultPlaybackMinSleep    = time.Millisecond
	DefaultGRPCListen          = "localhost:50061"
	DefaultGRPCMaxClients      = 5
	DefaultGRPCClientQueue     = 10
)

// PipelineConfig holds the runtime parameters of the triangulation
// pipeline. Every field is optional: the Get* accessors supply defaults
// for fields that are not set, so partial files are safe.
type PipelineConfig struct {
	// Receive path
	UDPAddress  *string `json:"udp_address,omitempty"`
	UDPRcvBuf   *int    `json:"udp_rcvbuf,omitempty"`
	ImageWidth  *int    `json:"image_width,omitempty"`
	ImageHeight *int    `json:"image_height,omitempty"`

	// Queue capacities
	DetectionQueue *int `json:"detection_queue,omitempty"`
	RenderQueue    *int `json:"render_queue,omitempty"`
	Record3DQueue  *int `json:"record_3d_queue,omitempty"`
	Record2DQueue  *int `json:"record_2d_queue,omitempty"`

	// Logging and recording
	StatsInterval  *string `json:"stats_interval,omitempty"`   // duration string like "1m"
	FixLogInterval *string `json:"fix_log_interval,omitempty"` // duration string like "1s"
	FlushInterval  *string `json:"flush_interval,omitempty"`

	// Triangulation
	UndistortIterations *int     `json:"undistort_iterations,omitempty"`
	ConditionLimit      *float64 `json:"condition_limit,omitempty"`

	// Playback
	PlaybackSpeed    *float64 `json:"playback_speed,omitempty"`
	PlaybackMinSleep *string  `json:"playback_min_sleep,omitempty"`

	// Fix stream
	GRPCListen      *string `json:"grpc_listen,omitempty"`
	GRPCMaxClients  *int    `json:"grpc_max_clients,omitempty"`
	GRPCClientQueue *int    `json:"grpc_client_queue,omitempty"`

	// Debug HTTP server; empty disables it.
	DebugListen *string `json:"debug_listen,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPipelineConfig returns a config with every field unset.
func EmptyPipelineConfig() *PipelineConfig {
	return &PipelineConfig{}
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file. The file
// must have a .json extension and be at most 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPipelineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envOverrides mirrors PipelineConfig with plain values. It is seeded
// with the resolved config so unset variables keep the current value.
type envOverrides struct {
	UDPAddress          string  `env:"UDP_ADDRESS"`
	UDPRcvBuf           int     `env:"UDP_RCVBUF"`
	ImageWidth          int     `env:"IMAGE_WIDTH"`
	ImageHeight         int     `env:"IMAGE_HEIGHT"`
	DetectionQueue      int     `env:"DETECTION_QUEUE"`
	RenderQueue         int     `env:"RENDER_QUEUE"`
	Record3DQueue       int     `env:"RECORD_3D_QUEUE"`
	Record2DQueue       int     `env:"RECORD_2D_QUEUE"`
	StatsInterval       string  `env:"STATS_INTERVAL"`
	FixLogInterval      string  `env:"FIX_LOG_INTERVAL"`
	FlushInterval       string  `env:"FLUSH_INTERVAL"`
	UndistortIterations int     `env:"UNDISTORT_ITERATIONS"`
	ConditionLimit      float64 `env:"CONDITION_LIMIT"`
	PlaybackSpeed       float64 `env:"PLAYBACK_SPEED"`
	PlaybackMinSleep    string  `env:"PLAYBACK_MIN_SLEEP"`
	GRPCListen          string  `env:"GRPC_LISTEN"`
	GRPCMaxClients      int     `env:"GRPC_MAX_CLIENTS"`
	GRPCClientQueue     int     `env:"GRPC_CLIENT_QUEUE"`
	DebugListen         string  `env:"DEBUG_LISTEN"`
}

// ApplyEnv overrides fields from IRM_* environment variables, for example
// IRM_UDP_ADDRESS or IRM_DETECTION_QUEUE. A nil environ reads the process
// environment. Only variables that are present are applied.
func (c *PipelineConfig) ApplyEnv(environ map[string]string) error {
	o := envOverrides{
		UDPAddress:          c.GetUDPAddress(),
		UDPRcvBuf:           c.GetUDPRcvBuf(),
		ImageWidth:          c.GetImageWidth(),
		ImageHeight:         c.GetImageHeight(),
		DetectionQueue:      c.GetDetectionQueue(),
		RenderQueue:         c.GetRenderQueue(),
		Record3DQueue:       c.GetRecord3DQueue(),
		Record2DQueue:       c.GetRecord2DQueue(),
		StatsInterval:       c.GetStatsInterval().String(),
		FixLogInterval:      c.GetFixLogInterval().String(),
		FlushInterval:       c.GetFlushInterval().String(),
		UndistortIterations: c.GetUndistortIterations(),
		ConditionLimit:      c.GetConditionLimit(),
		PlaybackSpeed:       c.GetPlaybackSpeed(),
		PlaybackMinSleep:    c.GetPlaybackMinSleep().String(),
		GRPCListen:          c.GetGRPCListen(),
		GRPCMaxClients:      c.GetGRPCMaxClients(),
		GRPCClientQueue:     c.GetGRPCClientQueue(),
		DebugListen:         c.GetDebugListen(),
	}

	present := make(map[string]bool)
	opts := env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
		OnSet: func(tag string, value any, isDefault bool) {
			if s, _ := value.(string); s != "" {
				present[tag] = true
			}
		},
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	set := func(name string, apply func()) {
		if present[EnvPrefix+name] {
			apply()
		}
	}
	set("UDP_ADDRESS", func() { c.UDPAddress = ptrString(o.UDPAddress) })
	set("UDP_RCVBUF", func() { c.UDPRcvBuf = ptrInt(o.UDPRcvBuf) })
	set("IMAGE_WIDTH", func() { c.ImageWidth = ptrInt(o.ImageWidth) })
	set("IMAGE_HEIGHT", func() { c.ImageHeight = ptrInt(o.ImageHeight) })
	set("DETECTION_QUEUE", func() { c.DetectionQueue = ptrInt(o.DetectionQueue) })
	set("RENDER_QUEUE", func() { c.RenderQueue = ptrInt(o.RenderQueue) })
	set("RECORD_3D_QUEUE", func() { c.Record3DQueue = ptrInt(o.Record3DQueue) })
	set("RECORD_2D_QUEUE", func() { c.Record2DQueue = ptrInt(o.Record2DQueue) })
	set("STATS_INTERVAL", func() { c.StatsInterval = ptrString(o.StatsInterval) })
	set("FIX_LOG_INTERVAL", func() { c.FixLogInterval = ptrString(o.FixLogInterval) })
	set("FLUSH_INTERVAL", func() { c.FlushInterval = ptrString(o.FlushInterval) })
	set("UNDISTORT_ITERATIONS", func() { c.UndistortIterations = ptrInt(o.UndistortIterations) })
	set("CONDITION_LIMIT", func() { c.ConditionLimit = ptrFloat64(o.ConditionLimit) })
	set("PLAYBACK_SPEED", func() { c.PlaybackSpeed = ptrFloat64(o.PlaybackSpeed) })
	set("PLAYBACK_MIN_SLEEP", func() { c.PlaybackMinSleep = ptrString(o.PlaybackMinSleep) })
	set("GRPC_LISTEN", func() { c.GRPCListen = ptrString(o.GRPCListen) })
	set("GRPC_MAX_CLIENTS", func() { c.GRPCMaxClients = ptrInt(o.GRPCMaxClients) })
	set("GRPC_CLIENT_QUEUE", func() { c.GRPCClientQueue = ptrInt(o.GRPCClientQueue) })
	set("DEBUG_LISTEN", func() { c.DebugListen = ptrString(o.DebugListen) })

	return c.Validate()
}

// Validate checks that the configured values are usable.
func (c *PipelineConfig) Validate() error {
	positive := []struct {
		name string
		v    *int
	}{
		{"image_width", c.ImageWidth},
		{"image_height", c.ImageHeight},
		{"detection_queue", c.DetectionQueue},
		{"render_queue", c.RenderQueue},
		{"record_3d_queue", c.Record3DQueue},
		{"record_2d_queue", c.Record2DQueue},
		{"undistort_iterations", c.UndistortIterations},
		{"grpc_max_clients", c.GRPCMaxClients},
		{"grpc_client_queue", c.GRPCClientQueue},
	}
	for _, p := range positive {
		if p.v != nil && *p.v < 1 {
			return fmt.Errorf("%s must be positive, got %d", p.name, *p.v)
		}
	}

	if c.UDPRcvBuf != nil && *c.UDPRcvBuf < 0 {
		return fmt.Errorf("udp_rcvbuf must be non-negative, got %d", *c.UDPRcvBuf)
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"stats_interval", c.StatsInterval},
		{"fix_log_interval", c.FixLogInterval},
		{"flush_interval", c.FlushInterval},
		{"playback_min_sleep", c.PlaybackMinSleep},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		v, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, v)
		}
	}

	if c.ConditionLimit != nil {
		if v := *c.ConditionLimit; math.IsNaN(v) || v <= 1 {
			return fmt.Errorf("condition_limit must be greater than 1, got %g", v)
		}
	}
	if c.PlaybackSpeed != nil {
		if v := *c.PlaybackSpeed; math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("playback_speed must be positive, got %g", v)
		}
	}
	return nil
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getString(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// GetUDPAddress returns the UDP listen address.
func (c *PipelineConfig) GetUDPAddress() string { return getString(c.UDPAddress, DefaultUDPAddress) }

// GetUDPRcvBuf returns the socket receive buffer size in bytes.
func (c *PipelineConfig) GetUDPRcvBuf() int { return getInt(c.UDPRcvBuf, DefaultUDPRcvBuf) }

func (c *PipelineConfig) GetImageWidth() int  { return getInt(c.ImageWidth, DefaultImageWidth) }
func (c *PipelineConfig) GetImageHeight() int { return getInt(c.ImageHeight, DefaultImageHeight) }

// GetDetectionQueue returns the capacity of the listener to engine queue.
func (c *PipelineConfig) GetDetectionQueue() int {
	return getInt(c.DetectionQueue, DefaultDetectionQueue)
}

func (c *PipelineConfig) GetRenderQueue() int   { return getInt(c.RenderQueue, DefaultRenderQueue) }
func (c *PipelineConfig) GetRecord3DQueue() int { return getInt(c.Record3DQueue, DefaultRecord3DQueue) }
func (c *PipelineConfig) GetRecord2DQueue() int { return getInt(c.Record2DQueue, DefaultRecord2DQueue) }

// GetStatsInterval returns how often receive statistics are logged.
func (c *PipelineConfig) GetStatsInterval() time.Duration {
	return getDuration(c.StatsInterval, DefaultStatsInterval)
}

func (c *PipelineConfig) GetFixLogInterval() time.Duration {
	return getDuration(c.FixLogInterval, DefaultFixLogInterval)
}

// GetFlushInterval returns how often recorders flush to disk.
func (c *PipelineConfig) GetFlushInterval() time.Duration {
	return getDuration(c.FlushInterval, DefaultFlushInterval)
}

func (c *PipelineConfig) GetUndistortIterations() int {
	return getInt(c.UndistortIterations, DefaultUndistortIterations)
}

// GetConditionLimit returns the largest accepted condition number of the
// midpoint system.
func (c *PipelineConfig) GetConditionLimit() float64 {
	if c.ConditionLimit == nil {
		return DefaultConditionLimit
	}
	return *c.ConditionLimit
}

func (c *PipelineConfig) GetPlaybackSpeed() float64 {
	if c.PlaybackSpeed == nil {
		return DefaultPlaybackSpeed
	}
	return *c.PlaybackSpeed
}

// GetPlaybackMinSleep returns the pause used for the first record and for
// non-positive gaps during playback.
func (c *PipelineConfig) GetPlaybackMinSleep() time.Duration {
	return getDuration(c.PlaybackMinSleep, DefaultPlaybackMinSleep)
}

func (c *PipelineConfig) GetGRPCListen() string { return getString(c.GRPCListen, DefaultGRPCListen) }

func (c *PipelineConfig) GetGRPCMaxClients() int {
	return getInt(c.GRPCMaxClients, DefaultGRPCMaxClients)
}

func (c *PipelineConfig) GetGRPCClientQueue() int {
	return getInt(c.GRPCClientQueue, DefaultGRPCClientQueue)
}

// GetDebugListen returns the debug HTTP address, empty when disabled.
func (c *PipelineConfig) GetDebugListen() string { return getString(c.DebugListen, "") }
