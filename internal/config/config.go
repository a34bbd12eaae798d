// Package config provides the configuration schema, loader, and validation
// for the kinesia coaching service.
package config

import (
	"time"

	"github.com/kinesia-ai/kinesia/internal/connection"
	"github.com/kinesia-ai/kinesia/internal/privacy"
	"github.com/kinesia-ai/kinesia/pkg/audio"
	"github.com/kinesia-ai/kinesia/pkg/live"
)

// LogLevel controls log verbosity for the kinesia server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Modality is an output modality requested from the model.
type Modality string

const (
	ModalityText  Modality = "TEXT"
	ModalityAudio Modality = "AUDIO"
)

// IsValid reports whether m is a recognised modality.
func (m Modality) IsValid() bool {
	return m == ModalityText || m == ModalityAudio
}

// Config is the root configuration structure for kinesia. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Live        LiveConfig       `yaml:"live"`
	Session     SessionConfig    `yaml:"session"`
	Audio       AudioConfig      `yaml:"audio"`
	Privacy     PrivacyConfig    `yaml:"privacy"`
	Transcripts TranscriptConfig `yaml:"transcripts"`
}

// ServerConfig holds the HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the host:port the HTTP API binds to. Default ":8321".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets log verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, writes logs to this path with rotation instead of
	// stderr.
	LogFile string `yaml:"log_file"`
}

// LiveConfig describes the remote voice model and the session setup sent on
// every connect.
type LiveConfig struct {
	// Model is the generative model identifier. Required.
	Model string `yaml:"model"`

	// Voice selects the prebuilt voice for audio responses.
	Voice string `yaml:"voice"`

	// ResponseModalities lists requested output modalities.
	ResponseModalities []Modality `yaml:"response_modalities"`

	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`

	// SystemInstruction is the coaching persona prompt.
	SystemInstruction string `yaml:"system_instruction"`

	// BaseURL overrides the service endpoint. Empty selects production.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates the connection. Usually supplied via the
	// KINESIA_API_KEY environment variable rather than the file.
	APIKey string `yaml:"api_key"`
}

// SessionConfig tunes connection lifecycle policy.
type SessionConfig struct {
	ReconnectMaxAttempts  int   `yaml:"reconnect_max_attempts"`
	ReconnectBaseDelayMs  int64 `yaml:"reconnect_base_delay_ms"`
	ReconnectMaxDelayMs   int64 `yaml:"reconnect_max_delay_ms"`
	ConnectTimeoutMs      int64 `yaml:"connect_timeout_ms"`
	HealthProbeIntervalMs int64 `yaml:"health_probe_interval_ms"`
	IdleTimeoutMs         int64 `yaml:"idle_timeout_ms"`
	SendRatePerSec        int   `yaml:"send_rate_per_sec"`
	SendQueueDepth        int   `yaml:"send_queue_depth"`
}

// AudioConfig tunes capture and voice-activity detection.
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	VADThreshold      float64 `yaml:"vad_threshold"`
	VADHangoverMs     int64   `yaml:"vad_hangover_ms"`
	AudioChunkMs      int64   `yaml:"audio_chunk_ms"`
	BargeInMinMs      int64   `yaml:"barge_in_min_ms"`
	BargeInCooldownMs int64   `yaml:"barge_in_cooldown_ms"`
	QualityFloor      float64 `yaml:"quality_floor"`
	QualityWindows    int     `yaml:"quality_windows"`
}

// PrivacyConfig is the upload consent gate.
type PrivacyConfig struct {
	AllowAudioUpload    bool `yaml:"allow_audio_upload"`
	AllowLandmarkUpload bool `yaml:"allow_landmark_upload"`
	OfflineMode         bool `yaml:"offline_mode"`
}

// TranscriptConfig selects transcript persistence.
type TranscriptConfig struct {
	// PostgresDSN enables the PostgreSQL transcript store. Empty keeps
	// transcripts in memory only.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ── Derived configurations ────────────────────────────────────────────────────

// SetupEnvelope builds the protocol setup message from the live settings.
func (c *Config) SetupEnvelope() live.Setup {
	modalities := make([]string, 0, len(c.Live.ResponseModalities))
	for _, m := range c.Live.ResponseModalities {
		modalities = append(modalities, string(m))
	}
	return live.Setup{
		Model: c.Live.Model,
		Generation: live.GenerationConfig{
			ResponseModalities: modalities,
			Voice:              c.Live.Voice,
			Temperature:        c.Live.Temperature,
			MaxOutputTokens:    c.Live.MaxOutputTokens,
		},
		SystemInstruction: c.Live.SystemInstruction,
	}
}

// ConnectionConfig builds the connection manager settings. Zero values keep
// the connection package defaults.
func (c *Config) ConnectionConfig() connection.Config {
	return connection.Config{
		BaseURL:        c.Live.BaseURL,
		Credential:     c.Live.APIKey,
		Setup:          c.SetupEnvelope(),
		ConnectTimeout: time.Duration(c.Session.ConnectTimeoutMs) * time.Millisecond,
		ProbeInterval:  time.Duration(c.Session.HealthProbeIntervalMs) * time.Millisecond,
		IdleTimeout:    time.Duration(c.Session.IdleTimeoutMs) * time.Millisecond,
		SendRate:       c.Session.SendRatePerSec,
		AudioQueueCap:  c.Session.SendQueueDepth,
		BaseDelay:      time.Duration(c.Session.ReconnectBaseDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(c.Session.ReconnectMaxDelayMs) * time.Millisecond,
		MaxAttempts:    c.Session.ReconnectMaxAttempts,
	}
}

// PipelineConfig builds the audio pipeline settings.
func (c *Config) PipelineConfig() audio.PipelineConfig {
	return audio.PipelineConfig{
		SampleRate: c.Audio.SampleRate,
		BaseChunk:  time.Duration(c.Audio.AudioChunkMs) * time.Millisecond,
		Detector: audio.DetectorConfig{
			Threshold:  c.Audio.VADThreshold,
			MinBargeIn: time.Duration(c.Audio.BargeInMinMs) * time.Millisecond,
			Cooldown:   time.Duration(c.Audio.BargeInCooldownMs) * time.Millisecond,
			Hangover:   time.Duration(c.Audio.VADHangoverMs) * time.Millisecond,
		},
		QualityFloor:   c.Audio.QualityFloor,
		QualityWindows: c.Audio.QualityWindows,
	}
}

// Policy builds the privacy gate.
func (c *Config) Policy() privacy.Static {
	return privacy.Static{
		Audio:     c.Privacy.AllowAudioUpload,
		Landmarks: c.Privacy.AllowLandmarkUpload,
		Offline:   c.Privacy.OfflineMode,
	}
}
