package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":8321" {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, ":8321")
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, LogInfo)
	}
	if cfg.Live.Model == "" {
		t.Error("default live.model is empty")
	}
	if !cfg.Privacy.AllowAudioUpload || !cfg.Privacy.AllowLandmarkUpload {
		t.Error("default privacy policy should allow uploads")
	}
}

func TestLoadFromReaderParsesFullConfig(t *testing.T) {
	t.Parallel()

	const doc = `
server:
  listen_addr: ":9000"
  log_level: debug
live:
  model: models/gemini-2.0-flash-live-001
  voice: Puck
  response_modalities: [TEXT, AUDIO]
  temperature: 0.7
  system_instruction: "You are a strength coach."
session:
  reconnect_max_attempts: 3
  reconnect_base_delay_ms: 500
  reconnect_max_delay_ms: 10000
  connect_timeout_ms: 15000
  send_rate_per_sec: 20
audio:
  sample_rate: 16000
  vad_threshold: 0.12
  barge_in_min_ms: 400
privacy:
  allow_audio_upload: false
  offline_mode: true
transcripts:
  postgres_dsn: "postgres://kinesia@localhost/kinesia"
`
	cfg, err := LoadFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want :9000", cfg.Server.ListenAddr)
	}
	if cfg.Live.Voice != "Puck" {
		t.Errorf("Voice = %q, want Puck", cfg.Live.Voice)
	}
	if got := cfg.ConnectionConfig(); got.BaseDelay != 500*time.Millisecond || got.MaxAttempts != 3 {
		t.Errorf("ConnectionConfig() = %+v, want BaseDelay 500ms and MaxAttempts 3", got)
	}
	if got := cfg.PipelineConfig(); got.Detector.Threshold != 0.12 || got.Detector.MinBargeIn != 400*time.Millisecond {
		t.Errorf("PipelineConfig() detector = %+v, want threshold 0.12 and min barge-in 400ms", got.Detector)
	}
	pol := cfg.Policy()
	if pol.Audio || !pol.Landmarks || !pol.Offline {
		t.Errorf("Policy() = %+v, want audio banned, landmarks allowed, offline", pol)
	}
	setup := cfg.SetupEnvelope()
	if len(setup.Generation.ResponseModalities) != 2 || setup.Generation.ResponseModalities[0] != "TEXT" {
		t.Errorf("SetupEnvelope() modalities = %v, want [TEXT AUDIO]", setup.Generation.ResponseModalities)
	}
}

func TestLoadFromReaderRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("server:\n  listne_addr: \":9000\"\n"))
	if err == nil {
		t.Fatal("LoadFromReader() accepted a misspelled key")
	}
	if !strings.Contains(err.Error(), "decode yaml") {
		t.Errorf("error = %v, want a decode error", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "server.log_level",
		},
		{
			name:    "missing model",
			mutate:  func(c *Config) { c.Live.Model = "" },
			wantErr: "live.model is required",
		},
		{
			name:    "bad modality",
			mutate:  func(c *Config) { c.Live.ResponseModalities = []Modality{"VIDEO"} },
			wantErr: "response_modalities[0]",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Live.Temperature = 3.5 },
			wantErr: "live.temperature",
		},
		{
			name:    "negative reconnect delay",
			mutate:  func(c *Config) { c.Session.ReconnectBaseDelayMs = -1 },
			wantErr: "reconnect_base_delay_ms",
		},
		{
			name: "base delay above max delay",
			mutate: func(c *Config) {
				c.Session.ReconnectBaseDelayMs = 5000
				c.Session.ReconnectMaxDelayMs = 1000
			},
			wantErr: "exceeds reconnect_max_delay_ms",
		},
		{
			name:    "vad threshold at one",
			mutate:  func(c *Config) { c.Audio.VADThreshold = 1 },
			wantErr: "audio.vad_threshold",
		},
		{
			name:    "quality floor above one",
			mutate:  func(c *Config) { c.Audio.QualityFloor = 1.5 },
			wantErr: "audio.quality_floor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJoinsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Live.Model = ""
	cfg.Live.Temperature = -1
	cfg.Audio.QualityFloor = 2

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want three failures")
	}
	for _, want := range []string{"live.model", "live.temperature", "audio.quality_floor"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %v is missing %q", err, want)
		}
	}
}
