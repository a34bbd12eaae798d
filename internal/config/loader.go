package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Default returns a Config with every ambient setting at its default and the
// live defaults of the coaching service filled in. Lifecycle and audio knobs
// are left zero so the owning packages apply their own defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8321",
			LogLevel:   LogInfo,
		},
		Live: LiveConfig{
			Model:              "models/gemini-2.0-flash-live-001",
			Voice:              "Aoede",
			ResponseModalities: []Modality{ModalityAudio},
		},
		Privacy: PrivacyConfig{
			AllowAudioUpload:    true,
			AllowLandmarkUpload: true,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown YAML keys are rejected so typos fail loudly
// instead of silently keeping a default. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Live.Model == "" {
		errs = append(errs, errors.New("live.model is required"))
	}
	for i, m := range cfg.Live.ResponseModalities {
		if !m.IsValid() {
			errs = append(errs, fmt.Errorf("live.response_modalities[%d] %q is invalid; valid values: TEXT, AUDIO", i, m))
		}
	}
	if cfg.Live.Temperature < 0 || cfg.Live.Temperature > 2 {
		errs = append(errs, fmt.Errorf("live.temperature %.2f is out of range [0, 2]", cfg.Live.Temperature))
	}
	if cfg.Live.MaxOutputTokens < 0 {
		errs = append(errs, fmt.Errorf("live.max_output_tokens %d is negative", cfg.Live.MaxOutputTokens))
	}

	for name, v := range map[string]int64{
		"session.reconnect_base_delay_ms":  cfg.Session.ReconnectBaseDelayMs,
		"session.reconnect_max_delay_ms":   cfg.Session.ReconnectMaxDelayMs,
		"session.connect_timeout_ms":       cfg.Session.ConnectTimeoutMs,
		"session.health_probe_interval_ms": cfg.Session.HealthProbeIntervalMs,
		"session.idle_timeout_ms":          cfg.Session.IdleTimeoutMs,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d is negative", name, v))
		}
	}
	if cfg.Session.ReconnectMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("session.reconnect_max_attempts %d is negative", cfg.Session.ReconnectMaxAttempts))
	}
	if base, max := cfg.Session.ReconnectBaseDelayMs, cfg.Session.ReconnectMaxDelayMs; base > 0 && max > 0 && base > max {
		errs = append(errs, fmt.Errorf("session.reconnect_base_delay_ms %d exceeds reconnect_max_delay_ms %d", base, max))
	}

	if t := cfg.Audio.VADThreshold; t < 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("audio.vad_threshold %.3f is out of range [0, 1)", t))
	}
	if q := cfg.Audio.QualityFloor; q < 0 || q > 1 {
		errs = append(errs, fmt.Errorf("audio.quality_floor %.2f is out of range [0, 1]", q))
	}
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is negative", cfg.Audio.SampleRate))
	}

	return errors.Join(errs...)
}
