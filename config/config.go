// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config define a configuração de sessão do Fortress Rollback e o
// carregamento dela a partir de YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Presets de tamanho da fila de inputs.
const (
	QueuePresetMinimal     = 32
	QueuePresetStandard    = 128
	QueuePresetHighLatency = 256
)

// SessionConfig representa a configuração completa de uma sessão.
type SessionConfig struct {
	// NumPlayers é o número de jogadores ativos (>= 1).
	NumPlayers int `yaml:"num_players"`
	// InputSize é o tamanho fixo, em bytes, do input de cada jogador.
	InputSize int `yaml:"input_size"`
	// MaxPrediction é a janela de predição em frames. 0 degrada para
	// lockstep estrito; nil usa o default (8).
	MaxPrediction *int `yaml:"max_prediction"`
	// Fps é a cadência nominal da simulação (> 0, default 60).
	Fps int `yaml:"fps"`
	// SaveMode: "every_frame" (default) ou "sparse".
	SaveMode string `yaml:"save_mode"`
	// SnapshotCompression: "none" (default) ou "zstd".
	SnapshotCompression string `yaml:"snapshot_compression"`
	// DesyncInterval em frames; 0 desliga a detecção de desync.
	DesyncInterval int `yaml:"desync_interval"`

	InputQueue InputQueueConfig `yaml:"input_queue"`
	Sync       SyncConfig       `yaml:"sync"`
	Spectator  SpectatorConfig  `yaml:"spectator"`
	TimeSync   TimeSyncConfig   `yaml:"time_sync"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputQueueConfig configura o histórico de inputs por jogador.
type InputQueueConfig struct {
	// Preset: "minimal" (32), "standard" (128) ou "high_latency" (256).
	// Ignorado quando Length é explícito.
	Preset string `yaml:"preset"`
	// Length é a capacidade da fila (>= 2).
	Length int `yaml:"length"`
}

// Duration aceita valores YAML como "200ms", "2s" ou nanossegundos
// inteiros. O yaml.v3 não decodifica time.Duration a partir de strings por
// conta própria.
type Duration time.Duration

// UnmarshalYAML implementa yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asInt int64
	if err := value.Decode(&asInt); err == nil {
		*d = Duration(asInt)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converte para time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Milliseconds devolve o valor em milissegundos.
func (d Duration) Milliseconds() int64 { return time.Duration(d).Milliseconds() }

// Seconds devolve o valor em segundos.
func (d Duration) Seconds() float64 { return time.Duration(d).Seconds() }

// SyncConfig configura o handshake e os timers do protocolo.
type SyncConfig struct {
	SyncPackets           int      `yaml:"sync_packets"`
	SyncRetryInterval     Duration `yaml:"sync_retry_interval"`
	RunningRetryInterval  Duration `yaml:"running_retry_interval"`
	KeepAliveInterval     Duration `yaml:"keepalive_interval"`
	QualityReportInterval Duration `yaml:"quality_report_interval"`
	DisconnectTimeout     Duration `yaml:"disconnect_timeout"`
	DisconnectNotifyStart Duration `yaml:"disconnect_notify_start"`
	ShutdownTimer         Duration `yaml:"shutdown_timer"`
}

// SpectatorConfig configura o buffer e o catch-up de espectadores.
type SpectatorConfig struct {
	BufferSize   int `yaml:"buffer_size"`
	CatchupSpeed int `yaml:"catchup_speed"`
}

// TimeSyncConfig configura a janela de suavização de frame advantage.
type TimeSyncConfig struct {
	WindowSize int `yaml:"window_size"`
}

// LoggingConfig contém configurações de logging da sessão. Vazia, a sessão
// não loga nada (a menos que o host injete um logger próprio).
type LoggingConfig struct {
	// Level: "debug", "info", "warn" ou "error".
	Level string `yaml:"level"`
	// Format: "json" (default) ou "text".
	Format string `yaml:"format"`
}

// DefaultMaxPrediction é a janela de predição default.
const DefaultMaxPrediction = 8

// MaxInputSize limita o input por jogador para que runs completos caibam no
// campo de bits de 16 bits do frame Input.
const MaxInputSize = 64

// Load lê e valida o arquivo YAML de configuração de sessão.
func Load(path string) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session config: %w", err)
	}

	var cfg SessionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing session config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating session config: %w", err)
	}

	return &cfg, nil
}

// Validate checa os ranges e aplica os defaults nos campos omitidos.
func (c *SessionConfig) Validate() error {
	if c.NumPlayers < 1 {
		return fmt.Errorf("num_players must be >= 1, got %d", c.NumPlayers)
	}
	if c.InputSize < 1 {
		return fmt.Errorf("input_size must be >= 1, got %d", c.InputSize)
	}
	if c.InputSize > MaxInputSize {
		return fmt.Errorf("input_size must be <= %d, got %d", MaxInputSize, c.InputSize)
	}
	if c.MaxPrediction == nil {
		def := DefaultMaxPrediction
		c.MaxPrediction = &def
	}
	if *c.MaxPrediction < 0 {
		return fmt.Errorf("max_prediction must be >= 0, got %d", *c.MaxPrediction)
	}
	if c.Fps == 0 {
		c.Fps = 60
	}
	if c.Fps < 1 {
		return fmt.Errorf("fps must be > 0, got %d", c.Fps)
	}

	switch strings.ToLower(c.SaveMode) {
	case "", "every_frame":
		c.SaveMode = "every_frame"
	case "sparse":
		c.SaveMode = "sparse"
	default:
		return fmt.Errorf("save_mode must be \"every_frame\" or \"sparse\", got %q", c.SaveMode)
	}

	switch strings.ToLower(c.SnapshotCompression) {
	case "", "none":
		c.SnapshotCompression = "none"
	case "zstd":
		c.SnapshotCompression = "zstd"
	default:
		return fmt.Errorf("snapshot_compression must be \"none\" or \"zstd\", got %q", c.SnapshotCompression)
	}

	if c.DesyncInterval < 0 {
		return fmt.Errorf("desync_interval must be >= 0, got %d", c.DesyncInterval)
	}

	if c.InputQueue.Length == 0 {
		switch strings.ToLower(c.InputQueue.Preset) {
		case "", "standard":
			c.InputQueue.Length = QueuePresetStandard
		case "minimal":
			c.InputQueue.Length = QueuePresetMinimal
		case "high_latency":
			c.InputQueue.Length = QueuePresetHighLatency
		default:
			return fmt.Errorf("input_queue.preset must be \"minimal\", \"standard\" or \"high_latency\", got %q", c.InputQueue.Preset)
		}
	}
	if c.InputQueue.Length < 2 {
		return fmt.Errorf("input_queue.length must be >= 2, got %d", c.InputQueue.Length)
	}
	if *c.MaxPrediction >= c.InputQueue.Length {
		return fmt.Errorf("max_prediction (%d) must be smaller than input_queue.length (%d)",
			*c.MaxPrediction, c.InputQueue.Length)
	}

	if c.Sync.SyncPackets < 0 {
		return fmt.Errorf("sync.sync_packets must be >= 0, got %d", c.Sync.SyncPackets)
	}

	if c.Spectator.BufferSize == 0 {
		c.Spectator.BufferSize = 128
	}
	if c.Spectator.BufferSize < 2 {
		return fmt.Errorf("spectator.buffer_size must be >= 2, got %d", c.Spectator.BufferSize)
	}
	if c.Spectator.CatchupSpeed == 0 {
		c.Spectator.CatchupSpeed = 2
	}
	if c.Spectator.CatchupSpeed < 1 {
		return fmt.Errorf("spectator.catchup_speed must be >= 1, got %d", c.Spectator.CatchupSpeed)
	}

	if c.TimeSync.WindowSize == 0 {
		c.TimeSync.WindowSize = 40
	}
	if c.TimeSync.WindowSize < 1 {
		return fmt.Errorf("time_sync.window_size must be >= 1, got %d", c.TimeSync.WindowSize)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

// MaxPredictionValue retorna a janela de predição resolvida.
func (c *SessionConfig) MaxPredictionValue() int {
	if c.MaxPrediction == nil {
		return DefaultMaxPrediction
	}
	return *c.MaxPrediction
}
