// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/nishisan-dev/fortress-rollback/config"
	"github.com/nishisan-dev/fortress-rollback/internal/clock"
	"github.com/nishisan-dev/fortress-rollback/internal/logging"
	"github.com/nishisan-dev/fortress-rollback/internal/protocol"
	"github.com/nishisan-dev/fortress-rollback/internal/rollback"
	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// SessionOption ajusta dependências injetáveis na construção de sessões.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	logger          *slog.Logger
	observer        telemetry.Observer
	clockSource     clock.Clock
	monitorInterval time.Duration
}

// WithLogger injeta o logger slog da sessão. Sem ele (e sem logging na
// configuração) a sessão não loga nada.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = logger }
}

// WithTelemetryObserver injeta o observer de violações.
func WithTelemetryObserver(observer TelemetryObserver) SessionOption {
	return func(o *sessionOptions) { o.observer = observer }
}

// WithClock injeta a fonte de tempo monotônico dos timers de protocolo.
// Usado em testes e em hosts com relógio próprio de engine.
func WithClock(source MonotonicClock) SessionOption {
	return func(o *sessionOptions) { o.clockSource = source }
}

// WithHostMonitor liga a amostragem cooperativa de métricas do host (CPU,
// memória, load) com a cadência fornecida, exposta em Diagnostics(). A
// amostra corre dentro de PollRemoteClients, na thread da sessão.
func WithHostMonitor(interval time.Duration) SessionOption {
	return func(o *sessionOptions) { o.monitorInterval = interval }
}

func resolveOptions(opts []SessionOption) sessionOptions {
	o := sessionOptions{
		clockSource: clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sessionLogger resolve o logger da sessão: opção explícita > logging da
// configuração > silêncio. Aplica o escopo de componente e enriquece cada
// registro com o frame corrente da simulação.
func sessionLogger(o sessionOptions, cfg *config.SessionConfig, component string, src logging.FrameSource) *slog.Logger {
	base := o.logger
	if base == nil {
		if cfg.Logging.Level != "" || cfg.Logging.Format != "" {
			base = logging.FromConfig(cfg.Logging.Level, cfg.Logging.Format)
		} else {
			base = logging.Nop()
		}
	}
	return logging.WithFrame(base.With("component", component), src)
}

// sessionSeed gera a semente do gerador de nonces da sessão. A única
// aleatoriedade da biblioteca: nunca entra no caminho de estado do jogo.
func sessionSeed() int64 {
	var buf [8]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		// Fallback determinístico apenas para ambientes sem entropia; o
		// handshake ainda funciona, perdendo só a proteção anti-replay.
		return 0x66726F7274726573
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// protocolConfig converte a configuração de sessão nos timers do
// protocolo.
func protocolConfig(cfg *config.SessionConfig) protocol.Config {
	return protocol.Config{
		NumSyncPackets:        cfg.Sync.SyncPackets,
		SyncRetryInterval:     cfg.Sync.SyncRetryInterval.Std(),
		RunningRetryInterval:  cfg.Sync.RunningRetryInterval.Std(),
		KeepAliveInterval:     cfg.Sync.KeepAliveInterval.Std(),
		QualityReportInterval: cfg.Sync.QualityReportInterval.Std(),
		DisconnectTimeout:     cfg.Sync.DisconnectTimeout.Std(),
		DisconnectNotifyStart: cfg.Sync.DisconnectNotifyStart.Std(),
		ShutdownTimer:         cfg.Sync.ShutdownTimer.Std(),
		Fps:                   cfg.Fps,
		DesyncInterval:        cfg.DesyncInterval,
		TimeSyncWindow:        cfg.TimeSync.WindowSize,
	}.Normalize()
}

func saveModeOf(cfg *config.SessionConfig) types.SaveMode {
	if strings.EqualFold(cfg.SaveMode, "sparse") {
		return types.SaveSparse
	}
	return types.SaveEveryFrame
}

func compressionOf(cfg *config.SessionConfig) rollback.SnapshotCompression {
	if strings.EqualFold(cfg.SnapshotCompression, "zstd") {
		return rollback.SnapshotZstd
	}
	return rollback.SnapshotRaw
}

func newRng() *rand.Rand {
	return rand.New(rand.NewSource(sessionSeed()))
}
