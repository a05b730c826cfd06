// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package telemetry implementa o pipeline de violações do engine: anomalias
// de protocolo e quebras de invariante são reportadas a um observer em vez
// de abortar a operação corrente.
package telemetry

import (
	"log/slog"

	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// Severity classifica a gravidade de uma violação.
type Severity uint8

const (
	// SeverityWarning indica anomalia recuperável (mensagem descartada,
	// clock ajustado).
	SeverityWarning Severity = iota
	// SeverityError indica comportamento de peer fora do contrato do
	// protocolo.
	SeverityError
	// SeverityCritical indica quebra de invariante interna. Nunca deve
	// ocorrer numa implementação correta, mas ainda assim não derruba o
	// processo.
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "warning"
	}
}

// Kind identifica a categoria da violação.
type Kind string

const (
	KindDuplicateInputMismatch Kind = "duplicate_input_mismatch"
	KindFrameGapTooLarge       Kind = "frame_gap_too_large"
	KindClockRegression        Kind = "clock_regression"
	KindStaleRollbackTarget    Kind = "stale_rollback_target"
	KindChecksumMismatch       Kind = "checksum_mismatch"
	KindInternalInvariant      Kind = "internal_invariant"
	KindOversizeDatagram       Kind = "oversize_datagram"
	KindUnknownPeer            Kind = "unknown_peer"
	KindMalformedDatagram      Kind = "malformed_datagram"
	KindSendQueueOverflow      Kind = "send_queue_overflow"
	KindMissingInput           Kind = "missing_input"
)

// Violation descreve uma anomalia observada pelo engine.
type Violation struct {
	Kind     Kind
	Severity Severity
	Detail   string
	// Frame associado à violação, ou NullFrame quando não se aplica.
	Frame types.Frame
}

// Observer é a porta de saída do pipeline de violações. É o único ponto de
// dispatch dinâmico da biblioteca; implementações não podem bloquear.
type Observer interface {
	Notify(v Violation)
}

// Reporter encaminha violações para um observer opcional e espelha cada
// ocorrência no logger no nível correspondente à severidade.
type Reporter struct {
	observer Observer
	logger   *slog.Logger
}

// NewReporter cria um reporter. observer pode ser nil (apenas logging).
func NewReporter(observer Observer, logger *slog.Logger) *Reporter {
	return &Reporter{observer: observer, logger: logger}
}

// Report emite a violação para o observer e para o logger.
func (r *Reporter) Report(v Violation) {
	if r == nil {
		return
	}
	if r.logger != nil {
		args := []any{"kind", string(v.Kind), "detail", v.Detail}
		if v.Frame != types.NullFrame {
			args = append(args, "frame", v.Frame)
		}
		switch v.Severity {
		case SeverityCritical:
			r.logger.Error("invariant violation", args...)
		case SeverityError:
			r.logger.Error("protocol violation", args...)
		default:
			r.logger.Warn("protocol anomaly", args...)
		}
	}
	if r.observer != nil {
		r.observer.Notify(v)
	}
}
