// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package fortress implementa netcode de rollback peer-to-peer para jogos
// determinísticos em tempo real. Cada peer simula o jogo à frente usando
// inputs remotos preditos e volta atrás quando o input autoritativo chega
// divergente, reavançando pelos frames intermediários até todos os peers
// convergirem para o mesmo estado.
//
// O host dirige a sessão num loop cooperativo de uma thread só:
//
//	session.PollRemoteClients()
//	session.AddLocalInput(handle, bits)
//	requests, err := session.AdvanceFrame()
//	// executa os requests na ordem: LoadGameState, SaveGameState,
//	// AdvanceFrame
//
// O jogo do host precisa ser uma função determinística pura de estado +
// inputs, com serialização estável entre plataformas.
package fortress

import (
	"github.com/nishisan-dev/fortress-rollback/internal/clock"
	"github.com/nishisan-dev/fortress-rollback/internal/hash"
	"github.com/nishisan-dev/fortress-rollback/internal/rollback"
	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// Frame identifica um instante discreto da simulação.
type Frame = types.Frame

// NullFrame marca um frame não inicializado.
const NullFrame = types.NullFrame

// PlayerHandle identifica um participante da sessão.
type PlayerHandle = types.PlayerHandle

// PlayerInput associa um frame aos bytes de input de um jogador.
type PlayerInput = types.PlayerInput

// InputStatus indica a procedência de um input entregue à simulação.
type InputStatus = types.InputStatus

// Procedências possíveis de input.
const (
	InputConfirmed    = types.InputConfirmed
	InputPredicted    = types.InputPredicted
	InputDisconnected = types.InputDisconnected
)

// ConnectionStatus descreve o progresso autoritativo de um jogador.
type ConnectionStatus = types.ConnectionStatus

// SaveMode controla a política de retenção de snapshots.
type SaveMode = types.SaveMode

// Políticas de snapshot.
const (
	SaveEveryFrame = types.SaveEveryFrame
	SaveSparse     = types.SaveSparse
)

// Checksum é o hash determinístico (FNV-1a 128 bits) usado na detecção de
// desync.
type Checksum = hash.Checksum

// ChecksumOf calcula o checksum determinístico dos bytes fornecidos.
func ChecksumOf(data []byte) Checksum {
	return hash.Sum128(data)
}

// StateCell é o slot de snapshot compartilhado com o host. O host pode
// depositar o estado a partir de uma thread de serialização em background;
// o acesso é exclusivo para escrita e seguro para múltiplos leitores.
type StateCell = rollback.Cell

// SynchronizedInput é uma entrada do request AdvanceFrame.
type SynchronizedInput = rollback.SynchronizedInput

// Violation descreve uma anomalia reportada pelo pipeline de telemetria.
type Violation = telemetry.Violation

// ViolationKind identifica a categoria de uma violação.
type ViolationKind = telemetry.Kind

// Severity classifica a gravidade de uma violação.
type Severity = telemetry.Severity

// Severidades de violação.
const (
	SeverityWarning  = telemetry.SeverityWarning
	SeverityError    = telemetry.SeverityError
	SeverityCritical = telemetry.SeverityCritical
)

// TelemetryObserver é a porta de observação de violações, consumida na
// construção da sessão.
type TelemetryObserver = telemetry.Observer

// TelemetryRing é um observer pronto que retém as últimas N violações.
type TelemetryRing = telemetry.Ring

// NewTelemetryRing cria um ring de violações com a capacidade fornecida.
func NewTelemetryRing(capacity int) *TelemetryRing {
	return telemetry.NewRing(capacity)
}

// MonotonicClock é a fonte de tempo injetável dos timers de protocolo.
type MonotonicClock = clock.Clock
