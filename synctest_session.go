// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	"fmt"
	"log/slog"

	"github.com/nishisan-dev/fortress-rollback/config"
	"github.com/nishisan-dev/fortress-rollback/internal/hash"
	"github.com/nishisan-dev/fortress-rollback/internal/logging"
	"github.com/nishisan-dev/fortress-rollback/internal/rollback"
	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// SyncTestSession é uma sessão local que força um rollback e replay de
// check_distance frames a cada avanço, comparando os checksums
// depositados em cada passagem. Qualquer divergência prova que o estado do
// jogo (ou o checksum do host) não é determinístico.
type SyncTestSession struct {
	numPlayers    int
	inputSize     int
	checkDistance int

	layer    *rollback.Layer
	reporter *telemetry.Reporter
	logger   *slog.Logger

	staged map[types.PlayerHandle]bool

	// expected guarda o último checksum visto por frame; pendingVerify
	// lista os frames salvos na chamada anterior, ainda não conferidos.
	expected      map[types.Frame]hash.Checksum
	pendingVerify []types.Frame
}

// NewSyncTestSession cria a sessão de teste de determinismo. Exige
// 0 <= check_distance < max_prediction (check_distance 0 desliga o
// replay, mantendo só o ciclo save/advance).
func NewSyncTestSession(cfg *config.SessionConfig, checkDistance int, opts ...SessionOption) (*SyncTestSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, InvalidRequestError{Info: err.Error()}
	}
	if checkDistance < 0 || checkDistance >= cfg.MaxPredictionValue() {
		return nil, InvalidRequestError{
			Info: fmt.Sprintf("check_distance must be in [0, max_prediction), got %d (max_prediction %d)",
				checkDistance, cfg.MaxPredictionValue()),
		}
	}
	o := resolveOptions(opts)
	var frameSrc *rollback.Layer
	logger := sessionLogger(o, cfg, "synctest_session", logging.FrameFunc(func() types.Frame {
		if frameSrc == nil {
			return types.NullFrame
		}
		return frameSrc.CurrentFrame()
	}))
	reporter := telemetry.NewReporter(o.observer, logger)

	layer, err := rollback.NewLayer(
		cfg.NumPlayers, cfg.InputSize, cfg.MaxPredictionValue(), cfg.InputQueue.Length,
		types.SaveEveryFrame, compressionOf(cfg), reporter,
	)
	if err != nil {
		return nil, InvalidRequestError{Info: err.Error()}
	}
	frameSrc = layer

	return &SyncTestSession{
		numPlayers:    cfg.NumPlayers,
		inputSize:     cfg.InputSize,
		checkDistance: checkDistance,
		layer:         layer,
		reporter:      reporter,
		logger:        logger,
		staged:        make(map[types.PlayerHandle]bool),
		expected:      make(map[types.Frame]hash.Checksum),
	}, nil
}

// AddLocalInput agenda o input do jogador para o frame corrente. Todos os
// jogadores de uma sessão de sync-test são locais.
func (s *SyncTestSession) AddLocalInput(handle PlayerHandle, bits []byte) error {
	if handle < 0 || handle >= s.numPlayers {
		return InvalidPlayerHandleError{Handle: handle, Max: s.numPlayers - 1}
	}
	if len(bits) != s.inputSize {
		return InvalidRequestError{Info: fmt.Sprintf("input must have %d bytes, got %d", s.inputSize, len(bits))}
	}
	if _, err := s.layer.AddLocalInput(handle, append([]byte(nil), bits...)); err != nil {
		return InvalidRequestError{Info: err.Error()}
	}
	s.staged[handle] = true
	return nil
}

// AdvanceFrame confere os checksums depositados na chamada anterior e
// então emite o passo normal seguido do rollback forçado. Retorna
// DesyncError na primeira divergência.
func (s *SyncTestSession) AdvanceFrame() ([]Request, error) {
	if err := s.verifyPending(); err != nil {
		return nil, err
	}
	for h := 0; h < s.numPlayers; h++ {
		if !s.staged[h] {
			return nil, InvalidRequestError{Info: fmt.Sprintf("missing local input for player %d", h)}
		}
	}

	// Inputs locais são autoritativos imediatamente.
	s.layer.SetLastConfirmedFrame(s.layer.CurrentFrame())
	status := make([]types.ConnectionStatus, s.numPlayers)
	for i := range status {
		status[i] = types.ConnectionStatus{LastFrame: s.layer.CurrentFrame()}
	}

	// O rollback forçado vem primeiro (Load sempre abre a lista): recarrega
	// check_distance frames atrás e re-simula até o presente; depois o
	// passo normal do frame pendente. Cada save re-depositado é conferido
	// contra a passagem anterior na próxima chamada.
	var requests []Request
	if s.checkDistance > 0 {
		target := s.layer.CurrentFrame() - types.Frame(s.checkDistance)
		if target >= 0 {
			prior := s.layer.CurrentFrame()
			loadCell, err := s.layer.LoadFrame(target)
			if err != nil {
				s.reporter.Report(telemetry.Violation{
					Kind:     telemetry.KindInternalInvariant,
					Severity: telemetry.SeverityCritical,
					Detail:   fmt.Sprintf("sync-test rollback to %d failed: %v", target, err),
					Frame:    target,
				})
			} else {
				requests = append(requests, Request{Kind: RequestLoadGameState, Frame: target, Cell: loadCell})
				for f := target; f < prior; f++ {
					saveCell, sf := s.layer.SaveCurrentState()
					requests = append(requests, Request{Kind: RequestSaveGameState, Frame: sf, Cell: saveCell})
					s.pendingVerify = append(s.pendingVerify, sf)
					requests = append(requests, Request{
						Kind:   RequestAdvanceFrame,
						Inputs: s.layer.SynchronizedInputs(status),
					})
					s.layer.AdvanceFrame()
				}
			}
		}
	}

	cell, frame := s.layer.SaveCurrentState()
	requests = append(requests, Request{Kind: RequestSaveGameState, Frame: frame, Cell: cell})
	s.pendingVerify = append(s.pendingVerify, frame)
	requests = append(requests, Request{
		Kind:   RequestAdvanceFrame,
		Inputs: s.layer.SynchronizedInputs(status),
	})
	s.layer.AdvanceFrame()

	for h := range s.staged {
		delete(s.staged, h)
	}
	return requests, nil
}

// verifyPending compara os checksums depositados desde a última chamada
// com o histórico e atualiza o esperado.
func (s *SyncTestSession) verifyPending() error {
	for _, f := range s.pendingVerify {
		cell := s.layer.SavedCell(f)
		if cell == nil {
			continue
		}
		cs, ok := cell.Checksum()
		if !ok || cs.IsZero() {
			// Host não depositou checksum: sem isso o sync-test não
			// consegue provar nada.
			s.reporter.Report(telemetry.Violation{
				Kind:     telemetry.KindChecksumMismatch,
				Severity: telemetry.SeverityWarning,
				Detail:   fmt.Sprintf("sync-test frame %d saved without checksum", f),
				Frame:    f,
			})
			continue
		}
		if prev, seen := s.expected[f]; seen && prev != cs {
			return DesyncError{Frame: f, FirstChecksum: prev, SecondChecksum: cs}
		}
		s.expected[f] = cs
	}
	s.pendingVerify = s.pendingVerify[:0]

	// Apara o histórico fora da janela de replay.
	cutoff := s.layer.CurrentFrame() - types.Frame(s.checkDistance) - 2
	for f := range s.expected {
		if f < cutoff {
			delete(s.expected, f)
		}
	}
	return nil
}

// CurrentFrame retorna o frame corrente da simulação.
func (s *SyncTestSession) CurrentFrame() Frame {
	return s.layer.CurrentFrame()
}
