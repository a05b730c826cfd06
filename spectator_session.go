// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/nishisan-dev/fortress-rollback/config"
	"github.com/nishisan-dev/fortress-rollback/internal/clock"
	"github.com/nishisan-dev/fortress-rollback/internal/logging"
	"github.com/nishisan-dev/fortress-rollback/internal/protocol"
	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// spectatorSlot acumula os inputs confirmados de um frame enquanto chegam
// do host.
type spectatorSlot struct {
	frame  types.Frame
	inputs [][]byte
	filled int
}

// SpectatorSession observa uma partida através do stream de inputs
// confirmados do host. Só emite requests AdvanceFrame: nunca salva, nunca
// carrega, nunca faz rollback.
type SpectatorSession struct {
	numPlayers   int
	inputSize    int
	bufferSize   int
	catchupSpeed int

	hostAddr string
	host     *protocol.Peer

	socket   NonBlockingSocket
	clk      *clock.Guard
	rng      *rand.Rand
	reporter *telemetry.Reporter
	logger   *slog.Logger

	state  sessionState
	events []SessionEvent

	slots        []spectatorSlot
	currentFrame types.Frame

	behindNotified bool
}

// NewSpectatorSession cria uma sessão de espectador apontando para o host.
func NewSpectatorSession(cfg *config.SessionConfig, socket NonBlockingSocket, hostAddr string, opts ...SessionOption) (*SpectatorSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, InvalidRequestError{Info: err.Error()}
	}
	if hostAddr == "" {
		return nil, InvalidRequestError{Info: "spectator session needs a host address"}
	}
	o := resolveOptions(opts)
	s := &SpectatorSession{}
	// Cada registro carrega o próximo frame a entregar; antes de Running o
	// atributo é omitido.
	logger := sessionLogger(o, cfg, "spectator_session", logging.FrameFunc(func() types.Frame {
		if s.state != sessionRunning {
			return types.NullFrame
		}
		return s.currentFrame
	}))
	reporter := telemetry.NewReporter(o.observer, logger)
	clk := clock.NewGuard(o.clockSource, reporter)

	allHandles := make([]types.PlayerHandle, cfg.NumPlayers)
	for i := range allHandles {
		allHandles[i] = i
	}
	rng := newRng()
	host := protocol.NewPeer(hostAddr, allHandles, cfg.InputSize, cfg.NumPlayers,
		protocolConfig(cfg), clk, rng, logger, reporter)

	s.numPlayers = cfg.NumPlayers
	s.inputSize = cfg.InputSize
	s.bufferSize = cfg.Spectator.BufferSize
	s.catchupSpeed = cfg.Spectator.CatchupSpeed
	s.hostAddr = hostAddr
	s.host = host
	s.socket = socket
	s.clk = clk
	s.rng = rng
	s.reporter = reporter
	s.logger = logger
	s.state = sessionSynchronizing
	s.slots = make([]spectatorSlot, cfg.Spectator.BufferSize)
	for i := range s.slots {
		s.slots[i].frame = types.NullFrame
	}
	host.Synchronize()
	return s, nil
}

// PollRemoteClients drena o socket, alimenta o protocolo do host e coleta
// os inputs confirmados no buffer local.
func (s *SpectatorSession) PollRemoteClients() {
	if s.state == sessionClosed {
		return
	}

	for _, d := range s.socket.Receive() {
		if d.Addr != s.hostAddr {
			s.reporter.Report(telemetry.Violation{
				Kind:     telemetry.KindUnknownPeer,
				Severity: telemetry.SeverityWarning,
				Detail:   fmt.Sprintf("datagram from unregistered address %s", d.Addr),
				Frame:    types.NullFrame,
			})
			continue
		}
		msg, err := protocol.Decode(d.Data)
		if err != nil {
			s.reporter.Report(telemetry.Violation{
				Kind:     telemetry.KindMalformedDatagram,
				Severity: telemetry.SeverityWarning,
				Detail:   fmt.Sprintf("dropping datagram from host: %v", err),
				Frame:    types.NullFrame,
			})
			continue
		}
		s.host.HandleMessage(msg)
	}

	s.host.Poll(s.currentFrame, nil)

	for _, remote := range s.host.DrainInputs() {
		s.storeInput(remote)
	}

	s.collectHostEvents()

	if s.state == sessionSynchronizing && s.host.CurrentState() == protocol.StateRunning {
		s.state = sessionRunning
		s.logger.Info("synchronized with host")
	}

	for _, buf := range s.host.DrainOutbox() {
		s.socket.SendTo(s.hostAddr, buf)
	}
}

func (s *SpectatorSession) storeInput(remote protocol.RemoteInput) {
	frame := remote.Input.Frame
	if frame < s.currentFrame {
		return
	}
	if frame >= s.currentFrame+types.Frame(s.bufferSize) {
		// Buffer cheio: o host está longe demais à frente; o frame fica
		// para uma retransmissão futura.
		s.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindFrameGapTooLarge,
			Severity: telemetry.SeverityWarning,
			Detail:   fmt.Sprintf("spectator buffer overflow at frame %d (current %d)", frame, s.currentFrame),
			Frame:    frame,
		})
		return
	}
	slot := &s.slots[int(frame)%s.bufferSize]
	if slot.frame != frame {
		slot.frame = frame
		slot.inputs = make([][]byte, s.numPlayers)
		slot.filled = 0
	}
	if remote.Handle >= 0 && remote.Handle < s.numPlayers && slot.inputs[remote.Handle] == nil {
		slot.inputs[remote.Handle] = remote.Input.Bits
		slot.filled++
	}
}

func (s *SpectatorSession) collectHostEvents() {
	for _, ev := range s.host.DrainEvents() {
		switch ev.Kind {
		case protocol.EventSynchronizing:
			s.events = append(s.events, SessionEvent{
				Kind: EventSynchronizing, Addr: s.hostAddr,
				Count: ev.Count, Total: ev.Total,
			})
		case protocol.EventSynchronized:
			s.events = append(s.events, SessionEvent{Kind: EventSynchronized, Addr: s.hostAddr})
		case protocol.EventNetworkInterrupted:
			s.events = append(s.events, SessionEvent{
				Kind: EventNetworkInterrupted, Addr: s.hostAddr,
				DisconnectTimeout: ev.DisconnectTimeout,
			})
		case protocol.EventNetworkResumed:
			s.events = append(s.events, SessionEvent{Kind: EventNetworkResumed, Addr: s.hostAddr})
		case protocol.EventDisconnected:
			s.events = append(s.events, SessionEvent{Kind: EventDisconnected, Addr: s.hostAddr})
		}
	}
}

// AdvanceFrame devolve os próximos passos de simulação disponíveis. Sem
// frames bufferizados retorna vazio (o espectador espera). Quando o host
// está longe à frente, devolve até catchup_speed passos por chamada e
// emite uma recomendação de catch-up.
func (s *SpectatorSession) AdvanceFrame() ([]Request, error) {
	switch s.state {
	case sessionRunning:
	case sessionClosed:
		return nil, InvalidRequestError{Info: "session closed"}
	default:
		return nil, ErrNotSynchronized
	}

	steps := 1
	behind := s.host.LastReceivedFrame() - s.currentFrame
	if behind > types.Frame(s.bufferSize/2) {
		steps = s.catchupSpeed
		if !s.behindNotified {
			s.behindNotified = true
			// Recomendação negativa: o espectador está atrás e deve
			// acelerar, não segurar.
			s.events = append(s.events, SessionEvent{
				Kind:            EventWaitRecommendation,
				RecommendedWait: -int(behind),
			})
		}
	} else if behind <= types.Frame(s.bufferSize/4) {
		s.behindNotified = false
	}

	var requests []Request
	for i := 0; i < steps; i++ {
		slot := &s.slots[int(s.currentFrame)%s.bufferSize]
		if slot.frame != s.currentFrame || slot.filled < s.expectedFills() {
			break
		}
		inputs := make([]SynchronizedInput, s.numPlayers)
		status := s.host.PeerConnectStatus()
		for p := 0; p < s.numPlayers; p++ {
			if slot.inputs[p] == nil {
				inputs[p] = SynchronizedInput{Bits: make([]byte, s.inputSize), Status: InputDisconnected}
				continue
			}
			st := InputConfirmed
			if p < len(status) && status[p].Disconnected && slot.frame > status[p].LastFrame {
				st = InputDisconnected
			}
			inputs[p] = SynchronizedInput{Bits: slot.inputs[p], Status: st}
		}
		requests = append(requests, Request{Kind: RequestAdvanceFrame, Inputs: inputs})
		s.currentFrame++
	}
	return requests, nil
}

// expectedFills retorna quantos jogadores precisam ter input no slot antes
// de liberar o frame. O host envia todos os jogadores juntos.
func (s *SpectatorSession) expectedFills() int {
	return s.numPlayers
}

// Events drena os eventos acumulados.
func (s *SpectatorSession) Events() []SessionEvent {
	out := s.events
	s.events = nil
	return out
}

// CurrentFrame retorna o próximo frame a ser entregue ao host.
func (s *SpectatorSession) CurrentFrame() Frame {
	return s.currentFrame
}

// FramesBehindHost retorna o atraso corrente em relação ao host.
func (s *SpectatorSession) FramesBehindHost() int {
	behind := s.host.LastReceivedFrame() - s.currentFrame
	if behind < 0 {
		return 0
	}
	return int(behind)
}

// Close encerra a sessão e libera o socket.
func (s *SpectatorSession) Close() error {
	if s.state == sessionClosed {
		return nil
	}
	s.host.Shutdown()
	s.state = sessionClosed
	return s.socket.Close()
}
