// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/nishisan-dev/fortress-rollback/config"
	"github.com/nishisan-dev/fortress-rollback/internal/clock"
	"github.com/nishisan-dev/fortress-rollback/internal/diagnostics"
	"github.com/nishisan-dev/fortress-rollback/internal/logging"
	"github.com/nishisan-dev/fortress-rollback/internal/protocol"
	"github.com/nishisan-dev/fortress-rollback/internal/rollback"
	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

type sessionState uint8

const (
	sessionInitializing sessionState = iota
	sessionSynchronizing
	sessionRunning
	sessionClosed
)

// P2PSession orquestra uma partida peer-to-peer: um UdpProtocol por peer
// remoto, a camada de sincronização, o registro de jogadores e a fila de
// eventos. O host dirige tudo de uma única thread.
type P2PSession struct {
	cfg           *config.SessionConfig
	numPlayers    int
	inputSize     int
	maxPrediction int
	fps           int
	saveMode      types.SaveMode

	layer    *rollback.Layer
	registry *protocol.Registry

	peers      map[string]*protocol.Peer
	peerAddrs  []string // ordem determinística de iteração
	spectators []*protocol.Peer

	socket   NonBlockingSocket
	clk      *clock.Guard
	rng      *rand.Rand
	reporter *telemetry.Reporter
	logger   *slog.Logger
	protoCfg protocol.Config
	monitor  *diagnostics.Sampler

	state  sessionState
	events []SessionEvent

	localHandles []types.PlayerHandle
	staged       map[types.PlayerHandle]bool

	lastShippedFrame  types.Frame
	spectatorShipped  []types.Frame
	nextChecksumFrame types.Frame
	lastWaitEmitFrame types.Frame
}

// NewP2PSession cria uma sessão P2P sobre o socket fornecido. A
// configuração é validada (defaults aplicados); jogadores são registrados
// com AddLocalPlayer/AddRemotePlayer/AddSpectator e a sincronização começa
// em Start.
func NewP2PSession(cfg *config.SessionConfig, socket NonBlockingSocket, opts ...SessionOption) (*P2PSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, InvalidRequestError{Info: err.Error()}
	}
	o := resolveOptions(opts)
	// O logger lê o frame da layer, que ainda não existe: a referência é
	// resolvida tarde, via closure.
	var frameSrc *rollback.Layer
	logger := sessionLogger(o, cfg, "p2p_session", logging.FrameFunc(func() types.Frame {
		if frameSrc == nil {
			return types.NullFrame
		}
		return frameSrc.CurrentFrame()
	}))
	reporter := telemetry.NewReporter(o.observer, logger)
	clk := clock.NewGuard(o.clockSource, reporter)

	layer, err := rollback.NewLayer(
		cfg.NumPlayers, cfg.InputSize, cfg.MaxPredictionValue(), cfg.InputQueue.Length,
		saveModeOf(cfg), compressionOf(cfg), reporter,
	)
	if err != nil {
		return nil, InvalidRequestError{Info: err.Error()}
	}
	frameSrc = layer

	s := &P2PSession{
		cfg:               cfg,
		numPlayers:        cfg.NumPlayers,
		inputSize:         cfg.InputSize,
		maxPrediction:     cfg.MaxPredictionValue(),
		fps:               cfg.Fps,
		saveMode:          saveModeOf(cfg),
		layer:             layer,
		registry:          protocol.NewRegistry(cfg.NumPlayers),
		peers:             make(map[string]*protocol.Peer),
		socket:            socket,
		clk:               clk,
		rng:               newRng(),
		reporter:          reporter,
		logger:            logger,
		protoCfg:          protocolConfig(cfg),
		state:             sessionInitializing,
		staged:            make(map[types.PlayerHandle]bool),
		lastShippedFrame:  types.NullFrame,
		nextChecksumFrame: 0,
		lastWaitEmitFrame: types.NullFrame,
	}
	if o.monitorInterval > 0 {
		s.monitor = diagnostics.NewSampler(logger, o.monitorInterval)
	}
	return s, nil
}

// AddLocalPlayer registra um jogador local no handle.
func (s *P2PSession) AddLocalPlayer(handle PlayerHandle) error {
	if s.state != sessionInitializing {
		return InvalidRequestError{Info: "players must be added before Start"}
	}
	if err := s.registry.AddLocal(handle); err != nil {
		return s.mapRegistryErr(handle, err)
	}
	return nil
}

// AddRemotePlayer registra um jogador remoto no handle, controlado pelo
// peer em addr.
func (s *P2PSession) AddRemotePlayer(handle PlayerHandle, addr string) error {
	if s.state != sessionInitializing {
		return InvalidRequestError{Info: "players must be added before Start"}
	}
	if addr == "" {
		return InvalidRequestError{Info: "remote player needs a peer address"}
	}
	if err := s.registry.AddRemote(handle, addr); err != nil {
		return s.mapRegistryErr(handle, err)
	}
	return nil
}

// AddSpectator registra um espectador e retorna o handle atribuído
// (>= num_players).
func (s *P2PSession) AddSpectator(addr string) (PlayerHandle, error) {
	if s.state != sessionInitializing {
		return -1, InvalidRequestError{Info: "spectators must be added before Start"}
	}
	if addr == "" {
		return -1, InvalidRequestError{Info: "spectator needs a peer address"}
	}
	return s.registry.AddSpectator(addr), nil
}

// SetFrameDelay configura o delay de input de um jogador local.
func (s *P2PSession) SetFrameDelay(handle PlayerHandle, delay int) error {
	if !s.registry.IsLocal(handle) {
		return InvalidPlayerHandleError{Handle: handle, Max: s.numPlayers - 1}
	}
	if err := s.layer.SetFrameDelay(handle, delay); err != nil {
		return InvalidRequestError{Info: err.Error()}
	}
	return nil
}

// Start congela o registro de jogadores e inicia o handshake com todos os
// peers. A sessão fica utilizável (AddLocalInput/AdvanceFrame) quando os
// peers remotos sincronizarem.
func (s *P2PSession) Start() error {
	if s.state != sessionInitializing {
		return InvalidRequestError{Info: "session already started"}
	}
	if !s.registry.Complete() {
		return InvalidRequestError{Info: "all player handles must be registered before Start"}
	}
	s.localHandles = s.registry.LocalHandles()

	endpoints := s.registry.RemoteEndpoints()
	for _, addr := range s.registry.RemoteAddrsSorted() {
		peer := protocol.NewPeer(addr, endpoints[addr], s.inputSize, s.numPlayers,
			s.protoCfg, s.clk, s.rng, s.logger, s.reporter)
		s.peers[addr] = peer
		s.peerAddrs = append(s.peerAddrs, addr)
		peer.Synchronize()
	}

	allHandles := make([]types.PlayerHandle, s.numPlayers)
	for i := range allHandles {
		allHandles[i] = i
	}
	for _, addr := range s.registry.SpectatorAddrs() {
		peer := protocol.NewPeer(addr, allHandles, s.inputSize, s.numPlayers,
			s.protoCfg, s.clk, s.rng, s.logger, s.reporter)
		s.peers[addr] = peer
		s.peerAddrs = append(s.peerAddrs, addr)
		s.spectators = append(s.spectators, peer)
		s.spectatorShipped = append(s.spectatorShipped, types.NullFrame)
		peer.Synchronize()
	}

	if len(s.peerAddrs) == len(s.spectators) {
		// Sem peers remotos de jogador: já estamos rodando. Espectadores
		// não seguram o início da partida.
		s.state = sessionRunning
	} else {
		s.state = sessionSynchronizing
	}
	s.logger.Info("session started",
		"num_players", s.numPlayers, "remote_peers", len(s.peerAddrs)-len(s.spectators),
		"spectators", len(s.spectators), "max_prediction", s.maxPrediction)
	return nil
}

// PollRemoteClients drena o socket, roteia datagramas para os peers, roda
// os timers e coleta eventos. Deve ser chamado a cada tick do loop do
// host.
func (s *P2PSession) PollRemoteClients() {
	if s.state == sessionInitializing || s.state == sessionClosed {
		return
	}

	for _, d := range s.socket.Receive() {
		peer, ok := s.peers[d.Addr]
		if !ok {
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
				Detail:   fmt.Sprintf("dropping datagram from %s: %v", d.Addr, err),
				Frame:    types.NullFrame,
			})
			continue
		}
		peer.HandleMessage(msg)
	}

	status := s.connectStatusSnapshot()
	for _, addr := range s.peerAddrs {
		s.peers[addr].Poll(s.layer.CurrentFrame(), status)
	}

	// Inputs autoritativos entram na camada de sincronização.
	for _, addr := range s.peerAddrs {
		for _, remote := range s.peers[addr].DrainInputs() {
			s.layer.AddRemoteInput(remote.Handle, remote.Input)
			s.registry.SetLastFrame(remote.Handle, remote.Input.Frame)
		}
	}

	s.updateConfirmedHorizon()
	s.shipToSpectators()
	s.collectPeerEvents()
	s.maybeRecommendWait()

	if s.monitor != nil {
		s.monitor.Sample(s.clk.Now())
	}

	if s.state == sessionSynchronizing && s.remotePeersRunning() {
		s.state = sessionRunning
		s.logger.Info("all remote peers synchronized")
	}

	for _, addr := range s.peerAddrs {
		for _, buf := range s.peers[addr].DrainOutbox() {
			s.socket.SendTo(addr, buf)
		}
	}
}

func (s *P2PSession) remotePeersRunning() bool {
	for _, addr := range s.peerAddrs {
		peer := s.peers[addr]
		if s.isSpectatorPeer(peer) {
			continue
		}
		if peer.CurrentState() != protocol.StateRunning {
			return false
		}
	}
	return true
}

func (s *P2PSession) isSpectatorPeer(peer *protocol.Peer) bool {
	for _, sp := range s.spectators {
		if sp == peer {
			return true
		}
	}
	return false
}

func (s *P2PSession) connectStatusSnapshot() []types.ConnectionStatus {
	src := s.registry.ConnectStatus()
	out := make([]types.ConnectionStatus, len(src))
	copy(out, src)
	return out
}

// updateConfirmedHorizon calcula o menor frame autoritativo entre os
// jogadores conectados e avança o horizonte confirmado (clampado ao frame
// corrente: o horizonte nunca passa a simulação).
func (s *P2PSession) updateConfirmedHorizon() {
	status := s.registry.ConnectStatus()
	confirmed := types.Frame(-2)
	for p := 0; p < s.numPlayers; p++ {
		if status[p].Disconnected {
			continue
		}
		if confirmed == types.Frame(-2) || status[p].LastFrame < confirmed {
			confirmed = status[p].LastFrame
		}
	}
	if confirmed == types.Frame(-2) || confirmed == types.NullFrame {
		return
	}
	if confirmed > s.layer.CurrentFrame() {
		confirmed = s.layer.CurrentFrame()
	}
	s.layer.SetLastConfirmedFrame(confirmed)
}

// shipToSpectators encaminha a cada espectador os frames confirmados que
// ele ainda não recebeu, com os inputs de todos os jogadores. O cursor é
// por espectador: um espectador ainda sincronizando não perde os frames
// confirmados nesse meio tempo.
func (s *P2PSession) shipToSpectators() {
	if len(s.spectators) == 0 {
		return
	}
	horizon := s.layer.LastConfirmedFrame()
	if horizon == types.NullFrame {
		return
	}
	status := s.connectStatusSnapshot()
	for i, sp := range s.spectators {
		if sp.CurrentState() != protocol.StateRunning {
			continue
		}
		from := s.spectatorShipped[i] + 1
		if from > horizon {
			continue
		}
		for f := from; f <= horizon; f++ {
			sp.QueueOutgoingInput(types.PlayerInput{Frame: f, Bits: s.confirmedWireInput(f)})
		}
		sp.FlushInputs(status)
		s.spectatorShipped[i] = horizon
	}
}

// confirmedWireInput concatena os inputs confirmados de todos os
// jogadores no frame; jogadores sem input (desconectados antes do frame)
// contribuem zeros.
func (s *P2PSession) confirmedWireInput(f types.Frame) []byte {
	combined := make([]byte, 0, s.numPlayers*s.inputSize)
	for p := 0; p < s.numPlayers; p++ {
		in, err := s.layer.ConfirmedInput(p, f)
		if err != nil {
			combined = append(combined, make([]byte, s.inputSize)...)
			continue
		}
		combined = append(combined, in.Bits...)
	}
	return combined
}

// collectPeerEvents traduz eventos de protocolo em eventos de sessão e
// aplica os efeitos (disconnect de jogadores).
func (s *P2PSession) collectPeerEvents() {
	for _, addr := range s.peerAddrs {
		peer := s.peers[addr]
		isSpectator := s.isSpectatorPeer(peer)
		for _, ev := range peer.DrainEvents() {
			switch ev.Kind {
			case protocol.EventSynchronizing:
				s.events = append(s.events, SessionEvent{
					Kind: EventSynchronizing, Addr: addr, Handles: peer.Handles(),
					Count: ev.Count, Total: ev.Total,
				})
			case protocol.EventSynchronized:
				s.events = append(s.events, SessionEvent{
					Kind: EventSynchronized, Addr: addr, Handles: peer.Handles(),
				})
			case protocol.EventNetworkInterrupted:
				s.events = append(s.events, SessionEvent{
					Kind: EventNetworkInterrupted, Addr: addr, Handles: peer.Handles(),
					DisconnectTimeout: ev.DisconnectTimeout,
				})
			case protocol.EventNetworkResumed:
				s.events = append(s.events, SessionEvent{
					Kind: EventNetworkResumed, Addr: addr, Handles: peer.Handles(),
				})
			case protocol.EventDisconnected:
				if !isSpectator {
					for _, h := range peer.Handles() {
						s.disconnectHandle(h)
					}
				}
				s.events = append(s.events, SessionEvent{
					Kind: EventDisconnected, Addr: addr, Handles: peer.Handles(),
				})
			case protocol.EventDesyncDetected:
				s.events = append(s.events, SessionEvent{
					Kind: EventDesyncDetected, Addr: addr, Handles: peer.Handles(),
					Frame:          ev.Frame,
					LocalChecksum:  ev.LocalChecksum,
					RemoteChecksum: ev.RemoteChecksum,
				})
			}
		}
	}
}

// disconnectHandle marca o jogador como desconectado e agenda o rollback
// dos frames simulados com predições dele.
func (s *P2PSession) disconnectHandle(handle types.PlayerHandle) {
	status := s.registry.ConnectStatus()
	if handle < 0 || handle >= len(status) || status[handle].Disconnected {
		return
	}
	_ = s.registry.SetDisconnected(handle)
	last := status[handle].LastFrame
	if s.layer.CurrentFrame() > last+1 {
		s.layer.ForceRollback(handle, last+1)
	}
	s.logger.Info("player disconnected", "handle", handle, "last_frame", last)
}

// maybeRecommendWait emite WaitRecommendation quando o lado local está
// consistentemente à frente dos peers. No máximo um evento por segundo de
// simulação.
func (s *P2PSession) maybeRecommendWait() {
	if s.state != sessionRunning {
		return
	}
	var maxWait int32
	for _, addr := range s.peerAddrs {
		peer := s.peers[addr]
		if s.isSpectatorPeer(peer) || peer.CurrentState() != protocol.StateRunning {
			continue
		}
		if w := peer.RecommendedWait(); w > maxWait {
			maxWait = w
		}
	}
	if maxWait < 1 {
		return
	}
	current := s.layer.CurrentFrame()
	if s.lastWaitEmitFrame != types.NullFrame && current-s.lastWaitEmitFrame < types.Frame(s.fps) {
		return
	}
	s.lastWaitEmitFrame = current
	s.events = append(s.events, SessionEvent{
		Kind:            EventWaitRecommendation,
		RecommendedWait: int(maxWait),
	})
}

// AddLocalInput agenda o input do jogador local para o frame corrente.
// Deve ser chamado para todos os jogadores locais antes de AdvanceFrame.
func (s *P2PSession) AddLocalInput(handle PlayerHandle, bits []byte) error {
	switch s.state {
	case sessionRunning:
	case sessionClosed:
		return InvalidRequestError{Info: "session closed"}
	default:
		return ErrNotSynchronized
	}
	if !s.registry.IsLocal(handle) {
		return InvalidPlayerHandleError{Handle: handle, Max: s.numPlayers - 1}
	}
	if len(bits) != s.inputSize {
		return InvalidRequestError{Info: fmt.Sprintf("input must have %d bytes, got %d", s.inputSize, len(bits))}
	}

	added, err := s.layer.AddLocalInput(handle, append([]byte(nil), bits...))
	if err != nil {
		switch {
		case errors.Is(err, rollback.ErrPredictionThreshold):
			return ErrPredictionThreshold
		case errors.Is(err, rollback.ErrInvalidFrame):
			return InvalidFrameError{Frame: s.layer.CurrentFrame(), Reason: err.Error()}
		default:
			return InvalidRequestError{Info: err.Error()}
		}
	}
	s.staged[handle] = true
	s.registry.SetLastFrame(handle, added)
	// Envia imediatamente: em lockstep estrito o avanço local só destrava
	// quando o peer recebe este input, e o dele chega aqui.
	s.shipLocalInputs(s.connectStatusSnapshot())
	return nil
}

// AdvanceFrame decide entre avanço normal e rollback e retorna a sequência
// ordenada de requests que o host deve executar na íntegra antes do
// próximo tick.
func (s *P2PSession) AdvanceFrame() ([]Request, error) {
	switch s.state {
	case sessionRunning:
	case sessionClosed:
		return nil, InvalidRequestError{Info: "session closed"}
	default:
		return nil, ErrNotSynchronized
	}
	// Inputs adicionados neste tick (locais e remotos drenados no poll)
	// contam para o horizonte antes da trava de predição.
	s.updateConfirmedHorizon()
	if s.layer.PredictionExhausted() {
		return nil, ErrPredictionThreshold
	}
	for _, h := range s.localHandles {
		if !s.staged[h] {
			return nil, InvalidRequestError{Info: fmt.Sprintf("missing local input for player %d", h)}
		}
	}

	s.publishChecksums()

	status := s.connectStatusSnapshot()
	requests := s.buildRequests(status)

	s.shipLocalInputs(status)
	for h := range s.staged {
		delete(s.staged, h)
	}
	return requests, nil
}

// buildRequests implementa o algoritmo de rollback: Load + replay quando
// houve mispredição no passado, SkipRollback no caso degenerado, e o passo
// normal Save/Advance do frame pendente.
func (s *P2PSession) buildRequests(status []types.ConnectionStatus) []Request {
	var requests []Request

	first := s.layer.CheckSimulation()
	if first != types.NullFrame && !s.layer.StaleRollbackCheck(first) {
		first = s.layer.CheckSimulation()
	}

	if first != types.NullFrame {
		if first >= s.layer.CurrentFrame() {
			s.layer.SkipRollback()
		} else {
			requests = s.appendRollback(requests, first, status)
		}
	}

	if s.shouldSave() {
		cell, frame := s.layer.SaveCurrentState()
		requests = append(requests, Request{Kind: RequestSaveGameState, Frame: frame, Cell: cell})
	}
	requests = append(requests, Request{
		Kind:   RequestAdvanceFrame,
		Inputs: s.layer.SynchronizedInputs(status),
	})
	s.layer.AdvanceFrame()

	return requests
}

func (s *P2PSession) appendRollback(requests []Request, first types.Frame, status []types.ConnectionStatus) []Request {
	target := s.layer.SparseLoadTarget(first)
	prior := s.layer.CurrentFrame()
	cell, err := s.layer.LoadFrame(target)
	if err != nil {
		// Estado irrecuperável para o alvo: invariante quebrada. Degrada
		// descartando o rollback; a detecção de desync pega divergências.
		s.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindInternalInvariant,
			Severity: telemetry.SeverityCritical,
			Detail:   fmt.Sprintf("rollback to frame %d failed: %v", target, err),
			Frame:    target,
		})
		s.layer.SkipRollback()
		return requests
	}
	requests = append(requests, Request{Kind: RequestLoadGameState, Frame: target, Cell: cell})

	for f := target; f < prior; f++ {
		saveCell, frame := s.layer.SaveCurrentState()
		requests = append(requests, Request{Kind: RequestSaveGameState, Frame: frame, Cell: saveCell})
		requests = append(requests, Request{
			Kind:   RequestAdvanceFrame,
			Inputs: s.layer.SynchronizedInputs(status),
		})
		s.layer.AdvanceFrame()
	}
	s.layer.ResetPredictions()
	return requests
}

// shouldSave decide se o frame pendente ganha snapshot. EveryFrame salva
// sempre; sparse salva apenas o primeiro frame além do horizonte
// confirmado (o mínimo para o alvo de rollback corrente).
func (s *P2PSession) shouldSave() bool {
	if s.saveMode == types.SaveEveryFrame {
		return true
	}
	current := s.layer.CurrentFrame()
	if current == 0 || s.layer.LastSavedFrame() == types.NullFrame {
		return true
	}
	return current == s.layer.LastConfirmedFrame()+1
}

// shipLocalInputs envia aos peers os frames locais recém-autoritativos
// (até o menor last-added entre os jogadores locais).
func (s *P2PSession) shipLocalInputs(status []types.ConnectionStatus) {
	if len(s.localHandles) == 0 {
		return
	}
	shipUpTo := types.NullFrame
	for i, h := range s.localHandles {
		last := s.layer.LastAddedFrame(h)
		if i == 0 || last < shipUpTo {
			shipUpTo = last
		}
	}
	if shipUpTo == types.NullFrame || shipUpTo <= s.lastShippedFrame {
		return
	}

	for f := s.lastShippedFrame + 1; f <= shipUpTo; f++ {
		combined := make([]byte, 0, len(s.localHandles)*s.inputSize)
		good := true
		for _, h := range s.localHandles {
			in, err := s.layer.ConfirmedInput(h, f)
			if err != nil {
				if f >= s.layer.FirstStoredFrame(h) {
					// Input local que deveria existir sumiu do ring: bug
					// interno; degrada pulando o frame.
					s.reporter.Report(telemetry.Violation{
						Kind:     telemetry.KindMissingInput,
						Severity: telemetry.SeverityCritical,
						Detail:   MissingInputError{Handle: h, Frame: f}.Error(),
						Frame:    f,
					})
				}
				// Frames anteriores ao primeiro slot (delay inicial) nunca
				// existirão; apenas não são enviados.
				good = false
				break
			}
			combined = append(combined, in.Bits...)
		}
		if !good {
			continue
		}
		for _, addr := range s.peerAddrs {
			peer := s.peers[addr]
			if s.isSpectatorPeer(peer) {
				continue
			}
			peer.QueueOutgoingInput(types.PlayerInput{Frame: f, Bits: combined})
		}
	}
	for _, addr := range s.peerAddrs {
		peer := s.peers[addr]
		if s.isSpectatorPeer(peer) {
			continue
		}
		peer.FlushInputs(status)
		for _, buf := range peer.DrainOutbox() {
			s.socket.SendTo(addr, buf)
		}
	}
	s.lastShippedFrame = shipUpTo
}

// publishChecksums envia relatórios de checksum dos frames checkpoint já
// confirmados e salvos (detecção de desync ligada).
func (s *P2PSession) publishChecksums() {
	interval := types.Frame(s.cfg.DesyncInterval)
	if interval <= 0 {
		return
	}
	horizon := s.layer.LastConfirmedFrame()
	if horizon == types.NullFrame {
		return
	}
	for s.nextChecksumFrame <= horizon {
		frame := s.nextChecksumFrame
		cell := s.layer.SavedCell(frame)
		if cell != nil {
			if cs, ok := cell.Checksum(); ok && !cs.IsZero() {
				for _, addr := range s.peerAddrs {
					peer := s.peers[addr]
					if s.isSpectatorPeer(peer) {
						continue
					}
					peer.SendChecksumReport(frame, cs)
				}
			}
		}
		s.nextChecksumFrame += interval
	}
}

// Events drena os eventos de sessão acumulados desde a última chamada.
func (s *P2PSession) Events() []SessionEvent {
	out := s.events
	s.events = nil
	return out
}

// DisconnectPlayer desconecta explicitamente um jogador; inputs futuros
// dele passam a ser o default (zero).
func (s *P2PSession) DisconnectPlayer(handle PlayerHandle) error {
	if handle < 0 || handle >= s.numPlayers {
		return InvalidPlayerHandleError{Handle: handle, Max: s.numPlayers - 1}
	}
	status := s.registry.ConnectStatus()
	if status[handle].Disconnected {
		return InvalidRequestError{Info: fmt.Sprintf("player %d already disconnected", handle)}
	}
	s.disconnectHandle(handle)

	if addr, ok := s.registry.AddrFor(handle); ok {
		peer := s.peers[addr]
		allDisconnected := true
		for _, h := range peer.Handles() {
			if !s.registry.ConnectStatus()[h].Disconnected {
				allDisconnected = false
				break
			}
		}
		if allDisconnected {
			peer.Disconnect()
		}
	} else {
		// Jogador local: não há peer para derrubar; o evento sai direto.
		s.events = append(s.events, SessionEvent{
			Kind: EventDisconnected, Handles: []PlayerHandle{handle},
		})
	}
	return nil
}

// NetworkStats retorna as métricas da conexão que controla o handle.
func (s *P2PSession) NetworkStats(handle PlayerHandle) (NetworkStats, error) {
	addr, ok := s.registry.AddrFor(handle)
	if !ok {
		return NetworkStats{}, InvalidPlayerHandleError{Handle: handle, Max: s.numPlayers - 1}
	}
	peer := s.peers[addr]
	return NetworkStats{
		Rtt:                  peer.Rtt(),
		SendQueueLen:         peer.PendingOutput(),
		LastAckedFrame:       peer.LastAckedFrame(),
		LastReceivedFrame:    peer.LastReceivedFrame(),
		LocalFrameAdvantage:  int(peer.LocalFrameAdvantage()),
		RemoteFrameAdvantage: int(peer.RemoteFrameAdvantage()),
		RecommendedWait:      int(peer.RecommendedWait()),
	}, nil
}

// FramesAhead retorna a recomendação corrente de stall em frames.
func (s *P2PSession) FramesAhead() int {
	var maxWait int32
	for _, addr := range s.peerAddrs {
		peer := s.peers[addr]
		if s.isSpectatorPeer(peer) {
			continue
		}
		if w := peer.RecommendedWait(); w > maxWait {
			maxWait = w
		}
	}
	return int(maxWait)
}

// CurrentFrame retorna o frame corrente da simulação.
func (s *P2PSession) CurrentFrame() Frame {
	return s.layer.CurrentFrame()
}

// ConfirmedFrame retorna o horizonte confirmado.
func (s *P2PSession) ConfirmedFrame() Frame {
	return s.layer.LastConfirmedFrame()
}

// Diagnostics retorna a última amostra de métricas do host, quando a
// amostragem foi ligada com WithHostMonitor. ok=false antes da primeira
// amostra (ou sem monitor).
func (s *P2PSession) Diagnostics() (HostStats, bool) {
	if s.monitor == nil {
		return HostStats{}, false
	}
	return s.monitor.Latest()
}

// Close encerra a sessão: derruba os peers e libera o socket.
func (s *P2PSession) Close() error {
	if s.state == sessionClosed {
		return nil
	}
	for _, addr := range s.peerAddrs {
		s.peers[addr].Shutdown()
	}
	s.state = sessionClosed
	return s.socket.Close()
}

func (s *P2PSession) mapRegistryErr(handle PlayerHandle, err error) error {
	switch {
	case errors.Is(err, protocol.ErrHandleOutOfRange):
		return InvalidPlayerHandleError{Handle: handle, Max: s.numPlayers - 1}
	default:
		return InvalidRequestError{Info: err.Error()}
	}
}
