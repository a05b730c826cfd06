// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nishisan-dev/fortress-rollback/internal/clock"
	"github.com/nishisan-dev/fortress-rollback/internal/hash"
	"github.com/nishisan-dev/fortress-rollback/internal/input"
	"github.com/nishisan-dev/fortress-rollback/internal/rollback"
	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// State enumera os estados do ciclo de vida de uma conexão com um peer.
type State uint8

const (
	StateInitializing State = iota
	StateSynchronizing
	StateRunning
	StateDisconnected
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateSynchronizing:
		return "synchronizing"
	case StateRunning:
		return "running"
	case StateDisconnected:
		return "disconnected"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Config reúne os timers e parâmetros do protocolo. Zero values são
// preenchidos por Normalize com os defaults.
type Config struct {
	NumSyncPackets        int
	SyncRetryInterval     time.Duration
	RunningRetryInterval  time.Duration
	KeepAliveInterval     time.Duration
	QualityReportInterval time.Duration
	DisconnectTimeout     time.Duration
	DisconnectNotifyStart time.Duration
	ShutdownTimer         time.Duration
	Fps                   int
	// DesyncInterval em frames; 0 desliga a detecção.
	DesyncInterval int
	TimeSyncWindow int
}

// Defaults do protocolo.
const (
	DefaultNumSyncPackets        = 5
	DefaultSyncRetryInterval     = 200 * time.Millisecond
	DefaultRunningRetryInterval  = 200 * time.Millisecond
	DefaultKeepAliveInterval     = 200 * time.Millisecond
	DefaultQualityReportInterval = 200 * time.Millisecond
	DefaultDisconnectTimeout     = 2000 * time.Millisecond
	DefaultDisconnectNotifyStart = 500 * time.Millisecond
	DefaultShutdownTimer         = 5000 * time.Millisecond
	DefaultFps                   = 60
)

// MaxChecksumHistory limita o histórico de checksums pendentes por peer.
const MaxChecksumHistory = 32

// maxPendingOutput limita o buffer de retransmissão de inputs locais.
const maxPendingOutput = 128

// Normalize aplica os defaults nos campos zerados.
func (c Config) Normalize() Config {
	if c.NumSyncPackets <= 0 {
		c.NumSyncPackets = DefaultNumSyncPackets
	}
	if c.SyncRetryInterval <= 0 {
		c.SyncRetryInterval = DefaultSyncRetryInterval
	}
	if c.RunningRetryInterval <= 0 {
		c.RunningRetryInterval = DefaultRunningRetryInterval
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.QualityReportInterval <= 0 {
		c.QualityReportInterval = DefaultQualityReportInterval
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.DisconnectNotifyStart <= 0 {
		c.DisconnectNotifyStart = DefaultDisconnectNotifyStart
	}
	if c.ShutdownTimer <= 0 {
		c.ShutdownTimer = DefaultShutdownTimer
	}
	if c.Fps <= 0 {
		c.Fps = DefaultFps
	}
	if c.TimeSyncWindow <= 0 {
		c.TimeSyncWindow = rollback.DefaultTimeSyncWindow
	}
	return c
}

// EventKind enumera os eventos produzidos por um peer.
type EventKind uint8

const (
	EventSynchronizing EventKind = iota
	EventSynchronized
	EventDisconnected
	EventNetworkInterrupted
	EventNetworkResumed
	EventDesyncDetected
)

// Event é a variante etiquetada de evento de conexão; apenas os campos da
// variante correspondente são significativos.
type Event struct {
	Kind              EventKind
	Count             int
	Total             int
	DisconnectTimeout time.Duration
	Frame             types.Frame
	LocalChecksum     hash.Checksum
	RemoteChecksum    hash.Checksum
}

// RemoteInput é um input autoritativo decodificado, pronto para a camada
// de sincronização.
type RemoteInput struct {
	Handle types.PlayerHandle
	Input  types.PlayerInput
}

type frameChecksum struct {
	frame    types.Frame
	checksum hash.Checksum
}

// Peer é a máquina de estados do protocolo para uma conexão remota. Toda a
// interação acontece na thread da sessão: mensagens entram por
// HandleMessage, timers correm em Poll, datagramas saem por DrainOutbox.
type Peer struct {
	addr    string
	handles []types.PlayerHandle
	// inputSize é o tamanho de input por jogador; o wire carrega a
	// concatenação dos jogadores do remetente.
	inputSize  int
	numPlayers int
	cfg        Config

	clk      *clock.Guard
	rng      *rand.Rand
	logger   *slog.Logger
	reporter *telemetry.Reporter

	state         State
	syncRemaining int
	issuedNonces  map[uint32]struct{}
	lastSyncSend  time.Duration

	pendingOutput     []types.PlayerInput
	lastAckedFrame    types.Frame
	lastReceivedFrame types.Frame
	lastInputSend     time.Duration

	peerConnectStatus []types.ConnectionStatus

	timesync             *rollback.TimeSync
	localFrameAdvantage  int32
	remoteFrameAdvantage int32
	rtt                  time.Duration
	lastQualitySend      time.Duration

	lastRecvTime         time.Duration
	lastSendTime         time.Duration
	notifiedInterruption bool
	shutdownAt           time.Duration

	localChecksums  []frameChecksum
	remoteChecksums []frameChecksum

	outbox   [][]byte
	events   []Event
	received []RemoteInput
}

// NewPeer cria a máquina de estados para o peer em addr, dono dos handles
// fornecidos (ordenados). O rng é o gerador por sessão usado apenas para
// nonces de handshake.
func NewPeer(addr string, handles []types.PlayerHandle, inputSize, numPlayers int, cfg Config, clk *clock.Guard, rng *rand.Rand, logger *slog.Logger, reporter *telemetry.Reporter) *Peer {
	status := make([]types.ConnectionStatus, numPlayers)
	for i := range status {
		status[i] = types.ConnectionStatus{LastFrame: types.NullFrame}
	}
	return &Peer{
		addr:              addr,
		handles:           handles,
		inputSize:         inputSize,
		numPlayers:        numPlayers,
		cfg:               cfg.Normalize(),
		clk:               clk,
		rng:               rng,
		logger:            logger.With("peer", addr),
		reporter:          reporter,
		state:             StateInitializing,
		issuedNonces:      make(map[uint32]struct{}),
		lastAckedFrame:    types.NullFrame,
		lastReceivedFrame: types.NullFrame,
		peerConnectStatus: status,
		timesync:          rollback.NewTimeSync(cfg.Normalize().TimeSyncWindow),
	}
}

// Addr retorna o endereço do peer.
func (p *Peer) Addr() string { return p.addr }

// CurrentState retorna o estado corrente.
func (p *Peer) CurrentState() State { return p.state }

// Handles retorna os handles de jogador que este peer controla.
func (p *Peer) Handles() []types.PlayerHandle { return p.handles }

// LastReceivedFrame retorna o último frame aceito do peer.
func (p *Peer) LastReceivedFrame() types.Frame { return p.lastReceivedFrame }

// LastAckedFrame retorna o último frame local confirmado pelo peer.
func (p *Peer) LastAckedFrame() types.Frame { return p.lastAckedFrame }

// PeerConnectStatus retorna a visão do peer sobre os demais jogadores.
func (p *Peer) PeerConnectStatus() []types.ConnectionStatus { return p.peerConnectStatus }

// Rtt retorna a estimativa corrente de round-trip.
func (p *Peer) Rtt() time.Duration { return p.rtt }

// PendingOutput retorna o tamanho do buffer de retransmissão.
func (p *Peer) PendingOutput() int { return len(p.pendingOutput) }

// RemoteFrameAdvantage retorna a última vantagem reportada pelo peer.
func (p *Peer) RemoteFrameAdvantage() int32 { return p.remoteFrameAdvantage }

// RecommendedWait retorna a recomendação suavizada de frames a segurar.
func (p *Peer) RecommendedWait() int32 {
	return p.timesync.RecommendedWait()
}

// Synchronize inicia o handshake. Transição Initializing → Synchronizing.
func (p *Peer) Synchronize() {
	if p.state != StateInitializing {
		return
	}
	p.state = StateSynchronizing
	p.syncRemaining = p.cfg.NumSyncPackets
	p.lastRecvTime = p.clk.Now()
	p.sendSyncRequest()
}

func (p *Peer) sendSyncRequest() {
	nonce := p.rng.Uint32()
	p.issuedNonces[nonce] = struct{}{}
	p.lastSyncSend = p.clk.Now()
	p.queueMessage(SyncRequest{Nonce: nonce})
}

// queueMessage codifica e enfileira um datagrama para o peer.
func (p *Peer) queueMessage(msg Message) {
	buf, err := Encode(msg)
	if err != nil {
		p.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindOversizeDatagram,
			Severity: telemetry.SeverityError,
			Detail:   fmt.Sprintf("dropping outbound %T: %v", msg, err),
			Frame:    types.NullFrame,
		})
		return
	}
	p.outbox = append(p.outbox, buf)
	p.lastSendTime = p.clk.Now()
}

// LocalFrameAdvantage retorna a última vantagem local medida.
func (p *Peer) LocalFrameAdvantage() int32 { return p.localFrameAdvantage }

// Poll executa os timers do estado corrente. currentFrame é o frame local
// da sessão; connectStatus é a visão local autoritativa, usada nos
// reenvios de input por timer.
func (p *Peer) Poll(currentFrame types.Frame, connectStatus []types.ConnectionStatus) {
	now := p.clk.Now()

	switch p.state {
	case StateSynchronizing:
		if now-p.lastSyncSend >= p.cfg.SyncRetryInterval {
			p.sendSyncRequest()
		}

	case StateRunning:
		p.updateLocalFrameAdvantage(currentFrame)

		if now-p.lastQualitySend >= p.cfg.QualityReportInterval {
			p.lastQualitySend = now
			p.queueMessage(QualityReport{
				FrameAdvantage: clampInt8(p.localFrameAdvantage),
				PingTs:         uint64(now / time.Millisecond),
			})
		}

		if len(p.pendingOutput) > 0 && now-p.lastInputSend >= p.cfg.RunningRetryInterval {
			if connectStatus == nil {
				connectStatus = p.peerConnectStatusSnapshot()
			}
			p.FlushInputs(connectStatus)
		}

		if now-p.lastRecvTime >= p.cfg.DisconnectTimeout {
			p.logger.Warn("peer unresponsive, disconnecting",
				"elapsed", now-p.lastRecvTime, "timeout", p.cfg.DisconnectTimeout)
			p.Disconnect()
			break
		}
		if !p.notifiedInterruption && now-p.lastRecvTime >= p.cfg.DisconnectNotifyStart {
			p.notifiedInterruption = true
			p.events = append(p.events, Event{
				Kind:              EventNetworkInterrupted,
				DisconnectTimeout: p.cfg.DisconnectTimeout - p.cfg.DisconnectNotifyStart,
			})
		}

		if now-p.lastSendTime >= p.cfg.KeepAliveInterval {
			p.queueMessage(KeepAlive{})
		}

	case StateDisconnected:
		if now >= p.shutdownAt {
			p.logger.Debug("shutdown timer elapsed")
			p.state = StateShutdown
		}
	}
}

// HandleMessage processa um datagrama decodificado vindo deste peer.
func (p *Peer) HandleMessage(msg Message) {
	if p.state == StateShutdown {
		return
	}
	now := p.clk.Now()
	p.lastRecvTime = now
	if p.notifiedInterruption && p.state == StateRunning {
		p.notifiedInterruption = false
		p.events = append(p.events, Event{Kind: EventNetworkResumed})
	}

	switch m := msg.(type) {
	case SyncRequest:
		// Sempre responde: o lado remoto pode estar refazendo o handshake.
		p.queueMessage(SyncReply{Nonce: m.Nonce})

	case SyncReply:
		p.handleSyncReply(m)

	case Input:
		p.handleInput(m)

	case InputAck:
		p.retireAcked(m.AckFrame)

	case QualityReport:
		p.remoteFrameAdvantage = int32(m.FrameAdvantage)
		// TimeSync mede vantagem como "positivo = o outro lado à frente";
		// aqui o positivo significa "este lado à frente", daí a inversão.
		p.timesync.Advance(-p.localFrameAdvantage, -p.remoteFrameAdvantage)
		p.queueMessage(QualityReply{PongTs: m.PingTs})

	case QualityReply:
		p.handleQualityReply(m, now)

	case KeepAlive:
		// liveness já registrada acima

	case ChecksumReport:
		p.recordRemoteChecksum(m.Frame, m.Checksum)
	}
}

func (p *Peer) handleSyncReply(m SyncReply) {
	if p.state != StateSynchronizing {
		return
	}
	if _, issued := p.issuedNonces[m.Nonce]; !issued {
		// Reflexão ou replay de outra sessão; ignora.
		p.logger.Debug("ignoring sync reply with unknown nonce")
		return
	}
	delete(p.issuedNonces, m.Nonce)
	p.syncRemaining--
	p.events = append(p.events, Event{
		Kind:  EventSynchronizing,
		Count: p.cfg.NumSyncPackets - p.syncRemaining,
		Total: p.cfg.NumSyncPackets,
	})
	if p.syncRemaining <= 0 {
		p.state = StateRunning
		p.lastQualitySend = p.clk.Now()
		p.events = append(p.events, Event{Kind: EventSynchronized})
		p.logger.Info("peer synchronized")
		return
	}
	p.sendSyncRequest()
}

func (p *Peer) handleInput(m Input) {
	if p.state != StateRunning {
		return
	}

	// Connect status do remetente: agrega por jogador, nunca regride.
	for i := 0; i < len(m.PeerConnectStatus) && i < len(p.peerConnectStatus); i++ {
		incoming := m.PeerConnectStatus[i]
		cur := &p.peerConnectStatus[i]
		cur.Disconnected = cur.Disconnected || incoming.Disconnected
		if incoming.LastFrame > cur.LastFrame {
			cur.LastFrame = incoming.LastFrame
		}
	}

	p.retireAcked(m.AckFrame)

	if m.BitLength > 0 {
		p.acceptInputRun(m)
	}
}

func (p *Peer) acceptInputRun(m Input) {
	wireSize := p.inputSize * len(p.handles)
	run, err := input.DecodeRun(m.Payload, m.BitLength, wireSize)
	if err != nil {
		p.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindMalformedDatagram,
			Severity: telemetry.SeverityWarning,
			Detail:   fmt.Sprintf("dropping input run: %v", err),
			Frame:    m.StartFrame,
		})
		return
	}

	if p.lastReceivedFrame != types.NullFrame && m.StartFrame > p.lastReceivedFrame+1 {
		// O run não cobre o próximo frame esperado: gap maior que o
		// histórico compressível do remetente.
		p.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindFrameGapTooLarge,
			Severity: telemetry.SeverityError,
			Detail: fmt.Sprintf("input run starts at %d, expected %d; dropping",
				m.StartFrame, p.lastReceivedFrame+1),
			Frame: m.StartFrame,
		})
		return
	}

	accepted := false
	for k, wire := range run {
		frame := m.StartFrame + types.Frame(k)
		if frame <= p.lastReceivedFrame {
			// Duplicata ou retransmissão antiga.
			continue
		}
		for h, handle := range p.handles {
			bits := wire[h*p.inputSize : (h+1)*p.inputSize]
			p.received = append(p.received, RemoteInput{
				Handle: handle,
				Input:  types.PlayerInput{Frame: frame, Bits: append([]byte(nil), bits...)},
			})
		}
		p.lastReceivedFrame = frame
		accepted = true
	}

	if m.HasChecksum {
		p.recordRemoteChecksum(m.StartFrame+types.Frame(len(run)-1), m.Checksum)
	}

	if accepted {
		p.queueMessage(InputAck{AckFrame: p.lastReceivedFrame})
	}
}

func (p *Peer) retireAcked(ack types.Frame) {
	if ack == types.NullFrame || ack <= p.lastAckedFrame {
		return
	}
	p.lastAckedFrame = ack
	keep := p.pendingOutput[:0]
	for _, in := range p.pendingOutput {
		if in.Frame > ack {
			keep = append(keep, in)
		}
	}
	p.pendingOutput = keep
}

func (p *Peer) handleQualityReply(m QualityReply, now time.Duration) {
	pong := time.Duration(m.PongTs) * time.Millisecond
	if pong > now {
		p.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindClockRegression,
			Severity: telemetry.SeverityWarning,
			Detail:   "quality reply from the future; clamping rtt to zero",
			Frame:    types.NullFrame,
		})
		p.rtt = 0
		return
	}
	p.rtt = now - pong
}

// updateLocalFrameAdvantage estima o quanto a simulação local está à
// frente do peer: current - último input recebido - metade do RTT em
// frames.
func (p *Peer) updateLocalFrameAdvantage(currentFrame types.Frame) {
	if p.lastReceivedFrame == types.NullFrame {
		return
	}
	rttFrames := int32(p.rtt.Milliseconds()) * int32(p.cfg.Fps) / 1000
	p.localFrameAdvantage = int32(currentFrame) - int32(p.lastReceivedFrame) - rttFrames/2
}

// QueueOutgoingInput agenda o input local de um frame (já concatenado por
// jogador do remetente) para envio. FlushInputs empacota o pendente.
func (p *Peer) QueueOutgoingInput(in types.PlayerInput) {
	if p.state != StateRunning {
		return
	}
	if len(p.pendingOutput) >= maxPendingOutput {
		p.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindSendQueueOverflow,
			Severity: telemetry.SeverityError,
			Detail:   "pending output overflow; dropping oldest frame",
			Frame:    p.pendingOutput[0].Frame,
		})
		p.pendingOutput = p.pendingOutput[1:]
	}
	p.pendingOutput = append(p.pendingOutput, in)
}

// SendInput agenda e envia imediatamente o input local de um frame, junto
// do vetor de connect status corrente.
func (p *Peer) SendInput(in types.PlayerInput, connectStatus []types.ConnectionStatus) {
	if p.state != StateRunning {
		return
	}
	p.QueueOutgoingInput(in)
	p.FlushInputs(connectStatus)
}

// peerConnectStatusSnapshot devolve uma cópia do vetor de status que o peer
// reportou (usada nos reenvios por timer quando Poll recebe connectStatus nil).
func (p *Peer) peerConnectStatusSnapshot() []types.ConnectionStatus {
	out := make([]types.ConnectionStatus, len(p.peerConnectStatus))
	copy(out, p.peerConnectStatus)
	return out
}

// FlushInputs empacota o run pendente (limitado pelo codec) num frame
// Input.
func (p *Peer) FlushInputs(connectStatus []types.ConnectionStatus) {
	if p.state != StateRunning || len(p.pendingOutput) == 0 {
		return
	}
	// Sempre do mais antigo não confirmado em diante: o peer só avança o
	// ack com runs contíguos ao que já aceitou.
	run := p.pendingOutput
	maxRun := input.MaxInputsPerPacket
	if wireSize := p.inputSize * len(p.handles); wireSize > 0 {
		// O residual do run precisa caber no campo de bits de 16 bits.
		if budget := 0xFFFF / (wireSize * 8); budget < maxRun {
			maxRun = budget
		}
	}
	if len(run) > maxRun {
		run = run[:maxRun]
	}
	raw := make([][]byte, len(run))
	for i, in := range run {
		raw[i] = in.Bits
	}
	payload, bitLength, err := input.EncodeRun(raw)
	if err != nil {
		p.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindInternalInvariant,
			Severity: telemetry.SeverityCritical,
			Detail:   fmt.Sprintf("failed to encode input run: %v", err),
			Frame:    run[0].Frame,
		})
		return
	}

	msg := Input{
		PeerConnectStatus: connectStatus,
		StartFrame:        run[0].Frame,
		BitLength:         bitLength,
		Payload:           payload,
		AckFrame:          p.lastReceivedFrame,
	}

	lastFrame := run[len(run)-1].Frame
	if cs, ok := p.localChecksumFor(lastFrame); ok {
		msg.HasChecksum = true
		msg.Checksum = cs
	}

	p.lastInputSend = p.clk.Now()
	p.queueMessage(msg)
}

// SendChecksumReport publica o checksum local de um frame checkpoint para
// o peer e o registra no histórico local.
func (p *Peer) SendChecksumReport(frame types.Frame, checksum hash.Checksum) {
	if p.state != StateRunning {
		return
	}
	p.AddLocalChecksum(frame, checksum)
	p.queueMessage(ChecksumReport{Frame: frame, Checksum: checksum})
}

// AddLocalChecksum registra o checksum local de um frame checkpoint e
// compara com relatórios remotos pendentes.
func (p *Peer) AddLocalChecksum(frame types.Frame, checksum hash.Checksum) {
	p.localChecksums = append(p.localChecksums, frameChecksum{frame: frame, checksum: checksum})
	if len(p.localChecksums) > MaxChecksumHistory {
		p.localChecksums = p.localChecksums[len(p.localChecksums)-MaxChecksumHistory:]
	}
	p.compareChecksums()
}

func (p *Peer) localChecksumFor(frame types.Frame) (hash.Checksum, bool) {
	for i := len(p.localChecksums) - 1; i >= 0; i-- {
		if p.localChecksums[i].frame == frame {
			return p.localChecksums[i].checksum, true
		}
	}
	return hash.Checksum{}, false
}

func (p *Peer) recordRemoteChecksum(frame types.Frame, checksum hash.Checksum) {
	p.remoteChecksums = append(p.remoteChecksums, frameChecksum{frame: frame, checksum: checksum})
	if len(p.remoteChecksums) > MaxChecksumHistory {
		p.remoteChecksums = p.remoteChecksums[len(p.remoteChecksums)-MaxChecksumHistory:]
	}
	p.compareChecksums()
}

// compareChecksums casa relatórios remotos com checksums locais pelo
// frame. Mismatch gera evento DesyncDetected e violação; entradas casadas
// são descartadas.
func (p *Peer) compareChecksums() {
	remaining := p.remoteChecksums[:0]
	for _, remote := range p.remoteChecksums {
		local, ok := p.localChecksumFor(remote.frame)
		if !ok {
			remaining = append(remaining, remote)
			continue
		}
		if local != remote.checksum {
			p.reporter.Report(telemetry.Violation{
				Kind:     telemetry.KindChecksumMismatch,
				Severity: telemetry.SeverityError,
				Detail:   fmt.Sprintf("desync at frame %d", remote.frame),
				Frame:    remote.frame,
			})
			p.events = append(p.events, Event{
				Kind:           EventDesyncDetected,
				Frame:          remote.frame,
				LocalChecksum:  local,
				RemoteChecksum: remote.checksum,
			})
		}
	}
	p.remoteChecksums = remaining
}

// Disconnect marca o peer como desconectado e arma o shutdown timer.
func (p *Peer) Disconnect() {
	if p.state == StateDisconnected || p.state == StateShutdown {
		return
	}
	p.state = StateDisconnected
	p.shutdownAt = p.clk.Now() + p.cfg.ShutdownTimer
	p.events = append(p.events, Event{Kind: EventDisconnected})
}

// Shutdown encerra a máquina de estados imediatamente, de qualquer
// estado.
func (p *Peer) Shutdown() {
	p.state = StateShutdown
}

// DrainOutbox devolve e limpa os datagramas pendentes.
func (p *Peer) DrainOutbox() [][]byte {
	out := p.outbox
	p.outbox = nil
	return out
}

// DrainEvents devolve e limpa os eventos pendentes.
func (p *Peer) DrainEvents() []Event {
	out := p.events
	p.events = nil
	return out
}

// DrainInputs devolve e limpa os inputs remotos aceitos.
func (p *Peer) DrainInputs() []RemoteInput {
	out := p.received
	p.received = nil
	return out
}

func clampInt8(v int32) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}
