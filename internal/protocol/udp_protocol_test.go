// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"math/rand"
	"testing"
	"time"

	"github.com/nishisan-dev/fortress-rollback/internal/clock"
	"github.com/nishisan-dev/fortress-rollback/internal/hash"
	"github.com/nishisan-dev/fortress-rollback/internal/input"
	"github.com/nishisan-dev/fortress-rollback/internal/logging"
	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

type fakeClock struct {
	now time.Duration
}

func (c *fakeClock) Now() time.Duration { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now += d }

type peerHarness struct {
	peer  *Peer
	clk   *fakeClock
	ring  *telemetry.Ring
	guard *clock.Guard
}

func newPeerHarness(t *testing.T, handles []types.PlayerHandle, numPlayers int) *peerHarness {
	return newPeerHarnessCfg(t, handles, numPlayers, Config{})
}

func newPeerHarnessCfg(t *testing.T, handles []types.PlayerHandle, numPlayers int, cfg Config) *peerHarness {
	t.Helper()
	ring := telemetry.NewRing(32)
	reporter := telemetry.NewReporter(ring, logging.Nop())
	clk := &fakeClock{}
	guard := clock.NewGuard(clk, reporter)
	peer := NewPeer("10.0.0.2:7000", handles, 1, numPlayers, cfg,
		guard, rand.New(rand.NewSource(1)), logging.Nop(), reporter)
	return &peerHarness{peer: peer, clk: clk, ring: ring, guard: guard}
}

// decodeOutbox decodifica e limpa a caixa de saída.
func (h *peerHarness) decodeOutbox(t *testing.T) []Message {
	t.Helper()
	var out []Message
	for _, buf := range h.peer.DrainOutbox() {
		msg, err := Decode(buf)
		if err != nil {
			t.Fatalf("outbox holds undecodable datagram: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

// completeHandshake responde aos sync requests até o peer entrar em
// Running.
func (h *peerHarness) completeHandshake(t *testing.T) {
	t.Helper()
	h.peer.Synchronize()
	for i := 0; i < DefaultNumSyncPackets; i++ {
		msgs := h.decodeOutbox(t)
		if len(msgs) != 1 {
			t.Fatalf("handshake round %d: %d outbound messages", i, len(msgs))
		}
		req, ok := msgs[0].(SyncRequest)
		if !ok {
			t.Fatalf("handshake round %d: unexpected %T", i, msgs[0])
		}
		h.peer.HandleMessage(SyncReply{Nonce: req.Nonce})
	}
	if h.peer.CurrentState() != StateRunning {
		t.Fatalf("peer not running after handshake: %v", h.peer.CurrentState())
	}
}

func TestPeer_HandshakeIgnoresForeignNonces(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.peer.Synchronize()

	msgs := h.decodeOutbox(t)
	req := msgs[0].(SyncRequest)

	// Replies com nonce que nunca emitimos (replay de outra sessão) não
	// contam para o handshake.
	h.peer.HandleMessage(SyncReply{Nonce: req.Nonce + 1})
	if h.peer.CurrentState() != StateSynchronizing {
		t.Fatalf("foreign nonce advanced the handshake")
	}

	// O nonce verdadeiro conta, e um replay dele não conta de novo.
	h.peer.HandleMessage(SyncReply{Nonce: req.Nonce})
	h.peer.HandleMessage(SyncReply{Nonce: req.Nonce})
	events := h.peer.DrainEvents()
	progress := 0
	for _, ev := range events {
		if ev.Kind == EventSynchronizing {
			progress++
		}
	}
	if progress != 1 {
		t.Fatalf("nonce replay produced %d progress events, want 1", progress)
	}
}

func TestPeer_HandshakeRetriesOnTimer(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.peer.Synchronize()
	h.decodeOutbox(t)

	// Antes do intervalo: nada.
	h.clk.advance(DefaultSyncRetryInterval / 2)
	h.peer.Poll(0, nil)
	if msgs := h.decodeOutbox(t); len(msgs) != 0 {
		t.Fatalf("retry fired early: %d messages", len(msgs))
	}

	h.clk.advance(DefaultSyncRetryInterval)
	h.peer.Poll(0, nil)
	msgs := h.decodeOutbox(t)
	if len(msgs) != 1 {
		t.Fatalf("expected one retry, got %d", len(msgs))
	}
	if _, ok := msgs[0].(SyncRequest); !ok {
		t.Fatalf("retry sent %T", msgs[0])
	}
}

func TestPeer_SynchronizedAfterAllReplies(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)

	var synchronized bool
	for _, ev := range h.peer.DrainEvents() {
		if ev.Kind == EventSynchronized {
			synchronized = true
		}
	}
	if !synchronized {
		t.Fatalf("no Synchronized event emitted")
	}
}

func TestPeer_RepliesToSyncRequests(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.peer.Synchronize()
	h.decodeOutbox(t)

	h.peer.HandleMessage(SyncRequest{Nonce: 0xABCD})
	msgs := h.decodeOutbox(t)
	if len(msgs) != 1 {
		t.Fatalf("expected one reply, got %d", len(msgs))
	}
	reply, ok := msgs[0].(SyncReply)
	if !ok || reply.Nonce != 0xABCD {
		t.Fatalf("reply = %+v", msgs[0])
	}
}

func TestPeer_InputShipAndAckRetirement(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)
	h.peer.DrainEvents()

	status := []types.ConnectionStatus{{LastFrame: 2}, {LastFrame: types.NullFrame}}
	for f := types.Frame(0); f < 3; f++ {
		h.peer.SendInput(types.PlayerInput{Frame: f, Bits: []byte{byte(f + 1)}}, status)
	}
	if h.peer.PendingOutput() != 3 {
		t.Fatalf("pending output = %d, want 3", h.peer.PendingOutput())
	}

	msgs := h.decodeOutbox(t)
	last, ok := msgs[len(msgs)-1].(Input)
	if !ok {
		t.Fatalf("last outbound is %T", msgs[len(msgs)-1])
	}
	if last.StartFrame != 0 {
		t.Fatalf("run starts at %d, want 0 (oldest unacked)", last.StartFrame)
	}
	run, err := input.DecodeRun(last.Payload, last.BitLength, 1)
	if err != nil {
		t.Fatalf("decoding shipped run: %v", err)
	}
	if len(run) != 3 || run[2][0] != 3 {
		t.Fatalf("shipped run = %v", run)
	}

	// Ack do frame 1 aposenta os dois primeiros.
	h.peer.HandleMessage(InputAck{AckFrame: 1})
	if h.peer.PendingOutput() != 1 {
		t.Fatalf("pending after ack = %d, want 1", h.peer.PendingOutput())
	}
	if h.peer.LastAckedFrame() != 1 {
		t.Fatalf("last acked = %d, want 1", h.peer.LastAckedFrame())
	}
}

func TestPeer_ReceivesSequentialInputRuns(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)

	payload, bitLength, err := input.EncodeRun([][]byte{{1}, {2}, {3}})
	if err != nil {
		t.Fatalf("EncodeRun: %v", err)
	}
	h.peer.HandleMessage(Input{
		PeerConnectStatus: []types.ConnectionStatus{{LastFrame: 2}, {LastFrame: types.NullFrame}},
		StartFrame:        0,
		BitLength:         bitLength,
		Payload:           payload,
		AckFrame:          types.NullFrame,
	})

	received := h.peer.DrainInputs()
	if len(received) != 3 {
		t.Fatalf("accepted %d inputs, want 3", len(received))
	}
	for i, r := range received {
		if r.Handle != 1 || r.Input.Frame != types.Frame(i) || r.Input.Bits[0] != byte(i+1) {
			t.Fatalf("input %d = %+v", i, r)
		}
	}
	if h.peer.LastReceivedFrame() != 2 {
		t.Fatalf("last received = %d", h.peer.LastReceivedFrame())
	}

	// Retransmissão parcial: frames <= 2 são ignorados, novos entram.
	payload, bitLength, _ = input.EncodeRun([][]byte{{2}, {3}, {4}})
	h.peer.HandleMessage(Input{
		PeerConnectStatus: []types.ConnectionStatus{{LastFrame: 4}, {LastFrame: types.NullFrame}},
		StartFrame:        1,
		BitLength:         bitLength,
		Payload:           payload,
		AckFrame:          types.NullFrame,
	})
	received = h.peer.DrainInputs()
	if len(received) != 1 || received[0].Input.Frame != 3 {
		t.Fatalf("retransmission handling wrong: %+v", received)
	}
}

func TestPeer_RejectsFrameGaps(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)

	payload, bitLength, _ := input.EncodeRun([][]byte{{1}})
	h.peer.HandleMessage(Input{
		PeerConnectStatus: []types.ConnectionStatus{{}, {}},
		StartFrame:        0,
		BitLength:         bitLength,
		Payload:           payload,
		AckFrame:          types.NullFrame,
	})
	h.peer.DrainInputs()

	// Run começando além do próximo frame esperado: gap não compressível.
	h.peer.HandleMessage(Input{
		PeerConnectStatus: []types.ConnectionStatus{{}, {}},
		StartFrame:        10,
		BitLength:         bitLength,
		Payload:           payload,
		AckFrame:          types.NullFrame,
	})
	if got := h.peer.DrainInputs(); len(got) != 0 {
		t.Fatalf("gapped run accepted: %+v", got)
	}
	found := false
	for _, v := range h.ring.Recent(0) {
		if v.Kind == telemetry.KindFrameGapTooLarge {
			found = true
		}
	}
	if !found {
		t.Fatalf("frame gap not reported to telemetry")
	}
}

func TestPeer_QualityRoundTrip(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)

	// QualityReport recebido gera reply com o mesmo timestamp.
	h.peer.HandleMessage(QualityReport{FrameAdvantage: 4, PingTs: 1500})
	msgs := h.decodeOutbox(t)
	var reply *QualityReply
	for _, m := range msgs {
		if q, ok := m.(QualityReply); ok {
			reply = &q
		}
	}
	if reply == nil || reply.PongTs != 1500 {
		t.Fatalf("quality reply = %+v", reply)
	}
	if h.peer.RemoteFrameAdvantage() != 4 {
		t.Fatalf("remote advantage = %d", h.peer.RemoteFrameAdvantage())
	}

	// RTT medido contra o pong.
	h.clk.advance(2 * time.Second)
	h.guard.Now()
	h.peer.HandleMessage(QualityReply{PongTs: uint64((2*time.Second - 80*time.Millisecond) / time.Millisecond)})
	if got := h.peer.Rtt(); got != 80*time.Millisecond {
		t.Fatalf("rtt = %v, want 80ms", got)
	}
}

func TestPeer_RttNeverNegative(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)

	// Pong "do futuro" (regressão de relógio em algum lado): clampa em
	// zero e reporta Warning.
	h.peer.HandleMessage(QualityReply{PongTs: uint64((10 * time.Second) / time.Millisecond)})
	if got := h.peer.Rtt(); got != 0 {
		t.Fatalf("rtt = %v, want 0", got)
	}
	found := false
	for _, v := range h.ring.Recent(0) {
		if v.Kind == telemetry.KindClockRegression {
			found = true
		}
	}
	if !found {
		t.Fatalf("future pong not reported")
	}
}

func TestPeer_KeepAliveOnIdle(t *testing.T) {
	// Quality reports desligados para isolar o keep-alive: qualquer
	// mensagem de saída já serve de liveness.
	h := newPeerHarnessCfg(t, []types.PlayerHandle{1}, 2, Config{
		QualityReportInterval: time.Hour,
	})
	h.completeHandshake(t)
	h.decodeOutbox(t)

	h.clk.advance(DefaultKeepAliveInterval + time.Millisecond)
	h.peer.Poll(0, nil)
	msgs := h.decodeOutbox(t)
	foundKeepAlive := false
	for _, m := range msgs {
		if _, ok := m.(KeepAlive); ok {
			foundKeepAlive = true
		}
	}
	if !foundKeepAlive {
		t.Fatalf("idle peer did not send keep-alive: %+v", msgs)
	}
}

func TestPeer_DisconnectTimersAndShutdown(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)
	h.peer.DrainEvents()

	// Silêncio além do notify start: interrupção.
	h.clk.advance(DefaultDisconnectNotifyStart + time.Millisecond)
	h.peer.Poll(0, nil)
	events := h.peer.DrainEvents()
	if len(events) != 1 || events[0].Kind != EventNetworkInterrupted {
		t.Fatalf("expected NetworkInterrupted, got %+v", events)
	}

	// Peer volta: resumed.
	h.peer.HandleMessage(KeepAlive{})
	events = h.peer.DrainEvents()
	if len(events) != 1 || events[0].Kind != EventNetworkResumed {
		t.Fatalf("expected NetworkResumed, got %+v", events)
	}

	// Silêncio até o timeout: disconnected.
	h.clk.advance(DefaultDisconnectTimeout + time.Millisecond)
	h.peer.Poll(0, nil)
	events = h.peer.DrainEvents()
	foundDisconnect := false
	for _, ev := range events {
		if ev.Kind == EventDisconnected {
			foundDisconnect = true
		}
	}
	if !foundDisconnect || h.peer.CurrentState() != StateDisconnected {
		t.Fatalf("peer not disconnected: %v %+v", h.peer.CurrentState(), events)
	}

	// Shutdown timer.
	h.clk.advance(DefaultShutdownTimer + time.Millisecond)
	h.peer.Poll(0, nil)
	if h.peer.CurrentState() != StateShutdown {
		t.Fatalf("peer not shutdown: %v", h.peer.CurrentState())
	}
}

func TestPeer_DesyncDetection(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)
	h.peer.DrainEvents()

	local := hash.Sum128([]byte("local state"))
	remoteEqual := local
	remoteDiff := hash.Sum128([]byte("remote state"))

	// Checksums iguais: nada acontece.
	h.peer.AddLocalChecksum(30, local)
	h.peer.HandleMessage(ChecksumReport{Frame: 30, Checksum: remoteEqual})
	if events := h.peer.DrainEvents(); len(events) != 0 {
		t.Fatalf("matching checksums raised events: %+v", events)
	}

	// Relatório remoto chega antes do checksum local: comparação adiada.
	h.peer.HandleMessage(ChecksumReport{Frame: 60, Checksum: remoteDiff})
	if events := h.peer.DrainEvents(); len(events) != 0 {
		t.Fatalf("pending comparison fired early")
	}
	h.peer.AddLocalChecksum(60, local)
	events := h.peer.DrainEvents()
	if len(events) != 1 || events[0].Kind != EventDesyncDetected {
		t.Fatalf("expected DesyncDetected, got %+v", events)
	}
	if events[0].Frame != 60 || events[0].LocalChecksum != local || events[0].RemoteChecksum != remoteDiff {
		t.Fatalf("desync event fields wrong: %+v", events[0])
	}
}

func TestPeer_ChecksumHistoryBounded(t *testing.T) {
	h := newPeerHarness(t, []types.PlayerHandle{1}, 2)
	h.completeHandshake(t)

	for f := types.Frame(0); f < MaxChecksumHistory*2; f++ {
		h.peer.AddLocalChecksum(f, hash.Sum128([]byte{byte(f)}))
	}
	if len(h.peer.localChecksums) > MaxChecksumHistory {
		t.Fatalf("local checksum history unbounded: %d", len(h.peer.localChecksums))
	}
}
