// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	"errors"
	"testing"
	"time"

	"github.com/nishisan-dev/fortress-rollback/config"
)

func TestP2P_LockstepSanity(t *testing.T) {
	pair := newP2PPair(t, func() *config.SessionConfig { return testSessionConfig(0) })
	pair.synchronize(t)

	pair.inputA = func(f Frame) byte { return byte(f*2 + 1) }
	pair.inputB = func(f Frame) byte { return byte(f*2 + 2) }

	pair.runUntilFrame(t, 120, 2000)

	if pair.gameA.advances != 120 || pair.gameB.advances != 120 {
		t.Fatalf("advances a=%d b=%d, want 120 each", pair.gameA.advances, pair.gameB.advances)
	}
	if pair.gameA.loads != 0 || pair.gameB.loads != 0 {
		t.Fatalf("lockstep rolled back: a=%d b=%d loads", pair.gameA.loads, pair.gameB.loads)
	}
	csA, okA := pair.gameA.checksums[119]
	csB, okB := pair.gameB.checksums[119]
	if !okA || !okB {
		t.Fatalf("final frame not saved on both sides")
	}
	if csA != csB {
		t.Fatalf("lockstep diverged: %+v != %+v", csA, csB)
	}
}

func TestP2P_SingleMispredictionRollback(t *testing.T) {
	pair := newP2PPair(t, func() *config.SessionConfig { return testSessionConfig(8) })
	pair.synchronize(t)

	// A aperta UP exatamente no frame 10; antes disso, ambos em NONE, de
	// modo que B prediz NONE para A.
	const up = 0x10
	pair.inputA = func(f Frame) byte {
		if f == 10 {
			return up
		}
		return 0
	}

	pair.runUntilFrame(t, 10, 400)

	// Atraso de rede: os inputs de A param de chegar em B.
	pair.net.block(pair.addrA, pair.addrB)

	// A produz o frame 10 (UP) e segue; B avança até o frame local 14
	// predizendo NONE para A.
	for pair.a.CurrentFrame() < 14 {
		if err := pair.tick(t, 'a'); err != nil {
			t.Fatalf("a.tick: %v", err)
		}
	}
	for pair.b.CurrentFrame() < 14 {
		if err := pair.tick(t, 'b'); err != nil {
			t.Fatalf("b.tick: %v", err)
		}
	}

	// O frame 10 chega em B no frame local 14.
	pair.net.release(pair.addrA, pair.addrB)

	pair.b.PollRemoteClients()
	if err := pair.b.AddLocalInput(1, []byte{0}); err != nil {
		t.Fatalf("b.AddLocalInput: %v", err)
	}
	requests, err := pair.b.AdvanceFrame()
	if err != nil {
		t.Fatalf("b.AdvanceFrame: %v", err)
	}
	checkRequestOrdering(t, requests)

	// Forma esperada: LoadGameState(10), depois pares Save/Advance de 10
	// a 14.
	if requests[0].Kind != RequestLoadGameState || requests[0].Frame != 10 {
		t.Fatalf("first request = %+v, want LoadGameState(10)", requests[0])
	}
	wantPairs := []Frame{10, 11, 12, 13, 14}
	idx := 1
	for _, f := range wantPairs {
		if requests[idx].Kind != RequestSaveGameState || requests[idx].Frame != f {
			t.Fatalf("request %d = %+v, want SaveGameState(%d)", idx, requests[idx], f)
		}
		if requests[idx+1].Kind != RequestAdvanceFrame {
			t.Fatalf("request %d = %+v, want AdvanceFrame", idx+1, requests[idx+1])
		}
		idx += 2
	}
	if idx != len(requests) {
		t.Fatalf("unexpected trailing requests: %+v", requests[idx:])
	}
	pair.gameB.apply(t, requests)

	// A chega ao frame 15 e os estados do frame 14 coincidem.
	pair.runUntilFrame(t, 15, 400)
	csA, okA := pair.gameA.checksums[14]
	csB, okB := pair.gameB.checksums[14]
	if !okA || !okB || csA != csB {
		t.Fatalf("states diverged after rollback: %+v/%v %+v/%v", csA, okA, csB, okB)
	}
}

func TestP2P_PredictionWindowExhaustion(t *testing.T) {
	pair := newP2PPair(t, func() *config.SessionConfig { return testSessionConfig(8) })
	pair.synchronize(t)

	pair.inputA = func(f Frame) byte { return byte(f + 1) }
	pair.inputB = func(f Frame) byte { return byte(f + 1) }

	// B fica mudo desde o início: tudo que B envia fica retido.
	pair.net.block(pair.addrB, pair.addrA)

	// A avança max_prediction frames no escuro; o próximo avanço trava.
	stalls := 0
	for i := 0; i < 20; i++ {
		err := pair.tick(t, 'a')
		if errors.Is(err, ErrPredictionThreshold) {
			stalls++
			break
		}
		if err != nil {
			t.Fatalf("a.tick: %v", err)
		}
	}
	if stalls != 1 {
		t.Fatalf("prediction window never exhausted")
	}
	if got := pair.a.CurrentFrame(); got != 8 {
		t.Fatalf("a stalled at frame %d, want 8", got)
	}

	// B na verdade continuou simulando (recebe A normalmente).
	for pair.b.CurrentFrame() < 8 {
		if err := pair.tick(t, 'b'); err != nil && !errors.Is(err, ErrPredictionThreshold) {
			t.Fatalf("b.tick: %v", err)
		}
	}

	// B volta: A drena as mensagens e o avanço seguinte funciona.
	pair.net.release(pair.addrB, pair.addrA)
	pair.a.PollRemoteClients()
	if err := pair.tick(t, 'a'); err != nil {
		t.Fatalf("a.tick after recovery: %v", err)
	}

	// O catch-up converge para o mesmo estado de um par que nunca travou.
	pair.runUntilFrame(t, 20, 800)

	control := newP2PPair(t, func() *config.SessionConfig { return testSessionConfig(8) })
	control.synchronize(t)
	control.inputA = pair.inputA
	control.inputB = pair.inputB
	control.runUntilFrame(t, 20, 800)

	want, okW := control.gameA.checksums[19]
	gotA, okA := pair.gameA.checksums[19]
	gotB, okB := pair.gameB.checksums[19]
	if !okW || !okA || !okB {
		t.Fatalf("frame 19 not saved everywhere")
	}
	if gotA != want || gotB != want {
		t.Fatalf("stalled run diverged from control: %+v %+v want %+v", gotA, gotB, want)
	}
}

func TestP2P_DesyncDetection(t *testing.T) {
	cfgFor := func() *config.SessionConfig {
		cfg := testSessionConfig(8)
		cfg.DesyncInterval = 30
		return cfg
	}
	pair := newP2PPair(t, cfgFor)
	pair.synchronize(t)

	// O jogo de B diverge propositalmente no frame 60.
	pair.gameB.game.corruptAtFrame = 60

	pair.inputA = func(f Frame) byte { return byte(f) }
	pair.inputB = func(f Frame) byte { return byte(f + 3) }

	pair.runUntilFrame(t, 95, 2000)
	pair.drainEvents()

	findDesync := func(events []SessionEvent) *SessionEvent {
		for i := range events {
			if events[i].Kind == EventDesyncDetected {
				return &events[i]
			}
		}
		return nil
	}
	evA := findDesync(pair.eventsA)
	evB := findDesync(pair.eventsB)
	if evA == nil || evB == nil {
		t.Fatalf("desync not detected on both sides: a=%v b=%v", evA, evB)
	}
	// O checkpoint divergente é o frame 60.
	if evA.Frame != 60 || evB.Frame != 60 {
		t.Fatalf("desync frames = %d/%d, want 60", evA.Frame, evB.Frame)
	}
	if evA.LocalChecksum == evA.RemoteChecksum {
		t.Fatalf("desync event carries equal checksums")
	}
}

func TestP2P_ClockRegressionResilience(t *testing.T) {
	ring := NewTelemetryRing(32)
	pair := newP2PPair(t, func() *config.SessionConfig { return testSessionConfig(8) },
		WithTelemetryObserver(ring))
	pair.synchronize(t)

	pair.runUntilFrame(t, 5, 200)

	// O relógio de A volta 50ms e depois anda 10ms.
	pair.clockA.advance(100 * time.Millisecond)
	pair.a.PollRemoteClients()
	pair.clockA.now -= 50 * time.Millisecond
	pair.a.PollRemoteClients()
	pair.clockA.advance(10 * time.Millisecond)
	pair.a.PollRemoteClients()

	found := false
	for _, v := range ring.Recent(0) {
		if v.Kind == "clock_regression" && v.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("clock regression not reported")
	}

	// A sessão segue avançando e o RTT nunca fica negativo.
	if err := pair.tick(t, 'a'); err != nil && !errors.Is(err, ErrPredictionThreshold) {
		t.Fatalf("advance after regression: %v", err)
	}
	stats, err := pair.a.NetworkStats(1)
	if err != nil {
		t.Fatalf("NetworkStats: %v", err)
	}
	if stats.Rtt < 0 {
		t.Fatalf("negative rtt: %v", stats.Rtt)
	}
}

func TestP2P_SessionStateErrors(t *testing.T) {
	net := newLoopbackNet()
	sess, err := NewP2PSession(testSessionConfig(8), net.socket("10.0.0.1:7000"))
	if err != nil {
		t.Fatalf("NewP2PSession: %v", err)
	}
	if err := sess.AddLocalPlayer(0); err != nil {
		t.Fatalf("AddLocalPlayer: %v", err)
	}
	if err := sess.AddRemotePlayer(1, "10.0.0.2:7000"); err != nil {
		t.Fatalf("AddRemotePlayer: %v", err)
	}

	// Antes do Start/sincronização: NotSynchronized.
	if err := sess.AddLocalInput(0, []byte{1}); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("AddLocalInput before sync = %v", err)
	}
	if _, err := sess.AdvanceFrame(); !errors.Is(err, ErrNotSynchronized) {
		t.Fatalf("AdvanceFrame before sync = %v", err)
	}

	// Handle inválido.
	if err := sess.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var handleErr InvalidPlayerHandleError
	if err := sess.SetFrameDelay(9, 2); !errors.As(err, &handleErr) {
		t.Fatalf("SetFrameDelay(9) = %v", err)
	}
}

func TestP2P_DisconnectSubstitutesDefaultInputs(t *testing.T) {
	pair := newP2PPair(t, func() *config.SessionConfig { return testSessionConfig(8) })
	pair.synchronize(t)

	pair.inputA = func(f Frame) byte { return 5 }
	pair.inputB = func(f Frame) byte { return 9 }
	pair.runUntilFrame(t, 10, 400)

	if err := pair.a.DisconnectPlayer(1); err != nil {
		t.Fatalf("DisconnectPlayer: %v", err)
	}
	// Desconectar de novo é erro de contrato.
	if err := pair.a.DisconnectPlayer(1); err == nil {
		t.Fatalf("double disconnect accepted")
	}
	pair.drainEvents()

	// A segue sozinho: os inputs de B viram default (zero).
	for i := 0; i < 12; i++ {
		if err := pair.tick(t, 'a'); err != nil && !errors.Is(err, ErrPredictionThreshold) {
			t.Fatalf("a.tick after disconnect: %v", err)
		}
	}
	if pair.a.CurrentFrame() < 20 {
		t.Fatalf("a stuck after disconnect: frame %d", pair.a.CurrentFrame())
	}

	found := false
	for _, ev := range pair.eventsA {
		if ev.Kind == EventDisconnected {
			found = true
		}
	}
	if !found {
		t.Fatalf("no Disconnected event")
	}
}
