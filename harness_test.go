// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/nishisan-dev/fortress-rollback/config"
)

// loopbackNet é uma malha UDP em memória, sem perdas, com suspensão de
// links para simular atraso de entrega.
type loopbackNet struct {
	mailboxes map[string][]Datagram
	blocked   map[string]bool
	parked    map[string][]parkedDatagram
}

type parkedDatagram struct {
	to string
	d  Datagram
}

func newLoopbackNet() *loopbackNet {
	return &loopbackNet{
		mailboxes: make(map[string][]Datagram),
		blocked:   make(map[string]bool),
		parked:    make(map[string][]parkedDatagram),
	}
}

func linkKey(from, to string) string { return from + "->" + to }

// block suspende a entrega de from para to; os datagramas ficam retidos.
func (n *loopbackNet) block(from, to string) {
	n.blocked[linkKey(from, to)] = true
}

// release libera o link e entrega tudo que estava retido, em ordem.
func (n *loopbackNet) release(from, to string) {
	key := linkKey(from, to)
	n.blocked[key] = false
	for _, p := range n.parked[key] {
		n.mailboxes[p.to] = append(n.mailboxes[p.to], p.d)
	}
	n.parked[key] = nil
}

type loopbackSocket struct {
	net  *loopbackNet
	addr string
}

func (n *loopbackNet) socket(addr string) *loopbackSocket {
	return &loopbackSocket{net: n, addr: addr}
}

func (s *loopbackSocket) SendTo(addr string, data []byte) {
	d := Datagram{Addr: s.addr, Data: append([]byte(nil), data...)}
	key := linkKey(s.addr, addr)
	if s.net.blocked[key] {
		s.net.parked[key] = append(s.net.parked[key], parkedDatagram{to: addr, d: d})
		return
	}
	s.net.mailboxes[addr] = append(s.net.mailboxes[addr], d)
}

func (s *loopbackSocket) Receive() []Datagram {
	out := s.net.mailboxes[s.addr]
	s.net.mailboxes[s.addr] = nil
	return out
}

func (s *loopbackSocket) Close() error { return nil }

// manualClock é a fonte de tempo injetada nos testes.
type manualClock struct {
	now time.Duration
}

func (c *manualClock) Now() time.Duration { return c.now }

func (c *manualClock) advance(d time.Duration) { c.now += d }

// toyGame é o jogo determinístico dos testes end-to-end: um acumulador
// misturando os inputs de todos os jogadores por frame.
type toyGame struct {
	frame int32
	x     uint64
	// hiddenEnabled simula o bug clássico de estado fora do snapshot: o
	// contador participa da simulação mas não é serializado.
	hiddenEnabled bool
	hidden        uint64
	// corruptAtFrame injeta divergência proposital num frame (testes de
	// desync); 0 desliga.
	corruptAtFrame int32
}

func (g *toyGame) step(inputs []SynchronizedInput) {
	g.frame++
	for p, in := range inputs {
		g.x = g.x*31 + uint64(p) + 7
		for _, b := range in.Bits {
			g.x = g.x*31 + uint64(b) + 1
		}
	}
	if g.hiddenEnabled {
		g.hidden++
		g.x += g.hidden
	}
	if g.corruptAtFrame != 0 && g.frame == g.corruptAtFrame {
		g.x += 0xBAD
	}
}

func (g *toyGame) serialize() []byte {
	out := make([]byte, 12)
	binary.LittleEndian.PutUint32(out[:4], uint32(g.frame))
	binary.LittleEndian.PutUint64(out[4:], g.x)
	return out
}

func (g *toyGame) restore(data []byte) {
	g.frame = int32(binary.LittleEndian.Uint32(data[:4]))
	g.x = binary.LittleEndian.Uint64(data[4:])
}

// gameHarness executa o stream de requests e registra os checksums
// depositados por frame.
type gameHarness struct {
	game      *toyGame
	checksums map[Frame]Checksum
	advances  int
	loads     int
	saves     int
}

func newGameHarness() *gameHarness {
	return &gameHarness{
		game:      &toyGame{},
		checksums: make(map[Frame]Checksum),
	}
}

func (h *gameHarness) apply(t *testing.T, requests []Request) {
	t.Helper()
	for _, r := range requests {
		switch r.Kind {
		case RequestSaveGameState:
			data := h.game.serialize()
			cs := ChecksumOf(data)
			r.Cell.Save(data, cs)
			h.checksums[r.Frame] = cs
			h.saves++
		case RequestLoadGameState:
			data, _, ok := r.Cell.Load()
			if !ok {
				t.Fatalf("LoadGameState(%d) without snapshot", r.Frame)
			}
			h.game.restore(data)
			h.loads++
		case RequestAdvanceFrame:
			h.game.step(r.Inputs)
			h.advances++
		}
	}
}

// checkRequestOrdering valida as propriedades de ordenação do stream: Load
// primeiro (quando presente) e cada Save imediatamente seguido do Advance
// do mesmo frame.
func checkRequestOrdering(t *testing.T, requests []Request) {
	t.Helper()
	for i, r := range requests {
		if r.Kind == RequestLoadGameState && i != 0 {
			t.Fatalf("LoadGameState at position %d, must be first", i)
		}
		if r.Kind == RequestSaveGameState {
			if i+1 >= len(requests) || requests[i+1].Kind != RequestAdvanceFrame {
				t.Fatalf("SaveGameState(%d) not followed by AdvanceFrame", r.Frame)
			}
		}
	}
}

func testSessionConfig(maxPrediction int) *config.SessionConfig {
	mp := maxPrediction
	return &config.SessionConfig{
		NumPlayers:    2,
		InputSize:     1,
		MaxPrediction: &mp,
	}
}

// p2pPair é um par de sessões conectadas pela malha em memória.
type p2pPair struct {
	net     *loopbackNet
	clockA  *manualClock
	clockB  *manualClock
	a, b    *P2PSession
	gameA   *gameHarness
	gameB   *gameHarness
	eventsA []SessionEvent
	eventsB []SessionEvent
	// inputA/inputB produzem o input local em função do frame corrente.
	inputA func(Frame) byte
	inputB func(Frame) byte
	addrA  string
	addrB  string
}

func newP2PPair(t *testing.T, cfgFor func() *config.SessionConfig, opts ...SessionOption) *p2pPair {
	t.Helper()
	pair := &p2pPair{
		net:    newLoopbackNet(),
		clockA: &manualClock{},
		clockB: &manualClock{},
		gameA:  newGameHarness(),
		gameB:  newGameHarness(),
		inputA: func(Frame) byte { return 0 },
		inputB: func(Frame) byte { return 0 },
		addrA:  "10.0.0.1:7000",
		addrB:  "10.0.0.2:7000",
	}

	optsA := append([]SessionOption{WithClock(pair.clockA)}, opts...)
	optsB := append([]SessionOption{WithClock(pair.clockB)}, opts...)

	a, err := NewP2PSession(cfgFor(), pair.net.socket(pair.addrA), optsA...)
	if err != nil {
		t.Fatalf("NewP2PSession(a): %v", err)
	}
	b, err := NewP2PSession(cfgFor(), pair.net.socket(pair.addrB), optsB...)
	if err != nil {
		t.Fatalf("NewP2PSession(b): %v", err)
	}
	pair.a, pair.b = a, b

	if err := a.AddLocalPlayer(0); err != nil {
		t.Fatalf("a.AddLocalPlayer: %v", err)
	}
	if err := a.AddRemotePlayer(1, pair.addrB); err != nil {
		t.Fatalf("a.AddRemotePlayer: %v", err)
	}
	if err := b.AddLocalPlayer(1); err != nil {
		t.Fatalf("b.AddLocalPlayer: %v", err)
	}
	if err := b.AddRemotePlayer(0, pair.addrA); err != nil {
		t.Fatalf("b.AddRemotePlayer: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	return pair
}

// synchronize troca pacotes até as duas sessões estarem Running.
func (p *p2pPair) synchronize(t *testing.T) {
	t.Helper()
	for i := 0; i < 40; i++ {
		p.a.PollRemoteClients()
		p.b.PollRemoteClients()
		p.drainEvents()
		if p.a.state == sessionRunning && p.b.state == sessionRunning {
			return
		}
	}
	t.Fatalf("sessions did not synchronize: a=%v b=%v", p.a.state, p.b.state)
}

func (p *p2pPair) drainEvents() {
	p.eventsA = append(p.eventsA, p.a.Events()...)
	p.eventsB = append(p.eventsB, p.b.Events()...)
}

// tick roda um passo de host para uma das sessões; retorna o erro do
// AdvanceFrame (nil quando avançou).
func (p *p2pPair) tick(t *testing.T, side byte) error {
	t.Helper()
	var (
		sess  *P2PSession
		game  *gameHarness
		local PlayerHandle
		input func(Frame) byte
	)
	if side == 'a' {
		sess, game, local, input = p.a, p.gameA, 0, p.inputA
	} else {
		sess, game, local, input = p.b, p.gameB, 1, p.inputB
	}

	sess.PollRemoteClients()
	p.drainEvents()

	if err := sess.AddLocalInput(local, []byte{input(sess.CurrentFrame())}); err != nil {
		return err
	}
	requests, err := sess.AdvanceFrame()
	if err != nil {
		return err
	}
	checkRequestOrdering(t, requests)
	game.apply(t, requests)
	return nil
}

// runUntilFrame alterna ticks até as duas simulações alcançarem o frame
// alvo.
func (p *p2pPair) runUntilFrame(t *testing.T, target Frame, maxRounds int) {
	t.Helper()
	for i := 0; i < maxRounds; i++ {
		if p.a.CurrentFrame() < target {
			if err := p.tick(t, 'a'); err != nil && err != ErrPredictionThreshold {
				t.Fatalf("a.tick: %v", err)
			}
		}
		if p.b.CurrentFrame() < target {
			if err := p.tick(t, 'b'); err != nil && err != ErrPredictionThreshold {
				t.Fatalf("b.tick: %v", err)
			}
		}
		if p.a.CurrentFrame() >= target && p.b.CurrentFrame() >= target {
			return
		}
	}
	t.Fatalf("simulations stuck: a=%d b=%d target=%d",
		p.a.CurrentFrame(), p.b.CurrentFrame(), target)
}
