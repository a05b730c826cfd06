// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// PlayerType classifica um participante registrado.
type PlayerType uint8

const (
	PlayerLocal PlayerType = iota
	PlayerRemote
	PlayerSpectator
)

// Erros do registro de jogadores.
var (
	ErrHandleOutOfRange = errors.New("registry: player handle out of range")
	ErrHandleTaken      = errors.New("registry: player handle already registered")
	ErrNotRegistered    = errors.New("registry: player handle not registered")
)

type playerSlot struct {
	registered bool
	playerType PlayerType
	addr       string // vazio para jogadores locais
}

// Registry mantém os participantes da sessão indexados por handle.
// Back-references entre sessão e peers são sempre handles inteiros, nunca
// ponteiros cruzados.
type Registry struct {
	numPlayers int
	players    []playerSlot
	spectators []playerSlot
	// connectStatus é a visão local autoritativa: para jogadores locais, o
	// último frame de input enviado; para remotos, o último frame aceito.
	connectStatus []types.ConnectionStatus
}

// NewRegistry cria o registro para num_players jogadores ativos.
func NewRegistry(numPlayers int) *Registry {
	status := make([]types.ConnectionStatus, numPlayers)
	for i := range status {
		status[i] = types.ConnectionStatus{LastFrame: types.NullFrame}
	}
	return &Registry{
		numPlayers:    numPlayers,
		players:       make([]playerSlot, numPlayers),
		connectStatus: status,
	}
}

// NumPlayers retorna o número de jogadores ativos.
func (r *Registry) NumPlayers() int { return r.numPlayers }

// AddLocal registra um jogador local no handle.
func (r *Registry) AddLocal(handle types.PlayerHandle) error {
	return r.addPlayer(handle, PlayerLocal, "")
}

// AddRemote registra um jogador remoto no handle, dono em addr.
func (r *Registry) AddRemote(handle types.PlayerHandle, addr string) error {
	return r.addPlayer(handle, PlayerRemote, addr)
}

func (r *Registry) addPlayer(handle types.PlayerHandle, t PlayerType, addr string) error {
	if handle < 0 || handle >= r.numPlayers {
		return fmt.Errorf("%w: %d (num players %d)", ErrHandleOutOfRange, handle, r.numPlayers)
	}
	if r.players[handle].registered {
		return fmt.Errorf("%w: %d", ErrHandleTaken, handle)
	}
	r.players[handle] = playerSlot{registered: true, playerType: t, addr: addr}
	return nil
}

// AddSpectator registra um espectador e retorna o handle atribuído
// (num_players + índice).
func (r *Registry) AddSpectator(addr string) types.PlayerHandle {
	r.spectators = append(r.spectators, playerSlot{registered: true, playerType: PlayerSpectator, addr: addr})
	return r.numPlayers + len(r.spectators) - 1
}

// Complete indica se todos os handles de jogador foram registrados.
func (r *Registry) Complete() bool {
	for _, p := range r.players {
		if !p.registered {
			return false
		}
	}
	return true
}

// IsLocal indica se o handle é de um jogador local.
func (r *Registry) IsLocal(handle types.PlayerHandle) bool {
	return handle >= 0 && handle < r.numPlayers &&
		r.players[handle].registered && r.players[handle].playerType == PlayerLocal
}

// LocalHandles retorna os handles locais em ordem crescente.
func (r *Registry) LocalHandles() []types.PlayerHandle {
	var out []types.PlayerHandle
	for h, p := range r.players {
		if p.registered && p.playerType == PlayerLocal {
			out = append(out, h)
		}
	}
	return out
}

// RemoteEndpoints agrupa os handles remotos por endereço; os handles de cada
// endereço vêm em ordem crescente. O map em si não tem ordem de iteração.
func (r *Registry) RemoteEndpoints() map[string][]types.PlayerHandle {
	byAddr := make(map[string][]types.PlayerHandle)
	for h, p := range r.players {
		if p.registered && p.playerType == PlayerRemote {
			byAddr[p.addr] = append(byAddr[p.addr], h)
		}
	}
	for addr := range byAddr {
		sort.Ints(byAddr[addr])
	}
	return byAddr
}

// RemoteAddrsSorted retorna os endereços remotos únicos em ordem
// lexicográfica. Iteração sobre peers acontece sempre nesta ordem.
func (r *Registry) RemoteAddrsSorted() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.players {
		if p.registered && p.playerType == PlayerRemote && !seen[p.addr] {
			seen[p.addr] = true
			out = append(out, p.addr)
		}
	}
	sort.Strings(out)
	return out
}

// SpectatorAddrs retorna os endereços dos espectadores na ordem de
// registro.
func (r *Registry) SpectatorAddrs() []string {
	out := make([]string, len(r.spectators))
	for i, s := range r.spectators {
		out[i] = s.addr
	}
	return out
}

// ConnectStatus retorna o vetor local de connect status (mutável pela
// sessão).
func (r *Registry) ConnectStatus() []types.ConnectionStatus {
	return r.connectStatus
}

// SetLastFrame registra o último frame autoritativo conhecido do jogador.
func (r *Registry) SetLastFrame(handle types.PlayerHandle, frame types.Frame) {
	if handle < 0 || handle >= r.numPlayers {
		return
	}
	if frame > r.connectStatus[handle].LastFrame {
		r.connectStatus[handle].LastFrame = frame
	}
}

// SetDisconnected marca o jogador como desconectado.
func (r *Registry) SetDisconnected(handle types.PlayerHandle) error {
	if handle < 0 || handle >= r.numPlayers {
		return fmt.Errorf("%w: %d", ErrHandleOutOfRange, handle)
	}
	if !r.players[handle].registered {
		return fmt.Errorf("%w: %d", ErrNotRegistered, handle)
	}
	r.connectStatus[handle].Disconnected = true
	return nil
}

// AddrFor retorna o endereço do dono do handle remoto.
func (r *Registry) AddrFor(handle types.PlayerHandle) (string, bool) {
	if handle < 0 || handle >= r.numPlayers || !r.players[handle].registered {
		return "", false
	}
	if r.players[handle].playerType != PlayerRemote {
		return "", false
	}
	return r.players[handle].addr, true
}
