// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package rollback implementa a camada de sincronização determinística:
// filas de input por jogador, ring de snapshots e o relógio de frames que
// decide quando salvar, avançar e voltar a simulação.
package rollback

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/nishisan-dev/fortress-rollback/internal/hash"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// SnapshotCompression controla como os bytes de snapshot são retidos em
// memória dentro das cells.
type SnapshotCompression uint8

const (
	// SnapshotRaw mantém os bytes como depositados.
	SnapshotRaw SnapshotCompression = iota
	// SnapshotZstd comprime os bytes com zstd ao salvar e descomprime ao
	// carregar. Transparente para o host: Load devolve bytes idênticos aos
	// depositados.
	SnapshotZstd
)

// zstd encoder/decoder compartilhados. EncodeAll/DecodeAll são seguros para
// uso concorrente.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Cell é o slot de snapshot compartilhável entre threads: o host pode
// depositar o estado serializado a partir de uma thread de serialização em
// background. Escritor exclusivo, múltiplos leitores; o lock nunca é retido
// através de outros locks ou chamadas de socket.
type Cell struct {
	mu          sync.Mutex
	frame       types.Frame
	data        []byte
	compressed  bool
	checksum    hash.Checksum
	hasSnapshot bool
	compression SnapshotCompression
}

// Frame retorna o frame reservado para esta cell.
func (c *Cell) Frame() types.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Save deposita o snapshot do host. checksum zerado significa "sem
// checksum" (detecção de desync desligada ou host sem hash próprio).
func (c *Cell) Save(data []byte, checksum hash.Checksum) {
	stored := data
	compressed := false
	if c.compression == SnapshotZstd && len(data) > 0 {
		stored = zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		compressed = true
	} else if data != nil {
		stored = append([]byte(nil), data...)
	}

	c.mu.Lock()
	c.data = stored
	c.compressed = compressed
	c.checksum = checksum
	c.hasSnapshot = true
	c.mu.Unlock()
}

// SaveWithHash deposita o snapshot calculando o checksum FNV-1a de 128 bits
// dos próprios bytes.
func (c *Cell) SaveWithHash(data []byte) {
	c.Save(data, hash.Sum128(data))
}

// Load devolve uma cópia dos bytes depositados e o checksum. ok=false se a
// cell nunca recebeu snapshot (reservada mas não preenchida).
func (c *Cell) Load() (data []byte, checksum hash.Checksum, ok bool) {
	c.mu.Lock()
	stored := c.data
	compressed := c.compressed
	checksum = c.checksum
	ok = c.hasSnapshot
	c.mu.Unlock()

	if !ok {
		return nil, hash.Checksum{}, false
	}
	if compressed {
		out, err := zstdDecoder.DecodeAll(stored, nil)
		if err != nil {
			// Snapshot irrecuperável equivale a cell vazia; o chamador
			// reporta a violação.
			return nil, hash.Checksum{}, false
		}
		return out, checksum, true
	}
	return append([]byte(nil), stored...), checksum, true
}

// Checksum retorna o checksum depositado sem copiar o snapshot.
func (c *Cell) Checksum() (hash.Checksum, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checksum, c.hasSnapshot
}

// reset reaproveita a cell para um novo frame, invalidando o conteúdo
// anterior.
func (c *Cell) reset(frame types.Frame) {
	c.mu.Lock()
	c.frame = frame
	c.data = nil
	c.compressed = false
	c.checksum = hash.Checksum{}
	c.hasSnapshot = false
	c.mu.Unlock()
}

// SavedStates é o ring de snapshots indexado por frame mod capacidade.
// Capacidade = max_prediction + 2: janela de rollback completa mais o frame
// corrente e o slot sendo reescrito.
type SavedStates struct {
	cells       []*Cell
	compression SnapshotCompression
}

// NewSavedStates cria o ring para a janela de predição fornecida.
func NewSavedStates(maxPrediction int, compression SnapshotCompression) *SavedStates {
	capacity := maxPrediction + 2
	cells := make([]*Cell, capacity)
	for i := range cells {
		cells[i] = &Cell{frame: types.NullFrame, compression: compression}
	}
	return &SavedStates{cells: cells, compression: compression}
}

// Reserve prepara e retorna a cell para o frame, invalidando o ocupante
// anterior do slot. Se o slot já pertence ao próprio frame, o snapshot
// retido é preservado até o host depositar o novo: o LoadGameState de um
// rollback lê essa mesma cell antes do SaveGameState que a regrava.
func (s *SavedStates) Reserve(frame types.Frame) *Cell {
	cell := s.cells[s.index(frame)]
	if cell.Frame() != frame {
		cell.reset(frame)
	}
	return cell
}

// ByFrame retorna a cell do frame, ou nil se o slot foi reutilizado por
// outro frame.
func (s *SavedStates) ByFrame(frame types.Frame) *Cell {
	if frame == types.NullFrame {
		return nil
	}
	cell := s.cells[s.index(frame)]
	if cell.Frame() != frame {
		return nil
	}
	return cell
}

// LatestSavedAtOrBefore retorna o frame salvo mais recente <= frame, ou
// NullFrame. Usado pelo modo sparse para escolher o ponto de load.
func (s *SavedStates) LatestSavedAtOrBefore(frame types.Frame) types.Frame {
	best := types.NullFrame
	for _, cell := range s.cells {
		cell.mu.Lock()
		f, has := cell.frame, cell.hasSnapshot
		cell.mu.Unlock()
		if has && f != types.NullFrame && f <= frame && f > best {
			best = f
		}
	}
	return best
}

// index é total: frames negativos (que nunca chegam aqui por contrato)
// ainda mapeiam para um slot válido em vez de derrubar o processo.
func (s *SavedStates) index(frame types.Frame) int {
	c := len(s.cells)
	return ((int(frame) % c) + c) % c
}
