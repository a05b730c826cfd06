// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

// RequestKind identifica cada instrução emitida por AdvanceFrame.
type RequestKind uint8

const (
	// RequestLoadGameState pede ao host restaurar completamente o
	// snapshot da cell.
	RequestLoadGameState RequestKind = iota
	// RequestSaveGameState pede ao host depositar o snapshot (e o
	// checksum, com detecção de desync ligada) na cell.
	RequestSaveGameState
	// RequestAdvanceFrame pede ao host simular um passo com os inputs
	// fornecidos, tratando entradas Disconnected como "sem input".
	RequestAdvanceFrame
)

func (k RequestKind) String() string {
	switch k {
	case RequestLoadGameState:
		return "load_game_state"
	case RequestSaveGameState:
		return "save_game_state"
	case RequestAdvanceFrame:
		return "advance_frame"
	default:
		return "unknown"
	}
}

// Request é uma instrução da sessão para o host. A sequência retornada por
// AdvanceFrame deve ser executada na ordem, sem intercalação: Load (se
// presente) vem primeiro, e cada Save(f) precede imediatamente o
// AdvanceFrame do mesmo f.
type Request struct {
	Kind RequestKind
	// Frame da instrução (Load e Save).
	Frame Frame
	// Cell recebe (Save) ou fornece (Load) o snapshot.
	Cell *StateCell
	// Inputs do passo de simulação (AdvanceFrame), um por jogador.
	Inputs []SynchronizedInput
}
