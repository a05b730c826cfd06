// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rollback

import (
	"errors"
	"fmt"

	"github.com/nishisan-dev/fortress-rollback/internal/input"
	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// Erros da camada de sincronização.
var (
	ErrPredictionThreshold = errors.New("synclayer: prediction window exhausted")
	ErrInvalidFrame        = errors.New("synclayer: invalid frame")
	ErrInvalidHandle       = errors.New("synclayer: invalid player handle")
	ErrStateGone           = errors.New("synclayer: no saved state for frame")
)

// SynchronizedInput é uma entrada de AdvanceFrame: os bytes de input de um
// jogador e a procedência deles.
type SynchronizedInput struct {
	Bits   []byte
	Status types.InputStatus
}

// Layer combina as filas de input e o ring de snapshots num stepper
// determinístico. Todas as decisões de save/load/advance saem daqui; a
// sessão apenas as converte em requests para o host.
type Layer struct {
	numPlayers    int
	inputSize     int
	maxPrediction int
	saveMode      types.SaveMode

	queues []*input.Queue
	saved  *SavedStates

	currentFrame       types.Frame
	lastConfirmedFrame types.Frame
	lastSavedFrame     types.Frame

	reporter *telemetry.Reporter
}

// NewLayer cria a camada para a sessão. queueLength e inputSize vêm da
// configuração; erros aqui são de construção e falham alto.
func NewLayer(numPlayers, inputSize, maxPrediction, queueLength int, saveMode types.SaveMode, compression SnapshotCompression, reporter *telemetry.Reporter) (*Layer, error) {
	if numPlayers < 1 {
		return nil, fmt.Errorf("synclayer: num players must be >= 1, got %d", numPlayers)
	}
	queues := make([]*input.Queue, numPlayers)
	for i := range queues {
		q, err := input.NewQueue(queueLength, inputSize, reporter)
		if err != nil {
			return nil, err
		}
		queues[i] = q
	}
	return &Layer{
		numPlayers:         numPlayers,
		inputSize:          inputSize,
		maxPrediction:      maxPrediction,
		saveMode:           saveMode,
		queues:             queues,
		saved:              NewSavedStates(maxPrediction, compression),
		currentFrame:       0,
		lastConfirmedFrame: types.NullFrame,
		lastSavedFrame:     types.NullFrame,
		reporter:           reporter,
	}, nil
}

// CurrentFrame retorna o frame corrente da simulação.
func (l *Layer) CurrentFrame() types.Frame { return l.currentFrame }

// LastConfirmedFrame retorna o horizonte confirmado.
func (l *Layer) LastConfirmedFrame() types.Frame { return l.lastConfirmedFrame }

// LastSavedFrame retorna o frame do snapshot mais recente.
func (l *Layer) LastSavedFrame() types.Frame { return l.lastSavedFrame }

// MaxPrediction retorna a janela de predição.
func (l *Layer) MaxPrediction() int { return l.maxPrediction }

// SaveMode retorna a política de snapshots.
func (l *Layer) SaveMode() types.SaveMode { return l.saveMode }

// SetFrameDelay configura o delay da fila do jogador.
func (l *Layer) SetFrameDelay(handle types.PlayerHandle, delay int) error {
	if handle < 0 || handle >= l.numPlayers {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	return l.queues[handle].SetFrameDelay(delay)
}

// PredictionExhausted indica se avançar mais um frame estouraria a janela
// de predição. Com max_prediction = 0 degrada para lockstep estrito: só
// avança com todos os inputs do frame corrente confirmados.
func (l *Layer) PredictionExhausted() bool {
	return l.currentFrame-l.lastConfirmedFrame > types.Frame(l.maxPrediction)
}

// AddLocalInput agenda o input local do frame corrente. Falha com
// ErrPredictionThreshold quando a janela está esgotada e com
// ErrInvalidFrame quando a fila rejeita o frame (não sequencial).
//
// A trava aqui é um frame mais folgada que a de avanço: o input do frame
// pendente ainda precisa entrar (e ser enviado aos peers) para que o
// lockstep destrave; só o avanço em si espera a confirmação.
func (l *Layer) AddLocalInput(handle types.PlayerHandle, bits []byte) (types.Frame, error) {
	if handle < 0 || handle >= l.numPlayers {
		return types.NullFrame, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	if l.currentFrame-l.lastConfirmedFrame > types.Frame(l.maxPrediction)+1 {
		return types.NullFrame, ErrPredictionThreshold
	}
	in := types.PlayerInput{Frame: l.currentFrame, Bits: bits}
	added := l.queues[handle].AddLocalInput(in)
	if added == types.NullFrame {
		return types.NullFrame, fmt.Errorf("%w: local input for frame %d rejected", ErrInvalidFrame, l.currentFrame)
	}
	return added, nil
}

// AddRemoteInput entrega um input autoritativo à fila do jogador. Inputs
// não sequenciais são ignorados pela fila (o protocolo já filtra
// duplicatas e gaps).
func (l *Layer) AddRemoteInput(handle types.PlayerHandle, in types.PlayerInput) {
	if handle < 0 || handle >= l.numPlayers {
		l.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindInternalInvariant,
			Severity: telemetry.SeverityCritical,
			Detail:   fmt.Sprintf("remote input routed to unknown handle %d", handle),
			Frame:    in.Frame,
		})
		return
	}
	l.queues[handle].AddRemoteInput(in)
}

// ConfirmedInput retorna o input confirmado do jogador no frame, ou
// ErrMissingInput se já saiu do ring.
func (l *Layer) ConfirmedInput(handle types.PlayerHandle, frame types.Frame) (types.PlayerInput, error) {
	if handle < 0 || handle >= l.numPlayers {
		return types.PlayerInput{}, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	return l.queues[handle].ConfirmedInput(frame)
}

// LastAddedFrame retorna o último frame adicionado na fila do jogador.
func (l *Layer) LastAddedFrame(handle types.PlayerHandle) types.Frame {
	if handle < 0 || handle >= l.numPlayers {
		return types.NullFrame
	}
	return l.queues[handle].LastAddedFrame()
}

// FirstStoredFrame retorna o frame mais antigo ainda retido na fila do
// jogador, ou NullFrame. Frames anteriores a ele nunca existiram (delay
// inicial) ou já foram aposentados pelo ring.
func (l *Layer) FirstStoredFrame(handle types.PlayerHandle) types.Frame {
	if handle < 0 || handle >= l.numPlayers {
		return types.NullFrame
	}
	q := l.queues[handle]
	if q.Length() == 0 {
		return types.NullFrame
	}
	return q.LastAddedFrame() - types.Frame(q.Length()) + 1
}

// SynchronizedInputs monta o vetor de inputs do frame corrente, um por
// jogador. Jogadores desconectados contribuem input zero com status
// Disconnected; os demais consultam a própria fila (confirmado ou predito).
func (l *Layer) SynchronizedInputs(status []types.ConnectionStatus) []SynchronizedInput {
	out := make([]SynchronizedInput, l.numPlayers)
	for p := 0; p < l.numPlayers; p++ {
		if status[p].Disconnected && l.currentFrame > status[p].LastFrame {
			out[p] = SynchronizedInput{
				Bits:   make([]byte, l.inputSize),
				Status: types.InputDisconnected,
			}
			continue
		}
		in, st := l.queues[p].Input(l.currentFrame)
		out[p] = SynchronizedInput{Bits: in.Bits, Status: st}
	}
	return out
}

// SaveCurrentState reserva a cell do frame corrente para o host depositar o
// snapshot. Marca last_saved_frame.
func (l *Layer) SaveCurrentState() (*Cell, types.Frame) {
	cell := l.saved.Reserve(l.currentFrame)
	l.lastSavedFrame = l.currentFrame
	return cell, l.currentFrame
}

// AdvanceFrame move o relógio da simulação um frame à frente.
func (l *Layer) AdvanceFrame() {
	l.currentFrame++
}

// LoadFrame valida e executa o retrocesso do relógio para frame.
// Pré-condição estrita: frame < current_frame e dentro da janela de
// predição. O caso degenerado frame == current_frame deve passar por
// SkipRollback, nunca por aqui.
func (l *Layer) LoadFrame(frame types.Frame) (*Cell, error) {
	if frame == types.NullFrame {
		return nil, fmt.Errorf("%w: cannot load null frame", ErrInvalidFrame)
	}
	if frame >= l.currentFrame {
		return nil, fmt.Errorf("%w: must load frame in the past (requested %d, current %d)",
			ErrInvalidFrame, frame, l.currentFrame)
	}
	if frame < l.currentFrame-types.Frame(l.maxPrediction) {
		return nil, fmt.Errorf("%w: frame %d outside rollback window (current %d, max prediction %d)",
			ErrInvalidFrame, frame, l.currentFrame, l.maxPrediction)
	}
	cell := l.saved.ByFrame(frame)
	if cell == nil {
		return nil, fmt.Errorf("%w: frame %d", ErrStateGone, frame)
	}
	l.currentFrame = frame
	return cell, nil
}

// SkipRollback descarta uma mispredição cujo alvo não está no passado
// (possível no arranque, quando a mispredição é aprendida no frame 0).
// Limpa as flags de predição e nada mais.
func (l *Layer) SkipRollback() {
	for _, q := range l.queues {
		q.ResetPrediction()
	}
}

// ResetPredictions limpa o ciclo de predição de todas as filas após o
// catch-up de um rollback.
func (l *Layer) ResetPredictions() {
	for _, q := range l.queues {
		q.ResetPrediction()
	}
}

// ForceRollback marca um alvo de rollback na fila do jogador, clampado à
// janela de predição corrente. Usado no disconnect: os frames simulados
// com predições do jogador desconectado são refeitos com input zero.
func (l *Layer) ForceRollback(handle types.PlayerHandle, frame types.Frame) {
	if handle < 0 || handle >= l.numPlayers {
		return
	}
	earliest := l.currentFrame - types.Frame(l.maxPrediction)
	if frame < earliest {
		frame = earliest
	}
	if frame < 0 {
		frame = 0
	}
	if frame >= l.currentFrame {
		return
	}
	l.queues[handle].ForceIncorrect(frame)
}

// SetLastConfirmedFrame avança o horizonte confirmado. Em modo sparse o
// ring fica autorizado a reutilizar slots mais antigos que o horizonte; em
// EveryFrame nenhum descarte extra acontece (a reutilização natural do ring
// já limita a retenção).
func (l *Layer) SetLastConfirmedFrame(frame types.Frame) {
	if frame < l.lastConfirmedFrame {
		// Horizonte nunca regride.
		return
	}
	l.lastConfirmedFrame = frame
}

// CheckSimulation retorna o menor first_incorrect_frame entre as filas, ou
// NullFrame quando nenhuma predição divergiu.
func (l *Layer) CheckSimulation() types.Frame {
	first := types.NullFrame
	for _, q := range l.queues {
		incorrect := q.FirstIncorrectFrame()
		if incorrect != types.NullFrame && (first == types.NullFrame || incorrect < first) {
			first = incorrect
		}
	}
	return first
}

// SparseLoadTarget escolhe, em modo sparse, o frame salvo mais recente <=
// target para servir de ponto de load. Em EveryFrame retorna o próprio
// target.
func (l *Layer) SparseLoadTarget(target types.Frame) types.Frame {
	if l.saveMode != types.SaveSparse {
		return target
	}
	saved := l.saved.LatestSavedAtOrBefore(target)
	if saved == types.NullFrame {
		return target
	}
	return saved
}

// StaleRollbackCheck valida o alvo de rollback contra a janela de descarte
// do modo sparse. Um alvo mais antigo que last_confirmed - max_prediction
// indica peer violando o protocolo; a violação é reportada e o alvo
// descartado (as filas envolvidas têm a predição resetada).
func (l *Layer) StaleRollbackCheck(target types.Frame) bool {
	if target == types.NullFrame {
		return true
	}
	if l.lastConfirmedFrame == types.NullFrame {
		return true
	}
	if target >= l.lastConfirmedFrame-types.Frame(l.maxPrediction) {
		return true
	}
	l.reporter.Report(telemetry.Violation{
		Kind:     telemetry.KindStaleRollbackTarget,
		Severity: telemetry.SeverityError,
		Detail:   fmt.Sprintf("rollback target %d older than confirmed horizon %d - %d", target, l.lastConfirmedFrame, l.maxPrediction),
		Frame:    target,
	})
	for _, q := range l.queues {
		if q.FirstIncorrectFrame() == target {
			q.ResetPrediction()
		}
	}
	return false
}

// NumPlayers retorna o número de jogadores ativos.
func (l *Layer) NumPlayers() int { return l.numPlayers }

// InputSize retorna o tamanho fixo dos inputs da sessão.
func (l *Layer) InputSize() int { return l.inputSize }

// SavedCell retorna a cell salva do frame, se ainda retida. Usado pelo
// sync-test para comparar checksums durante o replay.
func (l *Layer) SavedCell(frame types.Frame) *Cell {
	return l.saved.ByFrame(frame)
}
