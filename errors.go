// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	"errors"
	"fmt"
)

// Erros sentinela expostos ao host. Operações do core retornam valores de
// erro estruturados; subsistemas internos se recuperam localmente e emitem
// violações de telemetria em vez de falhar a chamada.
var (
	// ErrNotSynchronized indica operação que exige a sessão em Running.
	ErrNotSynchronized = errors.New("fortress: session not synchronized")
	// ErrPredictionThreshold indica janela de predição esgotada; o host
	// deve segurar a simulação e voltar a drenar a rede.
	ErrPredictionThreshold = errors.New("fortress: prediction threshold reached")
)

// InvalidRequestError indica violação do contrato de chamada ou da
// configuração.
type InvalidRequestError struct {
	Info string
}

func (e InvalidRequestError) Error() string {
	return fmt.Sprintf("fortress: invalid request: %s", e.Info)
}

// InvalidPlayerHandleError indica handle desconhecido ou com papel errado.
type InvalidPlayerHandleError struct {
	Handle PlayerHandle
	Max    int
}

func (e InvalidPlayerHandleError) Error() string {
	return fmt.Sprintf("fortress: invalid player handle %d (max %d)", e.Handle, e.Max)
}

// InvalidFrameError indica violação de aritmética ou ordenação de frames,
// incluindo a pré-condição estrita de load: só se carrega frame no
// passado, dentro da janela de predição.
type InvalidFrameError struct {
	Frame  Frame
	Reason string
}

func (e InvalidFrameError) Error() string {
	return fmt.Sprintf("fortress: invalid frame %d: %s", e.Frame, e.Reason)
}

// MissingInputError indica input confirmado ausente. É um bug interno:
// também é emitido à telemetria como Critical.
type MissingInputError struct {
	Handle PlayerHandle
	Frame  Frame
}

func (e MissingInputError) Error() string {
	return fmt.Sprintf("fortress: missing confirmed input for player %d at frame %d", e.Handle, e.Frame)
}

// DesyncError é retornado pela sessão de sync-test quando o replay produz
// um checksum diferente do registrado, provando que o estado do jogo (ou o
// checksum do host) não é determinístico.
type DesyncError struct {
	Frame          Frame
	FirstChecksum  Checksum
	SecondChecksum Checksum
}

func (e DesyncError) Error() string {
	return fmt.Sprintf("fortress: non-deterministic state detected at frame %d (%016x%016x != %016x%016x)",
		e.Frame, e.FirstChecksum.Hi, e.FirstChecksum.Lo, e.SecondChecksum.Hi, e.SecondChecksum.Lo)
}
