// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package protocol implementa o protocolo binário Fortress sobre UDP: o
// handshake de sincronização, o transporte de inputs comprimidos, medição
// de qualidade, keep-alive e relatórios de checksum para detecção de
// desync.
package protocol

import (
	"errors"

	"github.com/nishisan-dev/fortress-rollback/internal/hash"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// MagicHeader identifica datagramas do protocolo Fortress.
var MagicHeader = [4]byte{'F', 'R', 'T', 'S'}

// ProtocolVersion é a versão corrente do protocolo.
const ProtocolVersion byte = 0x01

// HeaderSize é o tamanho do cabeçalho comum: magic (4B) + version (1B) +
// tipo (1B).
const HeaderSize = 6

// MaxDatagramSize limita o tamanho de qualquer datagrama codificado.
// Payload de inputs no pior caso (64 inputs de 64 bytes sem compressão
// efetiva) mais cabeçalhos fixos cabe com folga.
const MaxDatagramSize = 9216

// MsgType identifica cada frame do protocolo.
type MsgType uint8

const (
	MsgSyncRequest MsgType = iota + 1
	MsgSyncReply
	MsgInput
	MsgInputAck
	MsgQualityReport
	MsgQualityReply
	MsgKeepAlive
	MsgChecksumReport
)

// Erros do protocolo.
var (
	ErrInvalidMagic    = errors.New("protocol: invalid magic bytes")
	ErrInvalidVersion  = errors.New("protocol: unsupported protocol version")
	ErrTruncatedFrame  = errors.New("protocol: truncated frame")
	ErrUnknownMessage  = errors.New("protocol: unknown message type")
	ErrOversizePayload = errors.New("protocol: payload exceeds max datagram size")
)

// Message é um frame decodificável do protocolo.
type Message interface {
	Type() MsgType
}

// SyncRequest abre (ou repete) o handshake. O nonce é aleatório por
// tentativa; respostas com nonce não emitido são descartadas, derrotando
// reflexão/replay de sessões anteriores.
type SyncRequest struct {
	Nonce uint32
}

func (SyncRequest) Type() MsgType { return MsgSyncRequest }

// SyncReply ecoa o nonce de um SyncRequest.
type SyncReply struct {
	Nonce uint32
}

func (SyncReply) Type() MsgType { return MsgSyncReply }

// Input transporta um run comprimido de inputs locais do remetente, o
// vetor de connect status que ele enxerga, o ack do último frame remoto
// aceito e, opcionalmente, o checksum do último frame do run (quando é um
// checkpoint de desync).
type Input struct {
	PeerConnectStatus []types.ConnectionStatus
	StartFrame        types.Frame
	BitLength         uint16
	Payload           []byte
	AckFrame          types.Frame
	HasChecksum       bool
	Checksum          hash.Checksum
}

func (Input) Type() MsgType { return MsgInput }

// InputAck confirma o último frame remoto aceito, permitindo ao peer
// aposentar entradas do buffer de retransmissão.
type InputAck struct {
	AckFrame types.Frame
}

func (InputAck) Type() MsgType { return MsgInputAck }

// QualityReport carrega a vantagem de frames local e um timestamp de ping
// monotônico (milissegundos, largura de 128 bits no wire).
type QualityReport struct {
	FrameAdvantage int8
	PingTs         uint64
}

func (QualityReport) Type() MsgType { return MsgQualityReport }

// QualityReply ecoa o timestamp do QualityReport; RTT = now - pong.
type QualityReply struct {
	PongTs uint64
}

func (QualityReply) Type() MsgType { return MsgQualityReply }

// KeepAlive impede o disconnect timer do peer de disparar quando não há
// outra mensagem a enviar.
type KeepAlive struct{}

func (KeepAlive) Type() MsgType { return MsgKeepAlive }

// ChecksumReport publica o checksum local de um frame checkpoint para
// comparação no peer.
type ChecksumReport struct {
	Frame    types.Frame
	Checksum hash.Checksum
}

func (ChecksumReport) Type() MsgType { return MsgChecksumReport }
