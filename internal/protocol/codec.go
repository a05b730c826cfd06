// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/nishisan-dev/fortress-rollback/internal/hash"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// Formato do wire: little-endian, larguras fixas, partes variáveis
// prefixadas por tamanho. Cabeçalho comum: [Magic 4B] [Version 1B]
// [Type 1B].

// Encode serializa uma mensagem com o cabeçalho comum.
func Encode(msg Message) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, MagicHeader[:]...)
	buf = append(buf, ProtocolVersion, byte(msg.Type()))

	switch m := msg.(type) {
	case SyncRequest:
		buf = binary.LittleEndian.AppendUint32(buf, m.Nonce)

	case SyncReply:
		buf = binary.LittleEndian.AppendUint32(buf, m.Nonce)

	case Input:
		if len(m.PeerConnectStatus) > 255 {
			return nil, fmt.Errorf("protocol: too many connect status entries: %d", len(m.PeerConnectStatus))
		}
		buf = append(buf, byte(len(m.PeerConnectStatus)))
		for _, st := range m.PeerConnectStatus {
			if st.Disconnected {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
			buf = binary.LittleEndian.AppendUint32(buf, uint32(st.LastFrame))
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.StartFrame))
		buf = binary.LittleEndian.AppendUint16(buf, m.BitLength)
		if len(m.Payload) > MaxDatagramSize-HeaderSize {
			return nil, ErrOversizePayload
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Payload)))
		buf = append(buf, m.Payload...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.AckFrame))
		if m.HasChecksum {
			buf = append(buf, 1)
			buf = m.Checksum.AppendWire(buf)
		} else {
			buf = append(buf, 0)
		}

	case InputAck:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.AckFrame))

	case QualityReport:
		buf = append(buf, byte(m.FrameAdvantage))
		// u128 no wire: 8 bytes baixos com o timestamp, 8 altos zerados.
		buf = binary.LittleEndian.AppendUint64(buf, m.PingTs)
		buf = binary.LittleEndian.AppendUint64(buf, 0)

	case QualityReply:
		buf = binary.LittleEndian.AppendUint64(buf, m.PongTs)
		buf = binary.LittleEndian.AppendUint64(buf, 0)

	case KeepAlive:
		// sem corpo

	case ChecksumReport:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Frame))
		buf = m.Checksum.AppendWire(buf)

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}

	if len(buf) > MaxDatagramSize {
		return nil, ErrOversizePayload
	}
	return buf, nil
}

// Decode valida o cabeçalho e desserializa o corpo.
func Decode(buf []byte) (Message, error) {
	if len(buf) < HeaderSize {
		return nil, ErrTruncatedFrame
	}
	if buf[0] != MagicHeader[0] || buf[1] != MagicHeader[1] || buf[2] != MagicHeader[2] || buf[3] != MagicHeader[3] {
		return nil, ErrInvalidMagic
	}
	if buf[4] != ProtocolVersion {
		return nil, ErrInvalidVersion
	}
	msgType := MsgType(buf[5])
	body := buf[HeaderSize:]

	switch msgType {
	case MsgSyncRequest:
		if len(body) < 4 {
			return nil, ErrTruncatedFrame
		}
		return SyncRequest{Nonce: binary.LittleEndian.Uint32(body)}, nil

	case MsgSyncReply:
		if len(body) < 4 {
			return nil, ErrTruncatedFrame
		}
		return SyncReply{Nonce: binary.LittleEndian.Uint32(body)}, nil

	case MsgInput:
		return decodeInput(body)

	case MsgInputAck:
		if len(body) < 4 {
			return nil, ErrTruncatedFrame
		}
		return InputAck{AckFrame: types.Frame(binary.LittleEndian.Uint32(body))}, nil

	case MsgQualityReport:
		if len(body) < 1+16 {
			return nil, ErrTruncatedFrame
		}
		return QualityReport{
			FrameAdvantage: int8(body[0]),
			PingTs:         binary.LittleEndian.Uint64(body[1:9]),
		}, nil

	case MsgQualityReply:
		if len(body) < 16 {
			return nil, ErrTruncatedFrame
		}
		return QualityReply{PongTs: binary.LittleEndian.Uint64(body[:8])}, nil

	case MsgKeepAlive:
		return KeepAlive{}, nil

	case MsgChecksumReport:
		if len(body) < 4+16 {
			return nil, ErrTruncatedFrame
		}
		return ChecksumReport{
			Frame:    types.Frame(binary.LittleEndian.Uint32(body[:4])),
			Checksum: hash.ChecksumFromWire(body[4:20]),
		}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownMessage, byte(msgType))
	}
}

func decodeInput(body []byte) (Message, error) {
	if len(body) < 1 {
		return nil, ErrTruncatedFrame
	}
	numStatus := int(body[0])
	off := 1
	if len(body) < off+numStatus*5 {
		return nil, ErrTruncatedFrame
	}
	statuses := make([]types.ConnectionStatus, numStatus)
	for i := 0; i < numStatus; i++ {
		statuses[i] = types.ConnectionStatus{
			Disconnected: body[off] == 1,
			LastFrame:    types.Frame(binary.LittleEndian.Uint32(body[off+1 : off+5])),
		}
		off += 5
	}

	if len(body) < off+4+2+2 {
		return nil, ErrTruncatedFrame
	}
	startFrame := types.Frame(binary.LittleEndian.Uint32(body[off : off+4]))
	off += 4
	bitLength := binary.LittleEndian.Uint16(body[off : off+2])
	off += 2
	payloadLen := int(binary.LittleEndian.Uint16(body[off : off+2]))
	off += 2
	if len(body) < off+payloadLen+4+1 {
		return nil, ErrTruncatedFrame
	}
	payload := append([]byte(nil), body[off:off+payloadLen]...)
	off += payloadLen
	ackFrame := types.Frame(binary.LittleEndian.Uint32(body[off : off+4]))
	off += 4

	msg := Input{
		PeerConnectStatus: statuses,
		StartFrame:        startFrame,
		BitLength:         bitLength,
		Payload:           payload,
		AckFrame:          ackFrame,
	}
	if body[off] == 1 {
		off++
		if len(body) < off+16 {
			return nil, ErrTruncatedFrame
		}
		msg.HasChecksum = true
		msg.Checksum = hash.ChecksumFromWire(body[off : off+16])
	}
	return msg, nil
}
