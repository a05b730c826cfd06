// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package hash fornece o checksum determinístico usado na detecção de
// desync. FNV-1a de 128 bits: estável entre plataformas, sem seed e sem
// dependência de ordem de iteração de maps.
package hash

import (
	"encoding/binary"
	"hash/fnv"
)

// Checksum é um hash FNV-1a de 128 bits representado como dois uint64.
type Checksum struct {
	Hi uint64
	Lo uint64
}

// Sum128 calcula o checksum FNV-1a de 128 bits dos bytes fornecidos.
func Sum128(data []byte) Checksum {
	h := fnv.New128a()
	h.Write(data)
	sum := h.Sum(nil)
	return Checksum{
		Hi: binary.BigEndian.Uint64(sum[:8]),
		Lo: binary.BigEndian.Uint64(sum[8:]),
	}
}

// IsZero indica se o checksum está vazio (nunca calculado).
func (c Checksum) IsZero() bool {
	return c.Hi == 0 && c.Lo == 0
}

// AppendWire serializa o checksum em 16 bytes little-endian (Lo, Hi),
// o layout usado nos frames Input e ChecksumReport.
func (c Checksum) AppendWire(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, c.Lo)
	dst = binary.LittleEndian.AppendUint64(dst, c.Hi)
	return dst
}

// ChecksumFromWire decodifica os 16 bytes little-endian produzidos por
// AppendWire. O slice deve ter pelo menos 16 bytes.
func ChecksumFromWire(src []byte) Checksum {
	return Checksum{
		Lo: binary.LittleEndian.Uint64(src[:8]),
		Hi: binary.LittleEndian.Uint64(src[8:16]),
	}
}
