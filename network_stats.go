// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	"time"

	"github.com/nishisan-dev/fortress-rollback/internal/diagnostics"
)

// NetworkStats expõe as métricas da conexão com o peer que controla um
// jogador.
type NetworkStats struct {
	// Rtt é a estimativa corrente de round-trip.
	Rtt time.Duration
	// SendQueueLen é o número de frames locais aguardando ack.
	SendQueueLen int
	// LastAckedFrame é o último frame local confirmado pelo peer.
	LastAckedFrame Frame
	// LastReceivedFrame é o último frame aceito do peer.
	LastReceivedFrame Frame
	// LocalFrameAdvantage é a vantagem local medida (frames à frente do
	// peer, descontada metade do RTT).
	LocalFrameAdvantage int
	// RemoteFrameAdvantage é a última vantagem reportada pelo peer.
	RemoteFrameAdvantage int
	// RecommendedWait é a recomendação suavizada de stall em frames.
	RecommendedWait int
}

// HostStats expõe as métricas de host coletadas pelo monitor opcional.
type HostStats = diagnostics.HostStats
