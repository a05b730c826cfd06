// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rollback

// DefaultTimeSyncWindow é o tamanho default da janela de amostras de
// frame advantage.
const DefaultTimeSyncWindow = 40

// TimeSync suaviza a vantagem de frames entre os dois lados de uma conexão
// numa janela deslizante e recomenda quantos frames o lado local deve
// segurar para reequilibrar.
type TimeSync struct {
	local  []int32
	remote []int32
	idx    int
}

// NewTimeSync cria o acumulador com a janela fornecida (>= 1).
func NewTimeSync(window int) *TimeSync {
	if window < 1 {
		window = DefaultTimeSyncWindow
	}
	return &TimeSync{
		local:  make([]int32, window),
		remote: make([]int32, window),
	}
}

// Advance registra o par de amostras mais recente: a vantagem local medida
// e a reportada pelo peer no último QualityReport. Em ambas, positivo
// significa que o outro lado da conexão está à frente de quem mediu.
func (t *TimeSync) Advance(localAdvantage, remoteAdvantage int32) {
	t.local[t.idx] = localAdvantage
	t.remote[t.idx] = remoteAdvantage
	t.idx = (t.idx + 1) % len(t.local)
}

// RecommendedWait retorna quantos frames o lado local deveria estalar.
// Zero quando o local não está à frente do peer.
func (t *TimeSync) RecommendedWait() int32 {
	var localSum, remoteSum int32
	for i := range t.local {
		localSum += t.local[i]
		remoteSum += t.remote[i]
	}
	n := int32(len(t.local))
	localAvg := localSum / n
	remoteAvg := remoteSum / n

	if localAvg >= remoteAvg {
		return 0
	}
	// Divide a diferença: cada lado corrige metade do desequilíbrio.
	return (remoteAvg - localAvg) / 2
}
