// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package clock define a fonte de tempo monotônico injetável usada pelos
// timers de protocolo (sync retry, keep-alive, disconnect, shutdown).
// Nenhum valor de relógio entra no caminho de estado do jogo.
package clock

import (
	"time"

	"github.com/nishisan-dev/fortress-rollback/internal/telemetry"
	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// Clock fornece o tempo decorrido desde uma época arbitrária. O valor deve
// ser monotônico; fontes que regridem são toleradas pelo Guard.
type Clock interface {
	Now() time.Duration
}

// System é o clock default, baseado no relógio monotônico do runtime.
type System struct {
	start time.Time
}

// NewSystem cria um clock do sistema ancorado no instante da chamada.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// Now retorna o tempo decorrido desde a construção.
func (s *System) Now() time.Duration {
	return time.Since(s.start)
}

// Guard envolve um Clock e protege os consumidores contra regressões: se a
// fonte voltar no tempo, o último valor observado é mantido e uma violação
// Warning é reportada. Elapsed a partir de um instante regressado conta
// como zero.
type Guard struct {
	source   Clock
	last     time.Duration
	reporter *telemetry.Reporter
}

// NewGuard cria um guard sobre a fonte fornecida.
func NewGuard(source Clock, reporter *telemetry.Reporter) *Guard {
	return &Guard{source: source, reporter: reporter}
}

// Now retorna o tempo da fonte, clampado para nunca regredir.
func (g *Guard) Now() time.Duration {
	now := g.source.Now()
	if now < g.last {
		g.reporter.Report(telemetry.Violation{
			Kind:     telemetry.KindClockRegression,
			Severity: telemetry.SeverityWarning,
			Detail:   "monotonic clock went backward; clamping",
			Frame:    types.NullFrame,
		})
		return g.last
	}
	g.last = now
	return now
}
