// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package diagnostics coleta métricas do host para as sessões de rollback.
// Um host saturado estoura o orçamento de frame e produz stalls que parecem
// problema de rede; expor CPU/memória/load ao lado das métricas de conexão
// deixa o embedder separar as duas causas.
//
// A coleta é cooperativa: nada de goroutine nem ticker. A sessão chama
// Sample a cada poll com o relógio monotônico injetado e o sampler só toca
// o gopsutil quando a cadência vence. Isso mantém o modelo de thread única
// do engine e garante que nenhuma amostragem acontece no meio de um
// rollback sem a sessão saber.
package diagnostics

import (
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// DefaultCadence é o intervalo mínimo default entre amostras.
const DefaultCadence = 15 * time.Second

// HostStats é uma amostra das métricas do host. SampledAt usa o relógio
// monotônico da sessão, comparável com os timers de protocolo.
type HostStats struct {
	CPUPercent    float64
	MemoryPercent float64
	LoadAverage   float64
	SampledAt     time.Duration
}

// Sampler amostra o host sob demanda, respeitando uma cadência mínima.
// Pertence à thread da sessão; não há locking.
type Sampler struct {
	logger  *slog.Logger
	cadence time.Duration

	last    time.Duration
	stats   HostStats
	sampled bool
}

// NewSampler cria o sampler com a cadência fornecida (DefaultCadence quando
// zero ou negativa).
func NewSampler(logger *slog.Logger, cadence time.Duration) *Sampler {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return &Sampler{
		logger:  logger.With("component", "host_sampler"),
		cadence: cadence,
	}
}

// Sample atualiza a amostra se a cadência venceu e retorna a mais recente.
// now é o relógio monotônico da sessão. Falhas de coleta viram log de
// debug e zero no campo correspondente; nunca interrompem o loop.
func (s *Sampler) Sample(now time.Duration) HostStats {
	if s.sampled && now-s.last < s.cadence {
		return s.stats
	}
	s.last = now
	s.sampled = true

	stats := HostStats{SampledAt: now}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	} else {
		s.logger.Debug("cpu sample failed", "error", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = vm.UsedPercent
	} else {
		s.logger.Debug("memory sample failed", "error", err)
	}
	if avg, err := load.Avg(); err == nil {
		stats.LoadAverage = avg.Load1
	} else {
		s.logger.Debug("load sample failed", "error", err)
	}

	s.stats = stats
	return s.stats
}

// Latest retorna a última amostra coletada; ok=false antes da primeira.
func (s *Sampler) Latest() (HostStats, bool) {
	return s.stats, s.sampled
}
