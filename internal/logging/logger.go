// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package logging constrói os loggers slog das sessões de rollback. Além da
// construção a partir da configuração, enriquece cada registro com o frame
// corrente da simulação: num engine que volta no tempo, uma linha de log sem
// frame é quase inútil para depurar um rollback.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nishisan-dev/fortress-rollback/internal/types"
)

// Nop retorna um logger que descarta tudo. Default das sessões quando o
// host não injeta um logger nem configura logging.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// FromConfig cria um logger slog em os.Stderr a partir do par nível/formato
// da configuração de sessão. Nível vazio ou inválido vira info; formato
// "text" usa o handler de texto, qualquer outro valor usa JSON.
func FromConfig(level, format string) *slog.Logger {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		level = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// FrameSource fornece o frame corrente da simulação. A camada de
// sincronização implementa; sessões sem relógio próprio usam FrameFunc.
type FrameSource interface {
	CurrentFrame() types.Frame
}

// FrameFunc adapta uma função para FrameSource.
type FrameFunc func() types.Frame

// CurrentFrame implementa FrameSource.
func (f FrameFunc) CurrentFrame() types.Frame { return f() }

// WithFrame envolve o logger para que todo registro carregue o atributo
// "frame" com o valor corrente no instante do log. Durante um rollback o
// valor retrocede junto com a simulação, o que é exatamente o que se quer
// ver no log.
func WithFrame(logger *slog.Logger, src FrameSource) *slog.Logger {
	if src == nil {
		return logger
	}
	return slog.New(&frameHandler{inner: logger.Handler(), src: src})
}

// frameHandler injeta o frame corrente em cada registro no momento do
// Handle, não na construção: o mesmo logger serve antes, durante e depois
// de um rollback.
type frameHandler struct {
	inner slog.Handler
	src   FrameSource
}

func (h *frameHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *frameHandler) Handle(ctx context.Context, r slog.Record) error {
	frame := h.src.CurrentFrame()
	if frame == types.NullFrame {
		// Sessão ainda não simulou nada; o atributo seria ruído.
		return h.inner.Handle(ctx, r)
	}
	r = r.Clone()
	r.AddAttrs(slog.Int("frame", int(frame)))
	return h.inner.Handle(ctx, r)
}

func (h *frameHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &frameHandler{inner: h.inner.WithAttrs(attrs), src: h.src}
}

func (h *frameHandler) WithGroup(name string) slog.Handler {
	return &frameHandler{inner: h.inner.WithGroup(name), src: h.src}
}
