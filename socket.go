// Copyright (c) 2026 Nishisan. All rights reserved.
// Use of this source code is governed by the Fortress Rollback License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package fortress

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// Datagram é um pacote recebido com o endereço de origem.
type Datagram struct {
	Addr string
	Data []byte
}

// NonBlockingSocket é a interface mínima de transporte consumida pelas
// sessões: envio síncrono best-effort e drenagem imediata dos datagramas
// pendentes. Nenhuma chamada pode bloquear.
type NonBlockingSocket interface {
	// SendTo envia o datagrama para o endereço; retorna imediatamente.
	SendTo(addr string, data []byte)
	// Receive drena e retorna todos os datagramas pendentes.
	Receive() []Datagram
	// Close libera o transporte.
	Close() error
}

// UDPSocket implementa NonBlockingSocket sobre um socket UDP do sistema.
type UDPSocket struct {
	conn    *net.UDPConn
	readBuf []byte
	// cache de endereços resolvidos, preenchido sob demanda
	resolved map[string]*net.UDPAddr
}

// NewUDPSocket abre um socket UDP não-bloqueante em bindAddr
// (ex: "0.0.0.0:7000").
func NewUDPSocket(bindAddr string) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving bind address %s: %w", bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding udp socket on %s: %w", bindAddr, err)
	}
	return &UDPSocket{
		conn:     conn,
		readBuf:  make([]byte, 64*1024),
		resolved: make(map[string]*net.UDPAddr),
	}, nil
}

// LocalAddr retorna o endereço local efetivo do socket (útil com porta 0).
func (s *UDPSocket) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

// SendTo envia best-effort; erros de envio são silenciosos (UDP é lossy
// por natureza e o protocolo retransmite o que importa).
func (s *UDPSocket) SendTo(addr string, data []byte) {
	udpAddr, ok := s.resolved[addr]
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return
		}
		s.resolved[addr] = resolved
		udpAddr = resolved
	}
	_, _ = s.conn.WriteToUDP(data, udpAddr)
}

// Receive drena os datagramas pendentes sem bloquear: o deadline de
// leitura é o próprio instante corrente.
func (s *UDPSocket) Receive() []Datagram {
	var out []Datagram
	for {
		_ = s.conn.SetReadDeadline(time.Now())
		n, from, err := s.conn.ReadFromUDP(s.readBuf)
		if err != nil {
			return out
		}
		data := make([]byte, n)
		copy(data, s.readBuf[:n])
		out = append(out, Datagram{Addr: from.String(), Data: data})
	}
}

// Close fecha o socket.
func (s *UDPSocket) Close() error {
	return s.conn.Close()
}

// maxThrottleBurst limita o burst do token bucket ao tamanho de alguns
// datagramas cheios.
const maxThrottleBurst = 64 * 1024

// ThrottledSocket envolve um NonBlockingSocket com rate limiting de bytes
// por segundo (token bucket). Envios acima da taxa ficam numa fila curta,
// drenada a cada Receive; a fila cheia descarta os envios mais antigos
// (o protocolo retransmite inputs não confirmados).
type ThrottledSocket struct {
	inner   NonBlockingSocket
	limiter *rate.Limiter
	queue   []Datagram
	// queueCap limita a fila de envios adiados.
	queueCap int
}

// NewThrottledSocket cria o wrapper com a taxa máxima em bytes/segundo.
// Se bytesPerSec <= 0, retorna o socket original sem throttle (bypass).
func NewThrottledSocket(inner NonBlockingSocket, bytesPerSec int64) NonBlockingSocket {
	if bytesPerSec <= 0 {
		return inner
	}
	burst := int(bytesPerSec)
	if burst > maxThrottleBurst {
		burst = maxThrottleBurst
	}
	return &ThrottledSocket{
		inner:    inner,
		limiter:  rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		queueCap: 256,
	}
}

// SendTo envia imediatamente se houver tokens; caso contrário adia.
func (t *ThrottledSocket) SendTo(addr string, data []byte) {
	if len(t.queue) == 0 && t.limiter.AllowN(time.Now(), len(data)) {
		t.inner.SendTo(addr, data)
		return
	}
	if len(t.queue) >= t.queueCap {
		t.queue = t.queue[1:]
	}
	t.queue = append(t.queue, Datagram{Addr: addr, Data: data})
}

// Receive drena primeiro a fila adiada (na medida dos tokens) e então o
// socket interno.
func (t *ThrottledSocket) Receive() []Datagram {
	for len(t.queue) > 0 && t.limiter.AllowN(time.Now(), len(t.queue[0].Data)) {
		t.inner.SendTo(t.queue[0].Addr, t.queue[0].Data)
		t.queue = t.queue[1:]
	}
	return t.inner.Receive()
}

// Close fecha o socket interno.
func (t *ThrottledSocket) Close() error {
	return t.inner.Close()
}
