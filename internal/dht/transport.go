package dht

import (
	"errors"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"
)

// ErrBandwidthExhausted classifies a send failure as transient backpressure
// (ENOBUFS, or a permission error some platforms raise under the same
// condition) rather than a fatal transport error: the caller should back
// off and retry, not tear down the socket.
var ErrBandwidthExhausted = errors.New("dht: bandwidth exhausted")

// transport is the thin UDP wrapper the KRPC layer frames messages on top
// of. Splitting it out of KRPC keeps wire framing (krpc.go) apart from the
// raw socket handling; KRPC holds this concrete type, so it always runs
// over a real UDP socket.
type transport struct {
	conn *net.UDPConn
}

func newTransport(listenAddr string) (*transport, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &transport{conn: conn}, nil
}

func (t *transport) localAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

func (t *transport) close() error {
	return t.conn.Close()
}

func (t *transport) writeTo(data []byte, addr *net.UDPAddr) error {
	_, err := t.conn.WriteToUDP(data, addr)
	return classifySendError(err)
}

func (t *transport) readFrom(buf []byte, deadline time.Duration) (int, *net.UDPAddr, error) {
	t.conn.SetReadDeadline(time.Now().Add(deadline))
	return t.conn.ReadFromUDP(buf)
}

// classifySendError recognizes the transient backpressure signals a UDP
// socket raises when the kernel send buffer is full or the process lacks
// permission to send at the current rate, turning both into
// ErrBandwidthExhausted so callers can treat them uniformly instead of as
// fatal transport errors.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, syscall.ENOBUFS) || errors.Is(err, os.ErrPermission) ||
		errors.Is(err, syscall.EACCES) {
		return ErrBandwidthExhausted
	}

	return err
}

func logSendError(logger *slog.Logger, err error, addr *net.UDPAddr) {
	if errors.Is(err, ErrBandwidthExhausted) {
		logger.Warn("bandwidth exhausted sending datagram", "to", addr)
		return
	}
	logger.Error("failed to send datagram", "to", addr, "error", err.Error())
}
