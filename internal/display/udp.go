package display

import (
	"fmt"
	"log/slog"
	"net"

	"plotwatch/internal/highlight"
	"plotwatch/internal/logger"
	"plotwatch/internal/metrics"
)

type udpConn interface {
	Write([]byte) (int, error)
	Close() error
}

type resolveUDPAddrFunc func(network, address string) (*net.UDPAddr, error)

type dialUDPFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// UDP sends one JSON datagram per event and alert.
type UDP struct {
	dest string
	conn udpConn
	log  *slog.Logger
}

func NewUDP(dest string, lg *slog.Logger) (*UDP, error) {
	return newUDP(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}, lg)
}

func newUDP(dest string, resolve resolveUDPAddrFunc, dial dialUDPFunc, lg *slog.Logger) (*UDP, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &UDP{
		dest: dest,
		conn: conn,
		log:  logger.Or(lg),
	}, nil
}

func (u *UDP) send(p Payload) {
	b, err := encode(p)
	if err == nil {
		_, err = u.conn.Write(b)
	}
	if err != nil {
		metrics.SinkFailuresTotal.WithLabelValues("udp").Inc()
		u.log.Warn("udp send failed", "dest", u.dest, "err", err)
	}
}

func (u *UDP) Render(ev highlight.Event) { u.send(EventPayload(ev)) }

func (u *UDP) Alert(n Notice) { u.send(AlertPayload(n)) }

func (u *UDP) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
