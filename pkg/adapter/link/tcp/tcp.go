// Package tcp links to a network-attached coordinator (ser2net style).
package tcp

import (
	"context"
	"net"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link"
)

type Link struct{}

func New() *Link { return &Link{} }

func (l *Link) Kind() link.Kind { return link.KindTCP }

func (l *Link) Dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

func (l *Link) Listen(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
