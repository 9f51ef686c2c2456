//go:build windows

package winpipe

import (
	"context"
	"net"

	winio "github.com/Microsoft/go-winio"
)

func dial(ctx context.Context, addr string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, addr)
}

func listen(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, nil)
}
