//go:build !windows

package winpipe

import (
	"context"
	"errors"
	"net"
)

// ErrUnsupported is returned on platforms without named pipes.
var ErrUnsupported = errors.New("winpipe link requires windows")

func dial(ctx context.Context, addr string) (net.Conn, error) {
	return nil, ErrUnsupported
}

func listen(addr string) (net.Listener, error) {
	return nil, ErrUnsupported
}
