// Package winpipe links to a coordinator service over a Windows named pipe
// (addresses like `\\.\pipe\herdsman`). On other platforms every operation
// fails with ErrUnsupported.
package winpipe

import (
	"context"
	"net"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link"
)

type Link struct{}

func New() *Link { return &Link{} }

func (l *Link) Kind() link.Kind { return link.KindWinPipe }

func (l *Link) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return dial(ctx, addr)
}

func (l *Link) Listen(addr string) (net.Listener, error) {
	return listen(addr)
}
