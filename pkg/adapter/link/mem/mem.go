// Package mem provides in-process links over net.Pipe, with a named
// listener registry so a simulated coordinator and a host can find each
// other without touching the network. Used by tests and the simulator.
package mem

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link"
)

var (
	mu        sync.Mutex
	listeners = map[string]*listener{}
)

type Link struct{}

func New() *Link { return &Link{} }

func (l *Link) Kind() link.Kind { return link.KindMem }

func (l *Link) Dial(ctx context.Context, addr string) (net.Conn, error) {
	mu.Lock()
	ln := listeners[addr]
	mu.Unlock()
	if ln == nil {
		return nil, fmt.Errorf("mem link: no listener named %q", addr)
	}
	host, coord := net.Pipe()
	select {
	case ln.conns <- coord:
		return host, nil
	case <-ln.done:
		host.Close()
		return nil, fmt.Errorf("mem link: listener %q closed", addr)
	case <-ctx.Done():
		host.Close()
		return nil, ctx.Err()
	}
}

func (l *Link) Listen(addr string) (net.Listener, error) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := listeners[addr]; ok {
		return nil, fmt.Errorf("mem link: listener %q already exists", addr)
	}
	ln := &listener{
		name:  addr,
		conns: make(chan net.Conn),
		done:  make(chan struct{}),
	}
	listeners[addr] = ln
	return ln, nil
}

type listener struct {
	name      string
	conns     chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (ln *listener) Accept() (net.Conn, error) {
	select {
	case c := <-ln.conns:
		return c, nil
	case <-ln.done:
		return nil, net.ErrClosed
	}
}

func (ln *listener) Close() error {
	ln.closeOnce.Do(func() {
		close(ln.done)
		mu.Lock()
		delete(listeners, ln.name)
		mu.Unlock()
	})
	return nil
}

func (ln *listener) Addr() net.Addr { return memAddr(ln.name) }

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }
