// Package link abstracts the byte stream the bridge protocol runs over.
// The host side dials; listeners exist so simulators and tests can serve
// the coordinator end of the same stream.
package link

import (
	"context"
	"fmt"
	"net"
)

// Kind names a link implementation.
type Kind uint8

const (
	KindTCP Kind = iota
	KindQUIC
	KindMem
	KindWinPipe
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	case KindWinPipe:
		return "winpipe"
	default:
		return "unknown"
	}
}

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "tcp":
		return KindTCP, nil
	case "quic":
		return KindQUIC, nil
	case "mem":
		return KindMem, nil
	case "winpipe":
		return KindWinPipe, nil
	default:
		return 0, fmt.Errorf("unknown link kind %q", s)
	}
}

// Link opens byte streams to (or for) a coordinator at an address whose
// form depends on the kind: host:port for tcp and quic, a registry name
// for mem, a pipe path for winpipe.
type Link interface {
	Kind() Kind
	Dial(ctx context.Context, addr string) (net.Conn, error)
	Listen(addr string) (net.Listener, error)
}
