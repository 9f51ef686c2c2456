// Package quic links to a network-attached coordinator over a single
// bidirectional QUIC stream, which behaves better than TCP on lossy Wi-Fi
// backhauls between the host and a remote radio.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter/link"
)

const alpn = "herdsman-bridge"

type Link struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

// New builds a link with an ephemeral self-signed server certificate. The
// bridge hello exchange identifies the two ends; transport certificates are
// not part of the trust model.
func New() (*Link, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &Link{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{
			MaxIdleTimeout:  90 * time.Second,
			KeepAlivePeriod: 15 * time.Second,
		},
	}, nil
}

func (l *Link) Kind() link.Kind { return link.KindQUIC }

func (l *Link) Dial(ctx context.Context, addr string) (net.Conn, error) {
	clientTLS := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, addr, clientTLS, l.quicConf)
	if err != nil {
		return nil, err
	}
	st, err := c.OpenStreamSync(ctx)
	if err != nil {
		c.CloseWithError(0, "no stream")
		return nil, err
	}
	// the stream opens lazily on the listener side, a first write makes it
	// visible to AcceptStream
	return &streamConn{Stream: st, conn: c}, nil
}

func (l *Link) Listen(addr string) (net.Listener, error) {
	ql, err := quicgo.ListenAddr(addr, l.tlsConf, l.quicConf)
	if err != nil {
		return nil, err
	}
	return &listener{ql: ql}, nil
}

type listener struct {
	ql *quicgo.Listener
}

func (ln *listener) Accept() (net.Conn, error) {
	c, err := ln.ql.Accept(context.Background())
	if err != nil {
		return nil, err
	}
	st, err := c.AcceptStream(context.Background())
	if err != nil {
		c.CloseWithError(0, "no stream")
		return nil, err
	}
	return &streamConn{Stream: st, conn: c}, nil
}

func (ln *listener) Close() error   { return ln.ql.Close() }
func (ln *listener) Addr() net.Addr { return ln.ql.Addr() }

// streamConn presents the single bridge stream as a net.Conn.
type streamConn struct {
	quicgo.Stream
	conn quicgo.Connection
}

func (s *streamConn) Close() error {
	s.Stream.Close()
	return s.conn.CloseWithError(0, "")
}

func (s *streamConn) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *streamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
