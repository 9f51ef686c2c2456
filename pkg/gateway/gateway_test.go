package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nathanfiscus/zigbee-herdsman/pkg/adapter"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/controller"
	"github.com/nathanfiscus/zigbee-herdsman/pkg/zcl"
)

const testIEEE = uint64(0x00124b0001c8a1b2)

// stubAdapter scripts frame delivery for the controller under the gateway.
type stubAdapter struct {
	mu     sync.Mutex
	err    error
	sent   []adapter.TxRequest
	events chan adapter.Event
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{events: make(chan adapter.Event)}
}

func (a *stubAdapter) Start(ctx context.Context) error { return nil }
func (a *stubAdapter) Stop() error                     { return nil }
func (a *stubAdapter) Events() <-chan adapter.Event    { return a.events }

func (a *stubAdapter) SendFrame(ctx context.Context, req adapter.TxRequest) (*zcl.Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, req)
	return nil, a.err
}

func (a *stubAdapter) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func newTestServer(t *testing.T) (*Server, *controller.Controller, *stubAdapter) {
	t.Helper()
	ad := newStubAdapter()
	c := controller.New(controller.Config{Adapter: ad})
	t.Cleanup(func() { _ = c.Stop() })
	return New(Config{Listen: "127.0.0.1:0"}, c), c, ad
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.routes().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	s, c, _ := newTestServer(t)
	c.AddDevice(testIEEE, 0x4d10)

	rr := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp HealthzResponse
	decodeBody(t, rr, &resp)
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.Devices != 1 {
		t.Fatalf("expected 1 device, got %d", resp.Devices)
	}
	if resp.UptimeSeconds < 0 {
		t.Fatalf("expected non-negative uptime, got %d", resp.UptimeSeconds)
	}
}

func TestDeviceListing(t *testing.T) {
	s, c, _ := newTestServer(t)
	d := c.AddDevice(testIEEE, 0x4d10)
	d.SetName("bedside")
	d.SetIdentity("acme", "bulb-2")
	d.SetPendingRequestTimeout(time.Minute)
	d.SetDefaultSendWhen(controller.SendWhenFastPoll)
	d.SetImplicitCheckin(true)
	d.Endpoint(1).SetClusters([]uint16{0x0006, 0x0008}, []uint16{0x0019})

	rr := doRequest(t, s, http.MethodGet, "/api/devices", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var infos []DeviceInfo
	decodeBody(t, rr, &infos)
	if len(infos) != 1 {
		t.Fatalf("expected 1 device, got %d", len(infos))
	}
	info := infos[0]
	if info.IEEE != "0x00124b0001c8a1b2" {
		t.Fatalf("unexpected ieee %q", info.IEEE)
	}
	if info.NWK != 0x4d10 || info.Name != "bedside" {
		t.Fatalf("unexpected identity: %+v", info)
	}
	if info.Manufacturer != "acme" || info.Model != "bulb-2" {
		t.Fatalf("unexpected manufacturer/model: %+v", info)
	}
	if info.PendingRequestTimeoutMS != 60000 {
		t.Fatalf("expected timeout 60000ms, got %d", info.PendingRequestTimeoutMS)
	}
	if info.DefaultSendWhen != "fastpoll" || !info.ImplicitCheckin {
		t.Fatalf("unexpected dispatch config: %+v", info)
	}
	if len(info.Endpoints) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(info.Endpoints))
	}
	ep := info.Endpoints[0]
	if ep.ID != 1 || len(ep.InputClusters) != 2 || ep.InputClusters[0] != 0x0006 {
		t.Fatalf("unexpected endpoint view: %+v", ep)
	}
	if ep.Pending != 0 {
		t.Fatalf("expected empty queue, got %d", ep.Pending)
	}
}

func TestDeviceLookupByAddress(t *testing.T) {
	s, c, _ := newTestServer(t)
	c.AddDevice(testIEEE, 0x4d10)

	// hex digits case-insensitive, 0x prefix optional
	for _, path := range []string{
		"/api/devices/0x00124b0001c8a1b2",
		"/api/devices/0x00124B0001C8A1B2",
		"/api/devices/00124b0001c8a1b2",
	} {
		rr := doRequest(t, s, http.MethodGet, path, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("GET %s: expected status 200, got %d", path, rr.Code)
		}
		var info DeviceInfo
		decodeBody(t, rr, &info)
		if info.NWK != 0x4d10 {
			t.Fatalf("GET %s: unexpected device %+v", path, info)
		}
	}
}

func TestLookupErrors(t *testing.T) {
	s, c, _ := newTestServer(t)
	d := c.AddDevice(testIEEE, 0x4d10)
	d.Endpoint(1)

	cases := []struct {
		path string
		want int
	}{
		{"/api/devices/not-hex", http.StatusBadRequest},
		{"/api/devices/0xdeadbeef00000000", http.StatusNotFound},
		{"/api/devices/0x00124b0001c8a1b2/endpoints/300/pending", http.StatusBadRequest},
		{"/api/devices/0x00124b0001c8a1b2/endpoints/2/pending", http.StatusNotFound},
		{"/api/devices/0x00124b0001c8a1b2/endpoints/1/pending", http.StatusOK},
	}
	for _, tc := range cases {
		rr := doRequest(t, s, http.MethodGet, tc.path, "")
		if rr.Code != tc.want {
			t.Fatalf("GET %s: expected status %d, got %d", tc.path, tc.want, rr.Code)
		}
		if tc.want != http.StatusOK {
			var e ErrorResponse
			decodeBody(t, rr, &e)
			if e.Error == "" {
				t.Fatalf("GET %s: expected error body", tc.path)
			}
		}
	}
}

func TestFlushDrainsQueue(t *testing.T) {
	s, c, ad := newTestServer(t)
	d := c.AddDevice(testIEEE, 0x4d10)
	d.SetPendingRequestTimeout(time.Minute)
	ep := d.Endpoint(1)

	ad.setErr(&adapter.DeliveryError{Code: adapter.DeliveryNoAck})
	errCh := make(chan error, 1)
	go func() {
		_, err := ep.Write(context.Background(), zcl.Name("genOnOff"),
			[]controller.AttributeValue{{Attr: zcl.Name("onTime"), Value: 120}}, nil)
		errCh <- err
	}()

	pendingPath := "/api/devices/0x00124b0001c8a1b2/endpoints/1/pending"
	deadline := time.Now().Add(2 * time.Second)
	for {
		rr := doRequest(t, s, http.MethodGet, pendingPath, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var p PendingResponse
		decodeBody(t, rr, &p)
		if p.Pending == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("write never queued, pending %d", p.Pending)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ad.setErr(nil)
	rr := doRequest(t, s, http.MethodPost,
		"/api/devices/0x00124b0001c8a1b2/endpoints/1/flush", `{"fast_polling": false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var p PendingResponse
	decodeBody(t, rr, &p)
	if p.Pending != 0 {
		t.Fatalf("expected drained queue, got pending %d", p.Pending)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("flushed write failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("writer still blocked after flush")
	}
}

func TestFlushRejectsBadBody(t *testing.T) {
	s, c, _ := newTestServer(t)
	d := c.AddDevice(testIEEE, 0x4d10)
	d.Endpoint(1)

	rr := doRequest(t, s, http.MethodPost,
		"/api/devices/0x00124b0001c8a1b2/endpoints/1/flush", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
