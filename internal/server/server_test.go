package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"totp-token/go-device/internal/app"
	"totp-token/go-device/internal/frame"
	"totp-token/go-device/internal/identity"
	"totp-token/go-device/internal/metrics"

	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/tillitis/tkeyclient"
)

func newDevice(t *testing.T) *app.Device {
	t.Helper()
	var secret identity.Secret
	for i := range secret {
		secret[i] = byte(0xA0 + i)
	}
	d, err := app.New(app.Options{Identity: identity.NewStatic(secret)})
	if err != nil {
		t.Fatalf("boot failed: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func servePipe(t *testing.T, s *Server) net.Conn {
	t.Helper()
	host, dev := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.ServeConn(ctx, dev)
	}()
	t.Cleanup(func() {
		cancel()
		_ = host.Close()
		if err := <-done; err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	})
	return host
}

func nameVersionFrame(id byte, ep tkeyclient.Endpoint) []byte {
	return []byte{frame.HeaderByte(frame.Header{ID: id, Endpoint: ep, CmdLen: tkeyclient.CmdLen1}), app.CmdGetNameVersion}
}

func TestServeConnResyncsAfterBadHeader(t *testing.T) {
	s, err := New("/ip4/127.0.0.1/tcp/0", newDevice(t), Options{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	host := servePipe(t, s)

	if _, err := host.Write([]byte{0x80}); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if _, err := host.Write(nameVersionFrame(1, tkeyclient.DestApp)); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	hdr, body, err := frame.ReadReply(host)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if hdr.ID != 1 || body[0] != app.RspGetNameVersion || string(body[1:9]) != "tk1 totp" {
		t.Fatalf("unexpected reply %+v % x", hdr, body[:9])
	}
}

func TestServeConnSkipsFramesForOtherEndpoints(t *testing.T) {
	s, err := New("/ip4/127.0.0.1/tcp/0", newDevice(t), Options{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	host := servePipe(t, s)

	if _, err := host.Write(nameVersionFrame(0, frame.EndpointAppFPGA)); err != nil {
		t.Fatalf("write dropped frame: %v", err)
	}
	if _, err := host.Write(nameVersionFrame(3, tkeyclient.DestFW)); err != nil {
		t.Fatalf("write firmware frame: %v", err)
	}
	hdr, body, err := frame.ReadReply(host)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if hdr.ID != 3 || !hdr.ResponseNotOK || len(body) != 1 {
		t.Fatalf("expected NOK for firmware frame, got %+v", hdr)
	}
}

func TestNewRejectsBadAddress(t *testing.T) {
	if _, err := New("127.0.0.1:7717", newDevice(t), Options{}); err == nil {
		t.Fatal("expected multiaddr parse error")
	}
	if _, err := New("/ip4/127.0.0.1/tcp/0", nil, Options{}); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestRunServesOverTCPAndStopsOnCancel(t *testing.T) {
	c := metrics.NewCollector()
	s, err := New("/ip4/127.0.0.1/tcp/0", newDevice(t), Options{
		MetricsAddr:    "127.0.0.1:0",
		MetricsHandler: c.Handler(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	bound, err := s.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	conn, err := manet.Dial(bound)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(nameVersionFrame(2, tkeyclient.DestApp)); err != nil {
		t.Fatalf("write: %v", err)
	}
	hdr, body, err := frame.ReadReply(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if hdr.ID != 2 || body[0] != app.RspGetNameVersion {
		t.Fatalf("unexpected reply %+v", hdr)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if _, _, err := frame.ReadReply(conn); err == nil || !isClosed(err) {
		t.Fatalf("expected closed connection, got %v", err)
	}
	_ = conn.Close()
}

func isClosed(err error) bool {
	return err == io.EOF || strings.Contains(err.Error(), "reset") || strings.Contains(err.Error(), "closed")
}

func TestMetricsEndpointIsOffByDefault(t *testing.T) {
	s, err := New("/ip4/127.0.0.1/tcp/0", newDevice(t), Options{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if s.httpServer != nil || s.metricsAddr != "" {
		t.Fatal("metrics listener should be disabled without an address")
	}
}

type faultyHandler struct {
	faulted bool
}

func (faultyHandler) Handle(frame.Header, []byte) (app.Reply, bool) {
	return app.Reply{}, false
}

func (h faultyHandler) Faulted() bool {
	return h.faulted
}

func TestHealthzReportsLatchedFault(t *testing.T) {
	for _, tc := range []struct {
		faulted bool
		want    int
	}{{false, http.StatusOK}, {true, http.StatusServiceUnavailable}} {
		s, err := New("/ip4/127.0.0.1/tcp/0", faultyHandler{faulted: tc.faulted}, Options{})
		if err != nil {
			t.Fatalf("new server: %v", err)
		}
		rec := httptest.NewRecorder()
		s.healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tc.want {
			t.Fatalf("faulted=%v: status %d, want %d", tc.faulted, rec.Code, tc.want)
		}
	}
	s, _ := New("/ip4/127.0.0.1/tcp/0", faultyHandler{}, Options{})
	rec := httptest.NewRecorder()
	s.healthz(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST: status %d", rec.Code)
	}
}
