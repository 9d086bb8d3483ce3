package serialmux

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/imu.recorder/internal/testutil"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		formData       url.Values
		expectedStatus int
		wantWritten    string
		wantBody       string
	}{
		{
			name:           "valid hex command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"AA 10 ee"}},
			expectedStatus: http.StatusOK,
			wantWritten:    "\xAA\x10\xEE",
			wantBody:       "Wrote 3 bytes",
		},
		{
			name:           "empty command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"   "}},
			expectedStatus: http.StatusBadRequest,
			wantBody:       "empty command",
		},
		{
			name:           "odd length hex",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"AAE"}},
			expectedStatus: http.StatusBadRequest,
			wantBody:       "Invalid command",
		},
		{
			name:           "GET not allowed",
			method:         http.MethodGet,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := NewTestableSerialPort()
			mux := NewSerialMux(port)
			httpMux := http.NewServeMux()
			mux.AttachAdminRoutes(httpMux)

			req := localHostRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.formData.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.expectedStatus, rec.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want substring %q", rec.Body.String(), tt.wantBody)
			}
			if got := string(port.Written()); got != tt.wantWritten {
				t.Errorf("written = %q, want %q", got, tt.wantWritten)
			}
		})
	}
}

func TestAttachAdminRoutes_SendCommandWriteFailure(t *testing.T) {
	port := NewTestableSerialPort()
	port.Close()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"01"}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestAttachAdminRoutes_TailStreamsHexFrames(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go mux.Monitor(ctx)
	defer port.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || line != ": ping\n" {
		t.Fatalf("first line = %q, err %v", line, err)
	}

	port.AddReadData(testutil.AccFrame(1.23, 4.56, 7.89))
	want := "data: AA 01 A4 70 9D 3F 85 EB 91 40 E1 7A FC 40 EE\n"
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.HasPrefix(line, "data:") {
			break
		}
	}
	if line != want {
		t.Errorf("event = %q, want %q", line, want)
	}
}

func TestAttachAdminRoutes_TailMethodNotAllowed(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodPost, "/debug/tail", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

type noFlushWriter struct{ http.ResponseWriter }

func TestAttachAdminRoutes_TailRequiresFlusher(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(noFlushWriter{rec}, localHostRequest(http.MethodGet, "/debug/tail", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestDisabledSerialMux_AdminRoute(t *testing.T) {
	httpMux := http.NewServeMux()
	NewDisabledSerialMux().AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/serial-disabled", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "serial disabled" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}
