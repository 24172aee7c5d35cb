package httpapi

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modoterra/telesink/pkg/clock"
	"github.com/modoterra/telesink/pkg/codec"
	"github.com/modoterra/telesink/pkg/core"
	"github.com/modoterra/telesink/pkg/store"
)

type storeSink struct {
	*store.Store
	shutdowns atomic.Int32
}

func (s *storeSink) AppendLog(_ context.Context, text string, target core.Target) core.LogEntry {
	return s.Store.AppendLog(text, target)
}

func (s *storeSink) AppendSample(_ context.Context, body []byte, contentType string) (core.Sample, error) {
	return s.Store.AppendSample(body, contentType)
}

func (s *storeSink) Clear(_ context.Context, seq core.Sequence) error {
	return s.Store.Clear(seq)
}

func (s *storeSink) Stats() core.Stats {
	st := s.Store.Counts()
	st.State = "running"
	return st
}

func (s *storeSink) RequestShutdown() bool {
	return s.shutdowns.Add(1) == 1
}

func newTestServer(t *testing.T, target core.Target) (*httptest.Server, *storeSink) {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 4, 2, 12, 0, 0, 0, time.Local))
	sink := &storeSink{Store: store.New(fc)}
	api := New(Options{
		Sink:          sink,
		Logger:        slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		ReceiveTarget: target,
		MaxBodyBytes:  4096,
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, sink
}

func do(t *testing.T, method, url, contentType, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func getLines(t *testing.T, url string) []string {
	t.Helper()
	code, body := do(t, http.MethodGet, url, "", "")
	if code != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, code)
	}
	var lines []string
	if err := json.Unmarshal([]byte(body), &lines); err != nil {
		t.Fatalf("decode %s: %v (%s)", url, err, body)
	}
	return lines
}

func TestPing(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)

	code, body := do(t, http.MethodGet, srv.URL+"/ping", "", "")
	if code != http.StatusOK {
		t.Fatalf("status: got %d", code)
	}
	if strings.TrimSpace(body) != `{"status":"active"}` {
		t.Errorf("body: got %s", body)
	}
}

func TestFavicon(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)

	code, body := do(t, http.MethodGet, srv.URL+"/favicon.ico", "", "")
	if code != http.StatusNoContent {
		t.Errorf("status: got %d", code)
	}
	if body != "" {
		t.Errorf("expected empty body, got %q", body)
	}
}

func TestReceiveThenGetLogs(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)

	code, body := do(t, http.MethodPost, srv.URL+"/receive", "text/plain", "boot ok")
	if code != http.StatusOK || body != AckLogsReceived {
		t.Fatalf("receive: %d %q", code, body)
	}

	lines := getLines(t, srv.URL+"/get_logs")
	if len(lines) != 1 || lines[0] != "[12:00:00] boot ok" {
		t.Errorf("get_logs: got %v", lines)
	}
}

func TestEmptyLogsIsEmptyArray(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)

	for _, path := range []string{"/get_logs", "/get_display_logs", "/get_data"} {
		_, body := do(t, http.MethodGet, srv.URL+path, "", "")
		if strings.TrimSpace(body) != "[]" {
			t.Errorf("%s: got %s, want []", path, body)
		}
	}
}

func TestReceiveWritesBothSequences(t *testing.T) {
	srv, sink := newTestServer(t, core.TargetBoth)

	for _, path := range []string{"/receive", "/receive_logs", "/receive"} {
		if code, _ := do(t, http.MethodPost, srv.URL+path, "text/plain", "line"); code != http.StatusOK {
			t.Fatalf("%s: status %d", path, code)
		}
	}

	durable := getLines(t, srv.URL+"/get_logs")
	display := getLines(t, srv.URL+"/get_display_logs")
	if len(durable) != 3 || len(display) != 3 {
		t.Fatalf("lengths: durable=%d display=%d", len(durable), len(display))
	}
	for i := range durable {
		if durable[i] != display[i] {
			t.Errorf("entry %d differs: %q vs %q", i, durable[i], display[i])
		}
	}

	code, body := do(t, http.MethodGet, srv.URL+"/clear_display_logs", "", "")
	if code != http.StatusOK || body != AckDisplayLogsCleared {
		t.Fatalf("clear_display_logs: %d %q", code, body)
	}
	if n := len(getLines(t, srv.URL+"/get_display_logs")); n != 0 {
		t.Errorf("display after clear: %d", n)
	}
	if n := len(getLines(t, srv.URL+"/get_logs")); n != 3 {
		t.Errorf("durable after display clear: %d", n)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/clear_server_logs", "", "")
	if code != http.StatusOK || body != AckLogsCleared {
		t.Fatalf("clear_server_logs: %d %q", code, body)
	}
	if sink.Len(core.SequenceDurable) != 0 {
		t.Error("durable not cleared")
	}
}

func TestClearLogsAliasClearsDurable(t *testing.T) {
	srv, sink := newTestServer(t, core.TargetBoth)
	do(t, http.MethodPost, srv.URL+"/receive", "text/plain", "x")

	code, body := do(t, http.MethodGet, srv.URL+"/clear_logs", "", "")
	if code != http.StatusOK || body != AckLogsCleared {
		t.Fatalf("clear_logs: %d %q", code, body)
	}
	if sink.Len(core.SequenceDurable) != 0 || sink.Len(core.SequenceDisplay) != 1 {
		t.Errorf("unexpected counts: %+v", sink.Counts())
	}
}

func TestReceiveDisplayPolicy(t *testing.T) {
	srv, sink := newTestServer(t, core.TargetDisplay)

	do(t, http.MethodPost, srv.URL+"/receive", "text/plain", "viewer only")

	if sink.Len(core.SequenceDurable) != 0 {
		t.Error("durable should be untouched under display policy")
	}
	if sink.Len(core.SequenceDisplay) != 1 {
		t.Error("display should have the line")
	}
}

func TestReceiveInvalidUTF8IsStored(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)

	code, _ := do(t, http.MethodPost, srv.URL+"/receive", "text/plain", "temp\xff=21")
	if code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	lines := getLines(t, srv.URL+"/get_logs")
	if len(lines) != 1 || lines[0] != "[12:00:00] temp\uFFFD=21" {
		t.Errorf("got %q", lines)
	}
}

func TestReceiveData(t *testing.T) {
	srv, sink := newTestServer(t, core.TargetBoth)

	code, body := do(t, http.MethodPost, srv.URL+"/receive_data", "application/json", "[1,2,3]")
	if code != http.StatusOK || body != AckDataReceived {
		t.Fatalf("receive_data: %d %q", code, body)
	}

	code, body = do(t, http.MethodPost, srv.URL+"/receive_data", "application/json", `{"a":1}`)
	if code != http.StatusBadRequest || body != MsgInvalidShape {
		t.Fatalf("object body: %d %q", code, body)
	}

	code, body = do(t, http.MethodPost, srv.URL+"/receive_data", "application/json", `[1,2`)
	if code != http.StatusInternalServerError {
		t.Fatalf("malformed body: status %d", code)
	}
	if !strings.Contains(body, "decode json") {
		t.Errorf("malformed body: description not surfaced: %q", body)
	}

	code, _ = do(t, http.MethodPost, srv.URL+"/receive_data", "application/json", "")
	if code != http.StatusInternalServerError {
		t.Errorf("empty body: status %d", code)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/get_data", "", "")
	if strings.TrimSpace(body) != "[[1,2,3]]" {
		t.Errorf("get_data: got %s", body)
	}
	if sink.Len(core.SequenceSamples) != 1 {
		t.Errorf("samples: got %d", sink.Len(core.SequenceSamples))
	}

	code, body = do(t, http.MethodGet, srv.URL+"/clear_server_data", "", "")
	if code != http.StatusOK || body != AckDataCleared {
		t.Fatalf("clear_server_data: %d %q", code, body)
	}
	_, body = do(t, http.MethodGet, srv.URL+"/get_data", "", "")
	if strings.TrimSpace(body) != "[]" {
		t.Errorf("get_data after clear: got %s", body)
	}
}

func TestReceiveDataCBOR(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)

	payload, err := codec.MarshalCBOR([]any{1, "a", map[string]any{"k": true}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	code, _ := do(t, http.MethodPost, srv.URL+"/receive_data", codec.ContentTypeCBOR, string(payload))
	if code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}

	notList, _ := codec.MarshalCBOR(map[string]any{"a": 1})
	code, _ = do(t, http.MethodPost, srv.URL+"/receive_data", codec.ContentTypeCBOR, string(notList))
	if code != http.StatusBadRequest {
		t.Errorf("cbor map: status %d", code)
	}

	_, body := do(t, http.MethodGet, srv.URL+"/get_data", "", "")
	if strings.TrimSpace(body) != `[[1,"a",{"k":true}]]` {
		t.Errorf("get_data: got %s", body)
	}
}

func TestGetDataNegotiatesBinaryFormats(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)
	do(t, http.MethodPost, srv.URL+"/receive_data", "application/json", "[1,2,3]")

	tests := []struct {
		accept string
		decode func([]byte, any) error
	}{
		{codec.ContentTypeCBOR, codec.UnmarshalCBOR},
		{codec.ContentTypeMsgpack, codec.UnmarshalMsgpack},
	}
	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, srv.URL+"/get_data", nil)
			req.Header.Set("Accept", tt.accept)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if ct := resp.Header.Get("Content-Type"); ct != tt.accept {
				t.Errorf("content type: got %q", ct)
			}
			data, _ := io.ReadAll(resp.Body)

			var got [][]int64
			if err := tt.decode(data, &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != 1 || len(got[0]) != 3 || got[0][2] != 3 {
				t.Errorf("got %v", got)
			}
		})
	}
}

func TestGetLogsMsgpack(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)
	do(t, http.MethodPost, srv.URL+"/receive", "text/plain", "boot ok")

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/get_logs", nil)
	req.Header.Set("Accept", "application/msgpack, application/json;q=0.5")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	var lines []string
	if err := codec.UnmarshalMsgpack(data, &lines); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lines) != 1 || lines[0] != "[12:00:00] boot ok" {
		t.Errorf("got %v", lines)
	}
}

func TestShutdownRequest(t *testing.T) {
	srv, sink := newTestServer(t, core.TargetBoth)

	for i := 0; i < 2; i++ {
		code, body := do(t, http.MethodPost, srv.URL+"/shutdown", "", "")
		if code != http.StatusOK || body != AckShutdown {
			t.Fatalf("shutdown: %d %q", code, body)
		}
	}
	if n := sink.shutdowns.Load(); n != 2 {
		t.Errorf("RequestShutdown calls: got %d", n)
	}
}

func TestMethodsAreEnforced(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/receive"},
		{http.MethodGet, "/receive_data"},
		{http.MethodGet, "/shutdown"},
		{http.MethodPost, "/get_logs"},
	}
	for _, tt := range tests {
		code, _ := do(t, tt.method, srv.URL+tt.path, "", "")
		if code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", tt.method, tt.path, code)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	srv, sink := newTestServer(t, core.TargetBoth)

	code, _ := do(t, http.MethodPost, srv.URL+"/receive", "text/plain", strings.Repeat("x", 5000))
	if code != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d", code)
	}
	if sink.Len(core.SequenceDurable) != 0 {
		t.Error("oversized body must not be stored")
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)
	do(t, http.MethodPost, srv.URL+"/receive", "text/plain", "a")
	do(t, http.MethodPost, srv.URL+"/receive_data", "application/json", "[]")

	_, body := do(t, http.MethodGet, srv.URL+"/stats", "", "")
	var st core.Stats
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Durable != 1 || st.Display != 1 || st.Samples != 1 || st.State != "running" {
		t.Errorf("stats: %+v", st)
	}
}

func TestViewerPages(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)

	tests := []struct {
		path, endpoint, other string
		newestFirst           string
	}{
		{"/logs", "get_logs", "get_display_logs", "const newestFirst = false"},
		{"/display_logs", "get_display_logs", "clear_server_logs", "const newestFirst = true"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := do(t, http.MethodGet, srv.URL+tt.path, "", "")
			if code != http.StatusOK {
				t.Fatalf("status: %d", code)
			}
			page := strings.Join(strings.Fields(body), " ")
			if !strings.Contains(page, tt.endpoint) || strings.Contains(page, tt.other) {
				t.Errorf("page should poll %s only", tt.endpoint)
			}
			if !strings.Contains(page, tt.newestFirst) {
				t.Errorf("page missing %q", tt.newestFirst)
			}
			if !strings.Contains(page, "const interval = 250") {
				t.Error("page missing poll interval")
			}
		})
	}
}

func TestResponsesAreGzipped(t *testing.T) {
	srv, _ := newTestServer(t, core.TargetBoth)
	for i := 0; i < 200; i++ {
		do(t, http.MethodPost, srv.URL+"/receive", "text/plain", "a fairly repetitive log line")
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/get_logs", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("content encoding: got %q", resp.Header.Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	var lines []string
	if err := json.NewDecoder(zr).Decode(&lines); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lines) != 200 {
		t.Errorf("lines: got %d", len(lines))
	}
}

func TestConcurrentIngestion(t *testing.T) {
	srv, sink := newTestServer(t, core.TargetBoth)

	post := func(path, ct, body string) {
		resp, err := http.Post(srv.URL+path, ct, strings.NewReader(body))
		if err != nil {
			t.Errorf("POST %s: %v", path, err)
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				post("/receive", "text/plain", "x")
				post("/receive_data", "application/json", "[0]")
			}
		}()
	}
	wg.Wait()

	st := sink.Counts()
	if st.Durable != 200 || st.Display != 200 || st.Samples != 200 {
		t.Errorf("counts: %+v", st)
	}
}
