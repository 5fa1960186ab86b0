package picoserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haivivi/picotts/pkg/audio/pcm"
	"github.com/haivivi/picotts/pkg/audio/wav"
	"github.com/haivivi/picotts/pkg/pico/picotest"
	"github.com/haivivi/picotts/pkg/picoserver"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := newSynth(t, picotest.New(), nil)
	ts := httptest.NewServer(picoserver.NewServer(s, nil))
	t.Cleanup(ts.Close)
	return ts
}

func postSynthesize(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/synthesize", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerVoices(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/voices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, err := uuid.Parse(resp.Header.Get("X-Request-Id")); err != nil {
		t.Errorf("X-Request-Id %q: %v", resp.Header.Get("X-Request-Id"), err)
	}

	var got picoserver.VoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.SampleRate != 16000 || len(got.Voices) != 2 {
		t.Fatalf("voices = %+v", got)
	}
	if got.Voices[0].Name != "en-US" || !slices.Equal(got.Voices[0].Resources, []string{"en-US_ta", "en-US_lh0_sg"}) {
		t.Errorf("first voice = %+v", got.Voices[0])
	}
}

func TestServerSynthesize(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{
		`{"voice":"en-US","text":"Hello, world"}`,
		`{"text":"Hello, world"}`,
	} {
		resp := postSynthesize(t, ts, body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", body, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("Content-Type = %q", ct)
		}
		f, samples, err := wav.Decode(resp.Body)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if f != pcm.L16Mono16K {
			t.Errorf("format = %v", f)
		}
		if want := picotest.Expected("Hello, world"); !slices.Equal(samples, want) {
			t.Errorf("%s: %d samples, want %d", body, len(samples), len(want))
		}
	}
}

func TestServerSynthesizeResampled(t *testing.T) {
	ts := newTestServer(t)

	text := strings.Repeat("resample me ", 40)
	resp := postSynthesize(t, ts, `{"text":"`+text+`","sample_rate":48000}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Sample-Rate"); got != "48000" {
		t.Errorf("X-Sample-Rate = %q", got)
	}
	f, samples, err := wav.Decode(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	want := 3 * len(picotest.Expected(text))
	if f != pcm.L16Mono48K || len(samples) > want || len(samples) < want-want/100 {
		t.Errorf("format %v with %d samples, want about %d", f, len(samples), want)
	}
}

func TestServerSynthesizeErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown voice", `{"voice":"fr-FR","text":"bonjour"}`, http.StatusNotFound},
		{"empty text", `{"voice":"en-US","text":""}`, http.StatusBadRequest},
		{"bad json", `{"voice":`, http.StatusBadRequest},
		{"bad rate", `{"text":"hi","sample_rate":22050}`, http.StatusBadRequest},
		{"too long", `{"text":"` + strings.Repeat("a", picoserver.MaxTextSize+1) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postSynthesize(t, ts, tt.body)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			var e struct {
				Error     string `json:"error"`
				RequestID string `json:"request_id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
				t.Fatal(err)
			}
			if e.Error == "" || e.RequestID != resp.Header.Get("X-Request-Id") {
				t.Errorf("error body = %+v", e)
			}
		})
	}

	resp, err := http.Get(ts.URL + "/v1/synthesize")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/synthesize = %d", resp.StatusCode)
	}
}

func dialStream(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := uuid.Parse(resp.Header.Get("X-Request-Id")); err != nil {
		t.Errorf("X-Request-Id: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUtterance collects binary frames up to the next control frame.
func readUtterance(t *testing.T, conn *websocket.Conn) ([]int16, int, picoserver.StreamMessage) {
	t.Helper()
	var samples []int16
	frames := 0
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if mt == websocket.BinaryMessage {
			chunk, err := pcm.BytesToInt16(data)
			if err != nil {
				t.Fatal(err)
			}
			samples = append(samples, chunk...)
			frames++
			continue
		}
		var msg picoserver.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("control frame %q: %v", data, err)
		}
		return samples, frames, msg
	}
}

func TestServerStream(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts, "?voice=de-DE")

	for _, text := range []string{"Guten Morgen, wie geht es Ihnen heute?", "Danke"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
			t.Fatal(err)
		}
		samples, frames, msg := readUtterance(t, conn)
		want := picotest.Expected(text)
		if msg.Type != "done" || msg.Samples != len(want) {
			t.Errorf("%q: control = %+v, want done with %d samples", text, msg, len(want))
		}
		if !slices.Equal(samples, want) {
			t.Errorf("%q: %d samples in %d frames, want %d", text, len(samples), frames, len(want))
		}
	}
}

func TestServerStreamSteps(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts, "")

	text := strings.Repeat("step ", 30)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatal(err)
	}
	_, frames, msg := readUtterance(t, conn)
	// 150 bytes at 8 samples each, 256 samples per step.
	if frames != 5 {
		t.Errorf("frames = %d, want 5", frames)
	}
	if msg.Type != "done" {
		t.Errorf("control = %+v", msg)
	}
}

func TestServerStreamErrors(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts, "?voice=en-US")

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if _, _, msg := readUtterance(t, conn); msg.Type != "error" {
		t.Errorf("binary frame: control = %+v, want error", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("")); err != nil {
		t.Fatal(err)
	}
	if _, _, msg := readUtterance(t, conn); msg.Type != "error" || msg.Error == "" {
		t.Errorf("empty text: control = %+v, want error", msg)
	}

	// The connection stays usable.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("still here")); err != nil {
		t.Fatal(err)
	}
	if _, _, msg := readUtterance(t, conn); msg.Type != "done" {
		t.Errorf("control = %+v, want done", msg)
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream?voice=fr-FR"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial with unknown voice succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown voice response = %v", resp)
	}

	url = "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream?sample_rate=abc"
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad sample_rate: err = %v", err)
	}
}

func TestServerStreamResampled(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts, "?sample_rate=24000")

	text := strings.Repeat("twenty four ", 30)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatal(err)
	}
	samples, _, msg := readUtterance(t, conn)
	if msg.Type != "done" || msg.Samples != len(samples) {
		t.Errorf("control = %+v for %d samples", msg, len(samples))
	}
	want := len(picotest.Expected(text)) * 24000 / 16000
	if len(samples) > want || len(samples) < want-want/100 {
		t.Errorf("got %d samples at 24 kHz, want about %d", len(samples), want)
	}
}
