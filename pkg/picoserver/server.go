package picoserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haivivi/picotts/pkg/audio/pcm"
	"github.com/haivivi/picotts/pkg/audio/resampler"
	"github.com/haivivi/picotts/pkg/audio/wav"
)

// MaxTextSize limits the text of one request, in bytes.
const MaxTextSize = 64 << 10

const writeTimeout = 10 * time.Second

// SynthesizeRequest is the body of POST /v1/synthesize.
type SynthesizeRequest struct {
	Voice      string `json:"voice"`
	Text       string `json:"text"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// VoicesResponse is the body of GET /v1/voices.
type VoicesResponse struct {
	SampleRate int         `json:"sample_rate"`
	Voices     []VoiceInfo `json:"voices"`
}

// StreamMessage is a JSON control frame sent on /v1/stream after the binary
// audio frames of an utterance.
type StreamMessage struct {
	Type    string `json:"type"` // "done" or "error"
	Samples int    `json:"samples,omitempty"`
	Error   string `json:"error,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// Server exposes a Synthesizer over HTTP.
//
//	GET  /v1/voices       voice list
//	POST /v1/synthesize   SynthesizeRequest in, audio/wav out
//	GET  /v1/stream       WebSocket: text frames in, PCM frames out
type Server struct {
	synth    *Synthesizer
	log      *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// NewServer returns a Server for synth. If log is nil, slog.Default() is
// used.
func NewServer(synth *Synthesizer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		synth: synth,
		log:   log,
		mux:   http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 8192,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("GET /v1/voices", s.handleVoices)
	s.mux.HandleFunc("POST /v1/synthesize", s.handleSynthesize)
	s.mux.HandleFunc("GET /v1/stream", s.handleStream)
	return s
}

type logKey struct{}

// ServeHTTP tags the request with an ID, in the X-Request-Id header and in
// every log line for it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	w.Header().Set("X-Request-Id", id)
	log := s.log.With("request_id", id)
	start := time.Now()
	s.mux.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), logKey{}, log)))
	log.Debug("picoserver: request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
}

func (s *Server) logger(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(logKey{}).(*slog.Logger); ok {
		return l
	}
	return s.log
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("picoserver: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, VoicesResponse{SampleRate: SampleRate, Voices: s.synth.Voices()})
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	log := s.logger(r)

	var req SynthesizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxTextSize+1024)).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	voice := s.defaultVoice(req.Voice)
	format, err := outputFormat(req.SampleRate)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(req.Text) > MaxTextSize {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Errorf("text exceeds %d bytes", MaxTextSize))
		return
	}

	samples, err := s.synth.Speak(r.Context(), voice, req.Text)
	if err != nil {
		s.writeError(w, r, statusFor(err), err)
		return
	}
	if format != pcm.L16Mono16K {
		samples, err = resampler.Resample(samples, pcm.L16Mono16K, format)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(wav.HeaderSize+2*len(samples)))
	w.Header().Set("X-Sample-Rate", strconv.Itoa(format.SampleRate()))
	if err := wav.Encode(w, format, samples); err != nil {
		log.Debug("picoserver: write response", "error", err)
		return
	}
	log.Info("picoserver: synthesized", "voice", voice, "bytes", len(req.Text), "samples", len(samples))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	log := s.logger(r)

	voice := s.defaultVoice(r.URL.Query().Get("voice"))
	if _, ok := s.synth.Voice(voice); !ok {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("%w: %q", ErrUnknownVoice, voice))
		return
	}
	rate := 0
	if v := r.URL.Query().Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid sample_rate %q", v))
			return
		}
		rate = n
	}
	format, err := outputFormat(rate)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, http.Header{"X-Request-Id": {w.Header().Get("X-Request-Id")}})
	if err != nil {
		log.Debug("picoserver: upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxTextSize)

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("picoserver: stream read", "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			if err := writeFrame(conn, StreamMessage{Type: "error", Error: "expected a text frame"}); err != nil {
				return
			}
			continue
		}

		n, err := s.streamUtterance(r.Context(), conn, voice, format, string(data))
		msg := StreamMessage{Type: "done", Samples: n}
		if err != nil {
			log.Info("picoserver: stream utterance failed", "voice", voice, "error", err)
			msg = StreamMessage{Type: "error", Samples: n, Error: err.Error()}
		}
		if err := writeFrame(conn, msg); err != nil {
			return
		}
	}
}

// streamUtterance sends one binary frame per synthesis step, plus one for the
// resampler tail, and returns the number of samples sent.
func (s *Server) streamUtterance(ctx context.Context, conn *websocket.Conn, voice string, format pcm.Format, text string) (int, error) {
	rs, err := resampler.New(pcm.L16Mono16K, format)
	if err != nil {
		return 0, err
	}
	sent := 0
	send := func(out []int16) error {
		if len(out) == 0 {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm.Int16ToBytes(out)); err != nil {
			return err
		}
		sent += len(out)
		return nil
	}
	_, err = s.synth.Stream(ctx, voice, text, func(chunk []int16) error {
		out, err := rs.Process(chunk)
		if err != nil {
			return err
		}
		return send(out)
	})
	if err != nil {
		return sent, err
	}
	tail, err := rs.Flush()
	if err != nil {
		return sent, err
	}
	return sent, send(tail)
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// defaultVoice maps an empty name to the first configured voice.
func (s *Server) defaultVoice(name string) string {
	if name == "" {
		if vs := s.synth.Voices(); len(vs) > 0 {
			return vs[0].Name
		}
	}
	return name
}

func outputFormat(rate int) (pcm.Format, error) {
	if rate == 0 {
		return pcm.L16Mono16K, nil
	}
	return pcm.FormatForRate(rate)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnknownVoice):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	s.logger(r).Info("picoserver: request failed", "path", r.URL.Path, "status", code, "error", err)
	writeJSON(w, code, errorResponse{Error: err.Error(), RequestID: w.Header().Get("X-Request-Id")})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
