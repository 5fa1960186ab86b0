package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/haivivi/picotts/cmd/picotts/internal/config"
	"github.com/haivivi/picotts/pkg/audio/pcm"
	"github.com/haivivi/picotts/pkg/audio/wav"
	"github.com/haivivi/picotts/pkg/pico"
	"github.com/haivivi/picotts/pkg/pico/picotest"
)

type testEnv struct {
	dir    string
	config string
	be     *picotest.Backend
}

// setupTestEnv writes fake en-US and de-DE language files and a config
// using them, and routes synthesis to a fake backend.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	lang := filepath.Join(dir, "lang")
	if err := os.MkdirAll(lang, 0755); err != nil {
		t.Fatal(err)
	}
	for _, r := range []struct {
		kind pico.Kind
		name string
	}{
		{pico.KindTextAnalysis, "en-US_ta"},
		{pico.KindSpeechGeneration, "en-US_lh0_sg"},
		{pico.KindTextAnalysis, "de-DE_ta"},
		{pico.KindSpeechGeneration, "de-DE_gl0_sg"},
	} {
		if _, err := picotest.WriteResource(lang, r.kind, r.name); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.LangDir = lang
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.Voices = append(cfg.Voices, config.Voice{Name: "de-DE", TA: "de-DE_ta.bin", SG: "de-DE_gl0_sg.bin"})
	path := filepath.Join(dir, "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{dir: dir, config: path, be: picotest.New()}
	pico.Register(env.be)
	t.Cleanup(func() { pico.Register(nil) })
	return env
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()
	return runCmdStdin(t, "", args...)
}

func runCmdStdin(t *testing.T, stdin string, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	verbose = false
	formatOutput = "table"
	configPath = ""
	globalConfig = nil

	var outBuf, errBuf bytes.Buffer
	rootCmd.SetOut(&outBuf)
	rootCmd.SetErr(&errBuf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		stderr += err.Error()
	}

	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
		f.Value.Set(f.DefValue)
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func readWAV(t *testing.T, path string) (pcm.Format, []int16) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	format, samples, err := wav.Decode(f)
	if err != nil {
		t.Fatalf("Decode %s: %v", path, err)
	}
	return format, samples
}

// ---------------------------------------------------------------------------
// version / config
// ---------------------------------------------------------------------------

func TestVersion(t *testing.T) {
	stdout, _, code := runCmd(t, "version")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, "picotts") {
		t.Fatalf("expected 'picotts', got: %s", stdout)
	}
}

func TestVersionJSON(t *testing.T) {
	stdout, _, code := runCmd(t, "version", "--format", "json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stdout, `"version"`) {
		t.Fatalf("expected JSON, got: %s", stdout)
	}
}

func TestConfigPathInitShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picotts", "config.yaml")

	stdout, _, code := runCmd(t, "--config", path, "config", "path")
	if code != 0 || strings.TrimSpace(stdout) != path {
		t.Fatalf("config path = %q (exit %d)", stdout, code)
	}

	if _, stderr, code := runCmd(t, "--config", path, "config", "init"); code != 0 {
		t.Fatalf("init: %s", stderr)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, _, code := runCmd(t, "--config", path, "config", "init"); code == 0 {
		t.Error("second init should fail without --force")
	}
	if _, stderr, code := runCmd(t, "--config", path, "config", "init", "--force"); code != 0 {
		t.Errorf("init --force: %s", stderr)
	}

	stdout, stderr, code := runCmd(t, "--config", path, "config", "show")
	if code != 0 {
		t.Fatalf("show: %s", stderr)
	}
	for _, want := range []string{"arena_size: 4194304", "default_voice: en-US", "en-US_lh0_sg.bin"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("show output missing %q:\n%s", want, stdout)
		}
	}
}

func TestConfigEnvOverride(t *testing.T) {
	env := setupTestEnv(t)
	t.Setenv("PICOTTS_DEFAULT_VOICE", "de-DE")

	stdout, stderr, code := runCmd(t, "--config", env.config, "voices", "--format", "json")
	if code != 0 {
		t.Fatalf("voices: %s", stderr)
	}
	var rows []voiceRow
	if err := json.Unmarshal([]byte(stdout), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Default || !rows[1].Default {
		t.Errorf("rows = %+v, want de-DE default", rows)
	}
}

// ---------------------------------------------------------------------------
// voices / info
// ---------------------------------------------------------------------------

func TestVoices(t *testing.T) {
	env := setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "--config", env.config, "voices")
	if code != 0 {
		t.Fatalf("voices: %s", stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "NAME") {
		t.Fatalf("table:\n%s", stdout)
	}
	if !strings.Contains(lines[1], "en-US_ta.bin") || !strings.HasSuffix(lines[1], "*") {
		t.Errorf("en-US row = %q", lines[1])
	}
}

func TestInfo(t *testing.T) {
	env := setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "--config", env.config, "info")
	if code != 0 {
		t.Fatalf("info: %s", stderr)
	}
	for _, want := range []string{"4.0 MiB", "en-US_ta, en-US_lh0_sg", "de-DE_ta, de-DE_gl0_sg"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("info output missing %q:\n%s", want, stdout)
		}
	}

	stdout, _, code = runCmd(t, "--config", env.config, "info", "--format", "json")
	if code != 0 {
		t.Fatal("info json failed")
	}
	var info engineInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatal(err)
	}
	if info.ArenaSize != config.DefaultArenaSize || info.SampleRate != 16000 || len(info.Voices) != 2 {
		t.Errorf("info = %+v", info)
	}
	if env.be.LiveSystems() != 0 {
		t.Error("info left the engine running")
	}
}

func TestInfoMissingResource(t *testing.T) {
	env := setupTestEnv(t)
	if err := os.Remove(filepath.Join(env.dir, "lang", "de-DE_ta.bin")); err != nil {
		t.Fatal(err)
	}
	_, stderr, code := runCmd(t, "--config", env.config, "info")
	if code == 0 {
		t.Fatal("info succeeded without de-DE_ta.bin")
	}
	if !strings.Contains(stderr, "de-DE") {
		t.Errorf("error does not name the voice: %s", stderr)
	}
}

// ---------------------------------------------------------------------------
// say
// ---------------------------------------------------------------------------

func TestSayToFile(t *testing.T) {
	env := setupTestEnv(t)
	out := filepath.Join(env.dir, "out", "hello.wav")

	_, stderr, code := runCmd(t, "--config", env.config, "say", "-o", out, "Hello", "there")
	if code != 0 {
		t.Fatalf("say: %s", stderr)
	}
	if !strings.Contains(stderr, "✓ "+out) {
		t.Errorf("stderr = %q", stderr)
	}
	format, samples := readWAV(t, out)
	if format != pcm.L16Mono16K {
		t.Errorf("format = %v", format)
	}
	if want := picotest.Expected("Hello there"); !slices.Equal(samples, want) {
		t.Errorf("%d samples, want %d", len(samples), len(want))
	}
}

func TestSayRawStdin(t *testing.T) {
	env := setupTestEnv(t)

	stdout, stderr, code := runCmdStdin(t, "Hallo aus stdin\n", "--config", env.config, "say", "--raw", "-V", "de-DE")
	if code != 0 {
		t.Fatalf("say: %s", stderr)
	}
	samples, err := pcm.BytesToInt16([]byte(stdout))
	if err != nil {
		t.Fatal(err)
	}
	if want := picotest.Expected("Hallo aus stdin"); !slices.Equal(samples, want) {
		t.Errorf("%d samples, want %d", len(samples), len(want))
	}
}

func TestSayWAVStdout(t *testing.T) {
	env := setupTestEnv(t)

	stdout, stderr, code := runCmd(t, "--config", env.config, "say", "Hello")
	if code != 0 {
		t.Fatalf("say: %s", stderr)
	}
	format, samples, err := wav.Decode(strings.NewReader(stdout))
	if err != nil {
		t.Fatalf("decode stdout: %v", err)
	}
	if format != pcm.L16Mono16K {
		t.Errorf("format = %v", format)
	}
	if want := picotest.Expected("Hello"); !slices.Equal(samples, want) {
		t.Errorf("%d samples, want %d", len(samples), len(want))
	}
}

func TestSayBatch(t *testing.T) {
	env := setupTestEnv(t)
	outDir := filepath.Join(env.dir, "batch")
	req := fmt.Sprintf(`voice: de-DE
sample_rate: 24000
items:
  - text: Erster Satz.
    output: %s/one.wav
  - text: Second sentence.
    voice: en-US
    output: %s/two.wav
`, outDir, outDir)
	reqPath := filepath.Join(env.dir, "batch.yaml")
	if err := os.WriteFile(reqPath, []byte(req), 0644); err != nil {
		t.Fatal(err)
	}

	_, stderr, code := runCmd(t, "--config", env.config, "say", "-f", reqPath)
	if code != 0 {
		t.Fatalf("say -f: %s", stderr)
	}
	for name, text := range map[string]string{"one.wav": "Erster Satz.", "two.wav": "Second sentence."} {
		format, samples := readWAV(t, filepath.Join(outDir, name))
		want := len(picotest.Expected(text)) * 3 / 2
		if format != pcm.L16Mono24K || len(samples) > want || len(samples) < want-want/100 {
			t.Errorf("%s: format %v, %d samples, want about %d", name, format, len(samples), want)
		}
	}
	if !slices.Contains(env.be.Events(), "new-engine de-DE") || !slices.Contains(env.be.Events(), "new-engine en-US") {
		t.Errorf("events = %q", env.be.Events())
	}
}

func TestSayErrors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown voice", []string{"say", "-V", "fr-FR", "bonjour"}, "not configured"},
		{"bad rate", []string{"say", "--rate", "11025", "hi"}, "unsupported sample rate"},
		{"no text", []string{"say"}, "nothing to say"},
		{"missing request", []string{"say", "-f", filepath.Join(env.dir, "none.yaml")}, "failed to read file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, code := runCmd(t, append([]string{"--config", env.config}, tt.args...)...)
			if code == 0 {
				t.Fatal("say succeeded")
			}
			if !strings.Contains(stderr, tt.want) {
				t.Errorf("stderr = %q, want %q", stderr, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// cache
// ---------------------------------------------------------------------------

func cacheEntries(t *testing.T, env *testEnv) int {
	t.Helper()
	stdout, stderr, code := runCmd(t, "--config", env.config, "cache", "stats", "--format", "json")
	if code != 0 {
		t.Fatalf("cache stats: %s", stderr)
	}
	var st cacheStats
	if err := json.Unmarshal([]byte(stdout), &st); err != nil {
		t.Fatal(err)
	}
	return st.Entries
}

func TestCacheCommands(t *testing.T) {
	env := setupTestEnv(t)
	out := filepath.Join(env.dir, "a.wav")

	for range 2 {
		if _, stderr, code := runCmd(t, "--config", env.config, "say", "-o", out, "cached words"); code != 0 {
			t.Fatalf("say: %s", stderr)
		}
	}
	if n := cacheEntries(t, env); n != 1 {
		t.Fatalf("entries = %d, want 1", n)
	}

	if _, stderr, code := runCmd(t, "--config", env.config, "say", "--no-cache", "-o", out, "not cached"); code != 0 {
		t.Fatalf("say --no-cache: %s", stderr)
	}
	if n := cacheEntries(t, env); n != 1 {
		t.Errorf("entries after --no-cache = %d, want 1", n)
	}

	stdout, stderr, code := runCmd(t, "--config", env.config, "cache", "list")
	if code != 0 {
		t.Fatalf("cache list: %s", stderr)
	}
	if !strings.Contains(stdout, "cached words") || !strings.Contains(stdout, "en-US") {
		t.Errorf("cache list:\n%s", stdout)
	}

	stdout, stderr, code = runCmd(t, "--config", env.config, "cache", "clear")
	if code != 0 {
		t.Fatalf("cache clear: %s", stderr)
	}
	if !strings.Contains(stdout, "Removed 1") {
		t.Errorf("cache clear = %q", stdout)
	}
	if n := cacheEntries(t, env); n != 0 {
		t.Errorf("entries after clear = %d", n)
	}
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func TestServe(t *testing.T) {
	env := setupTestEnv(t)
	cfg, err := config.Load(env.config)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, addr, false) }()

	var resp *http.Response
	for i := 0; i < 100; i++ {
		resp, err = http.Get("http://" + addr + "/v1/voices")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("server never came up: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /v1/voices = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
	if env.be.LiveSystems() != 0 {
		t.Error("engine still running after serve returned")
	}
}
