package commands

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/picotts/pkg/audio/pcm"
	"github.com/haivivi/picotts/pkg/audio/resampler"
	"github.com/haivivi/picotts/pkg/audio/wav"
	"github.com/haivivi/picotts/pkg/cli"
	"github.com/haivivi/picotts/pkg/storage"
)

// sayRequest is the request file format of 'say -f'.
type sayRequest struct {
	Voice      string    `json:"voice" yaml:"voice"`
	SampleRate int       `json:"sample_rate" yaml:"sample_rate"`
	Raw        bool      `json:"raw" yaml:"raw"`
	Items      []sayItem `json:"items" yaml:"items"`
}

type sayItem struct {
	Text   string `json:"text" yaml:"text"`
	Voice  string `json:"voice,omitempty" yaml:"voice,omitempty"`
	Output string `json:"output" yaml:"output"`
}

var (
	sayVoice   string
	sayOutput  string
	sayRate    int
	sayFile    string
	sayNoCache bool
	sayRaw     bool
)

var sayCmd = &cobra.Command{
	Use:   "say [text...]",
	Short: "Synthesize text",
	Long: `Synthesize text to a WAV file, raw 16-bit PCM, or stdout.

Text comes from the arguments, or stdin when there are none. A request file
describes a batch:

  voice: en-US
  sample_rate: 24000
  items:
    - text: Hello there.
      output: hello.wav
    - text: See you in the bucket.
      output: s3://my-bucket/speech/bye.wav

Examples:
  picotts say -o hello.wav "Hello, world"
  echo "Hello" | picotts say --raw > hello.pcm
  picotts say -f batch.yaml`,
	RunE: runSay,
}

func init() {
	sayCmd.Flags().StringVarP(&sayVoice, "voice", "V", "", "voice name (default from config)")
	sayCmd.Flags().StringVarP(&sayOutput, "output", "o", "", "output path or s3:// URL (default stdout)")
	sayCmd.Flags().IntVar(&sayRate, "rate", 0, "output sample rate: 16000, 24000 or 48000")
	sayCmd.Flags().StringVarP(&sayFile, "file", "f", "", "request file (YAML or JSON, - for stdin)")
	sayCmd.Flags().BoolVar(&sayNoCache, "no-cache", false, "do not read or write the speech cache")
	sayCmd.Flags().BoolVar(&sayRaw, "raw", false, "write raw PCM instead of WAV")
	rootCmd.AddCommand(sayCmd)
}

func buildSayRequest(cmd *cobra.Command, args []string) (*sayRequest, error) {
	req := &sayRequest{Voice: sayVoice, SampleRate: sayRate, Raw: sayRaw}
	if sayFile != "" {
		if err := cli.LoadRequest(sayFile, req); err != nil {
			return nil, err
		}
		if sayVoice != "" {
			req.Voice = sayVoice
		}
		if sayRate != 0 {
			req.SampleRate = sayRate
		}
		req.Raw = req.Raw || sayRaw
		if len(req.Items) == 0 {
			return nil, fmt.Errorf("%s has no items", sayFile)
		}
		return req, nil
	}

	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return nil, fmt.Errorf("nothing to say")
	}
	req.Items = []sayItem{{Text: text, Output: sayOutput}}
	return req, nil
}

func runSay(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	req, err := buildSayRequest(cmd, args)
	if err != nil {
		return err
	}
	format := pcm.L16Mono16K
	if req.SampleRate != 0 {
		if format, err = pcm.FormatForRate(req.SampleRate); err != nil {
			return err
		}
	}

	var names []string
	for i := range req.Items {
		if req.Items[i].Voice == "" {
			req.Items[i].Voice = req.Voice
		}
		if req.Items[i].Voice == "" {
			req.Items[i].Voice = cfg.DefaultVoice
		}
		if !slices.Contains(names, req.Items[i].Voice) {
			names = append(names, req.Items[i].Voice)
		}
	}

	ctx := cmd.Context()
	e, err := openEngine(ctx, cfg, names, !sayNoCache)
	if err != nil {
		return err
	}
	defer e.Close()

	// Audio may go to stdout, so status lines go to stderr.
	p := newPrinter(cmd.ErrOrStderr(), cmd.ErrOrStderr())
	for _, item := range req.Items {
		start := time.Now()
		toFile := item.Output != "" && item.Output != "-"

		var dst io.WriteCloser = nopWriteCloser{cmd.OutOrStdout()}
		if toFile {
			if dst, err = openOutput(ctx, cfg, item.Output); err != nil {
				return err
			}
		}
		n, size, err := sayItemTo(ctx, e, item, format, req.Raw, dst)
		if err == nil {
			err = dst.Close()
		} else if a, ok := dst.(storage.Aborter); ok {
			a.Abort()
		}
		if err != nil {
			return fmt.Errorf("say %q: %w", truncate(item.Text, 32), err)
		}

		if toFile {
			p.Success("%s: %s of audio, %s", item.Output,
				cli.FormatDuration(format.Duration(n)), cli.FormatBytesInt(size))
		}
		p.Verbosef("voice %s, %d samples in %v", item.Voice, n, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// sayItemTo streams one utterance into dst as WAV, or as bare PCM if raw is
// set. It returns the number of samples and bytes written.
func sayItemTo(ctx context.Context, e *engine, item sayItem, format pcm.Format, raw bool, dst io.Writer) (int, int, error) {
	rs, err := resampler.New(pcm.L16Mono16K, format)
	if err != nil {
		return 0, 0, err
	}

	var (
		n    int
		size int
		ww   *wav.Writer
	)
	write := func(samples []int16) error {
		n += len(samples)
		if ww != nil {
			return ww.Write(samples)
		}
		m, err := dst.Write(pcm.Int16ToBytes(samples))
		size += m
		return err
	}
	if !raw {
		ww = wav.NewWriter(dst, format)
	}

	_, err = e.Stream(ctx, item.Voice, item.Text, func(chunk []int16) error {
		out, err := rs.Process(chunk)
		if err != nil {
			return err
		}
		return write(out)
	})
	if err != nil {
		return n, size, err
	}
	tail, err := rs.Flush()
	if err != nil {
		return n, size, err
	}
	if err := write(tail); err != nil {
		return n, size, err
	}
	if ww != nil {
		if err := ww.Close(); err != nil {
			return n, size, err
		}
		size = wav.HeaderSize + ww.Len()
	}
	return n, size, nil
}

// nopWriteCloser hides Seek so that a WAV on stdout is written in one piece
// even when stdout is a regular file.
type nopWriteCloser struct {
	w io.Writer
}

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (nopWriteCloser) Close() error                  { return nil }

// truncate shortens s to n runes for messages.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
