package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/picotts/pkg/cli"
	"github.com/haivivi/picotts/pkg/speechcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the speech cache",
	Long: `Inspect or clear the speech cache.

Utterances are cached per voice and text under the cache directory, so
repeated text is not synthesized again.`,
}

type cacheRow struct {
	Key        string        `json:"key" yaml:"key"`
	Voice      string        `json:"voice" yaml:"voice"`
	Text       string        `json:"text" yaml:"text"`
	SampleRate int           `json:"sample_rate" yaml:"sample_rate"`
	Samples    int           `json:"samples" yaml:"samples"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Size       int           `json:"size" yaml:"size"`
	CreatedAt  time.Time     `json:"created_at" yaml:"created_at"`
}

type cacheList struct {
	rows []cacheRow
	now  time.Time
}

func (l cacheList) Header() []string {
	return []string{"KEY", "VOICE", "DURATION", "SIZE", "AGE", "TEXT"}
}

func (l cacheList) Rows() [][]string {
	rows := make([][]string, len(l.rows))
	for i, r := range l.rows {
		rows[i] = []string{
			r.Key[:min(12, len(r.Key))],
			r.Voice,
			cli.FormatDuration(r.Duration),
			cli.FormatBytesInt(r.Size),
			cli.FormatAge(r.CreatedAt, l.now),
			truncate(r.Text, 40),
		}
	}
	return rows
}

var cacheListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List cached utterances",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheFromConfig()
		if err != nil {
			return err
		}
		defer c.Close()

		list := cacheList{rows: []cacheRow{}, now: time.Now()}
		for info, err := range c.List(cmd.Context()) {
			if err != nil {
				return err
			}
			list.rows = append(list.rows, cacheRow{
				Key:        info.Key,
				Voice:      info.Voice,
				Text:       info.Text,
				SampleRate: info.SampleRate,
				Samples:    info.Samples,
				Duration:   info.Duration(),
				Size:       info.Size,
				CreatedAt:  info.CreatedAt,
			})
		}
		if formatOutput == "table" {
			return output(cmd, list)
		}
		return output(cmd, list.rows)
	},
}

type cacheStats struct {
	Entries     int   `json:"entries" yaml:"entries"`
	StoredBytes int64 `json:"stored_bytes" yaml:"stored_bytes"`
	PCMBytes    int64 `json:"pcm_bytes" yaml:"pcm_bytes"`
}

func (s cacheStats) Header() []string { return []string{"ENTRIES", "STORED", "AUDIO", "RATIO"} }

func (s cacheStats) Rows() [][]string {
	ratio := "-"
	if s.StoredBytes > 0 {
		ratio = cli.FormatCount(s.PCMBytes/s.StoredBytes) + "x"
	}
	return [][]string{{
		cli.FormatCount(int64(s.Entries)),
		cli.FormatBytes(s.StoredBytes),
		cli.FormatBytes(s.PCMBytes),
		ratio,
	}}
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheFromConfig()
		if err != nil {
			return err
		}
		defer c.Close()

		st, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return output(cmd, cacheStats{Entries: st.Entries, StoredBytes: st.StoredBytes, PCMBytes: st.PCMBytes})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached utterance",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCacheFromConfig()
		if err != nil {
			return err
		}
		defer c.Close()

		n, err := c.Clear(cmd.Context())
		if err != nil {
			return err
		}
		printer(cmd).Success("Removed %s cached utterances", cli.FormatCount(int64(n)))
		return nil
	},
}

func openCacheFromConfig() (*speechcache.Cache, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	return openCache(cfg)
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
