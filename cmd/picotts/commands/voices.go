package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/picotts/cmd/picotts/internal/config"
	"github.com/haivivi/picotts/pkg/cli"
	"github.com/haivivi/picotts/pkg/picoserver"
)

type voiceRow struct {
	Name    string `json:"name" yaml:"name"`
	TA      string `json:"ta" yaml:"ta"`
	SG      string `json:"sg" yaml:"sg"`
	Default bool   `json:"default,omitempty" yaml:"default,omitempty"`
}

type voiceList []voiceRow

func (l voiceList) Header() []string { return []string{"NAME", "TA", "SG", "DEFAULT"} }

func (l voiceList) Rows() [][]string {
	rows := make([][]string, len(l))
	for i, v := range l {
		def := ""
		if v.Default {
			def = "*"
		}
		rows[i] = []string{v.Name, v.TA, v.SG, def}
	}
	return rows
}

func listVoices(cfg *config.Config) voiceList {
	out := make(voiceList, len(cfg.Voices))
	for i, v := range cfg.Voices {
		out[i] = voiceRow{Name: v.Name, TA: v.TA, SG: v.SG, Default: v.Name == cfg.DefaultVoice}
	}
	return out
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List configured voices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		return output(cmd, listVoices(cfg))
	},
}

// engineInfo is what 'info' reports after loading the voices.
type engineInfo struct {
	ArenaSize  int                    `json:"arena_size" yaml:"arena_size"`
	SampleRate int                    `json:"sample_rate" yaml:"sample_rate"`
	Voices     []picoserver.VoiceInfo `json:"voices" yaml:"voices"`
}

func (e engineInfo) Header() []string { return []string{"VOICE", "RESOURCES"} }

func (e engineInfo) Rows() [][]string {
	rows := make([][]string, len(e.Voices))
	for i, v := range e.Voices {
		rows[i] = []string{v.Name, strings.Join(v.Resources, ", ")}
	}
	return rows
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Load every voice and show the native resource names",
	Long: `Initialize the engine, load every configured voice and print the names
the engine reports for their resources. Use it to check a configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		e, err := openEngine(cmd.Context(), cfg, nil, false)
		if err != nil {
			return err
		}
		defer e.Close()

		info := engineInfo{ArenaSize: cfg.ArenaSize, SampleRate: picoserver.SampleRate, Voices: e.Voices()}
		if formatOutput == "table" {
			printer(cmd).Info("arena %s, %d Hz, %d voices",
				cli.FormatBytesInt(info.ArenaSize), info.SampleRate, len(info.Voices))
		}
		return output(cmd, info)
	},
}

func init() {
	rootCmd.AddCommand(voicesCmd)
	rootCmd.AddCommand(infoCmd)
}
