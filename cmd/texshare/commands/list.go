package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/texshare"
	"github.com/gogpu/texshare/backend"
)

var (
	listOutput string
	listPID    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List streams broadcast by live processes",
	Long: `List the streams registered by live processes.

Registrations left behind by processes that exited are not shown.

Examples:
  texshare list
  texshare list --pid 4242 -o yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		opts := cfg.options()
		if listPID != 0 {
			opts = append(opts, texshare.WithPID(listPID))
		}
		streams, err := texshare.Discover(opts...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch listOutput {
		case "yaml":
			data, err := yaml.Marshal(streamRecords(streams))
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		case "table", "":
		default:
			return fmt.Errorf("unknown output format %q", listOutput)
		}

		if len(streams) == 0 {
			fmt.Fprintln(out, dimStyle.Render("no streams"))
			return nil
		}
		fmt.Fprint(out, renderTable(
			[]string{"PID", "EXECUTABLE", "NAME", "SIZE", "FORMAT", "FLAVOR", "ADAPTER", "AGE"},
			streamRows(streams, time.Now()),
		))
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "output format: table, yaml")
	listCmd.Flags().IntVar(&listPID, "pid", 0, "only streams of this process")
	rootCmd.AddCommand(listCmd)
}

// streamRecord is the YAML form of a stream.
type streamRecord struct {
	PID        int    `yaml:"pid"`
	Executable string `yaml:"executable"`
	Name       string `yaml:"name"`
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Format     string `yaml:"format"`
	Flavor     string `yaml:"flavor"`
	Adapter    string `yaml:"adapter"`
	Token      string `yaml:"token"`
	Created    string `yaml:"created"`
}

func streamRecords(streams []texshare.StreamDescriptor) []streamRecord {
	out := make([]streamRecord, 0, len(streams))
	for _, s := range streams {
		out = append(out, streamRecord{
			PID:        s.PID,
			Executable: s.Executable,
			Name:       s.Name,
			Width:      s.Width,
			Height:     s.Height,
			Format:     backend.FormatName(s.Format),
			Flavor:     s.Flavor.String(),
			Adapter:    adapterString(s.AdapterID),
			Token:      s.Token.String(),
			Created:    s.Created.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func streamRows(streams []texshare.StreamDescriptor, now time.Time) [][]string {
	rows := make([][]string, 0, len(streams))
	for _, s := range streams {
		rows = append(rows, []string{
			strconv.Itoa(s.PID),
			s.Executable,
			s.Name,
			fmt.Sprintf("%dx%d", s.Width, s.Height),
			backend.FormatName(s.Format),
			s.Flavor.String(),
			adapterString(s.AdapterID),
			now.Sub(s.Created).Truncate(time.Second).String(),
		})
	}
	return rows
}

func adapterString(id uint64) string {
	if id == 0 {
		return "any"
	}
	return fmt.Sprintf("%016x", id)
}
