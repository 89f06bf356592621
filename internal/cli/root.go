// Package cli defines the unpacker command tree.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/iliyamo/unpacker/internal/config"
	"github.com/iliyamo/unpacker/internal/logging"
)

// app carries what every subcommand needs once the root has loaded the
// configuration.
type app struct {
	fs  afero.Fs
	cfg config.Config
	log *logging.Logger
}

// NewRootCommand returns the root command with all subcommands attached.
// Archives and artifacts are read and written through fs.
func NewRootCommand(fs afero.Fs) *cobra.Command {
	a := &app{fs: fs}
	cobra.EnableCommandSorting = false
	root := &cobra.Command{
		Use:   "unpacker",
		Short: "Archive extraction service with per-user quotas.",
		Long: `unpacker extracts zip, tar (gz, bz2, xz, zst, lz4), 7z and rar archives for
remote users, enforces daily task and size quotas and deletes every artifact
once its time to live runs out.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logging.New(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newExtractCmd(a))
	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newReapCmd(a))
	root.AddCommand(newTokenCmd(a))
	return root
}

// Execute runs the command tree against the OS filesystem.
func Execute() error {
	return NewRootCommand(afero.NewOsFs()).Execute()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
