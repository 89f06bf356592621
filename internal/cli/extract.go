package cli

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iliyamo/unpacker/internal/archive"
)

func newExtractCmd(a *app) *cobra.Command {
	var dest, password, member string
	cmd := &cobra.Command{
		Use:   "extract <archive>",
		Short: "Extract an archive locally and print its manifest",
		Long: `Extract an archive without quota accounting.

Examples:
  # Extract everything next to the archive
  unpacker extract photos.zip

  # Extract one member of an encrypted 7z
  unpacker extract backup.7z --password s3cret --member docs/report.pdf --dest out`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			if dest == "" {
				dest = strings.TrimSuffix(src, filepath.Ext(src)) + "_extracted"
			}
			engine := archive.NewEngine(a.fs, a.log)
			ctx := cmdContext(cmd)
			if member != "" {
				p, err := engine.ExtractOne(ctx, src, dest, member, password)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{"member_path": p})
			}
			m, err := engine.Extract(ctx, src, dest, password)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "destination directory (default <archive>_extracted)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "archive password")
	cmd.Flags().StringVarP(&member, "member", "m", "", "extract only this member")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Print an archive's kind, encryption flag and members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := archive.NewEngine(a.fs, a.log).Inspect(cmdContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), in)
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
