package cli

import (
	"github.com/spf13/cobra"

	"github.com/iliyamo/unpacker/internal/queue"
	"github.com/iliyamo/unpacker/internal/service"
)

func newReapCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete every artifact whose TTL has run out, once",
		Long: `Run a single cleanup sweep against the durable backend.  Useful after a
restart or from cron when the server is down; without a durable backend
there is nothing to reap.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmdContext(cmd)
			st := a.openStores(ctx)
			defer st.Close()
			publisher := queue.NewPublisher(a.cfg.RabbitURL, a.log)
			res := service.NewSweeper(st.registry, a.fs, a.cfg.CleanupInterval(), publisher, a.log).RunOnce(ctx)
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
