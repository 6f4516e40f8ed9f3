package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve uploaded attachments and the live snapshot feed",
		Long: `Serve uploaded attachments and the live snapshot feed.

Routes:
  GET /attachments/*   uploaded files, so attachment URLs resolve
  GET /ws/messages     websocket stream of full ordered snapshots
  GET /api/messages    the latest snapshot as JSON
  GET /health          liveness`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			deps, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := deps.Close(context.Background()); cerr != nil && err == nil {
					err = cerr
				}
			}()

			if addr == "" {
				addr = deps.Config.ServerAddr
			}
			return deps.NewServer().Start(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to SERVER_ADDR)")
	return cmd
}
