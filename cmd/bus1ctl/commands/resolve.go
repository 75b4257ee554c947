package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busd/bus1/dispatch"
	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/peer"
	"github.com/busd/bus1/user"
)

var resolveName string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Connect a named peer, then RESOLVE its name back to an id",
	Run: func(cmd *cobra.Command, args []string) {
		dom := domain.New(nil)
		users := user.NewRegistry()
		d := dispatch.New(dom, cfg, logger, nil)
		p := peer.New(dom, users)

		if resolveName == "" {
			resolveName = "demo"
		}
		if _, err := d.Connect(p, peer.ConnectParams{
			Flags: peer.FlagPeer, PoolSize: uint64(cfg.PageSize),
			Names: []string{resolveName}, Caller: peer.Caller{Admin: true},
		}); err != nil {
			fmt.Println("connect:", err)
			return
		}

		id, err := d.Resolve(resolveName)
		if err != nil {
			fmt.Println("resolve:", err)
			return
		}
		fmt.Printf("%q -> peer id=%d\n", resolveName, id)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveName, "name", "demo", "name to connect and resolve")
}
