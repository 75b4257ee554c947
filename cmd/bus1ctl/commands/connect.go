package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/busd/bus1/dispatch"
	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/libs/metrics"
	"github.com/busd/bus1/peer"
	"github.com/busd/bus1/user"
)

var (
	connectPoolSize uint64
	connectName     string
	connectAdmin    bool
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Stand up a domain and CONNECT one peer into it",
	Run: func(cmd *cobra.Command, args []string) {
		dom := domain.New(metrics.PrometheusMetrics("bus1"))
		users := user.NewRegistry()
		d := dispatch.New(dom, cfg, logger, dom.Metrics)
		p := peer.New(dom, users)

		var names []string
		if connectName != "" {
			names = []string{connectName}
		}

		res, err := d.Connect(p, peer.ConnectParams{
			Flags:    peer.FlagPeer,
			PoolSize: connectPoolSize,
			Names:    names,
			Caller:   peer.Caller{UID: uint32(os.Getuid()), Admin: connectAdmin},
		})
		if err != nil {
			logger.Error("connect failed", "err", err)
			fmt.Println(err)
			return
		}
		fmt.Printf("connected peer id=%d pool_size=%d\n", p.ID(), res.PoolSize)
	},
}

func init() {
	connectCmd.Flags().Uint64Var(&connectPoolSize, "pool-size", 4096, "pool size in bytes, must be a multiple of the page size")
	connectCmd.Flags().StringVar(&connectName, "name", "", "optional name to claim")
	connectCmd.Flags().BoolVar(&connectAdmin, "admin", true, "claim administrative capability for name claims")
}
