package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busd/bus1/dispatch"
	"github.com/busd/bus1/domain"
	"github.com/busd/bus1/peer"
	"github.com/busd/bus1/user"
)

var sendPayload string

var sendRecvCmd = &cobra.Command{
	Use:   "send-recv",
	Short: "Connect two peers, SEND a message between them, then RECV it",
	Run: func(cmd *cobra.Command, args []string) {
		dom := domain.New(nil)
		users := user.NewRegistry()
		d := dispatch.New(dom, cfg, logger, nil)

		sender := peer.New(dom, users)
		receiver := peer.New(dom, users)

		poolSize := uint64(cfg.PageSize)
		if _, err := d.Connect(sender, peer.ConnectParams{Flags: peer.FlagPeer, PoolSize: poolSize}); err != nil {
			fmt.Println("connect sender:", err)
			return
		}
		if _, err := d.Connect(receiver, peer.ConnectParams{Flags: peer.FlagPeer, PoolSize: poolSize}); err != nil {
			fmt.Println("connect receiver:", err)
			return
		}

		if sendPayload == "" {
			sendPayload = "hello from bus1ctl"
		}
		err := d.Send(sender, dispatch.SendRequest{
			Payload:      []byte(sendPayload),
			Destinations: []uint64{receiver.ID()},
			StackScratch: make([]byte, 512),
		})
		if err != nil {
			fmt.Println("send:", err)
			return
		}

		res, err := d.Recv(receiver, false)
		if err != nil {
			fmt.Println("recv:", err)
			return
		}
		fmt.Printf("received %d bytes at pool offset %d (%d fds)\n", res.Size, res.Offset, res.NFiles)
	},
}

func init() {
	sendRecvCmd.Flags().StringVar(&sendPayload, "payload", "", "message payload to send")
}
