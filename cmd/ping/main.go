// Command ping emulates net_adm:ping/1 against a running Erlang or
// foreign node (spec.md §8, scenario 2).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/reganheath/eclus/internal/config"
	"github.com/reganheath/eclus/node"
	"github.com/spf13/cobra"
)

func main() {
	var name, cookie string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "ping <target@host>",
		Short: "Ping a distribution node and report pong/pang",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := node.New(node.Config{Name: name, Cookie: cookie, EPMDPort: config.EPMDPort()})
			if err != nil {
				return err
			}
			if _, err := n.Listen(0); err != nil {
				return err
			}
			defer n.Close()

			mb := n.CreateMailbox()
			ok, err := mb.Ping(args[0], timeout)
			if err != nil {
				fmt.Println("pang")
				return err
			}
			if ok {
				fmt.Println("pong")
			} else {
				fmt.Println("pang")
			}
			return nil
		},
	}
	root.Flags().StringVar(&name, "name", "pinger@localhost", "this node's own alive@host name")
	root.Flags().StringVar(&cookie, "cookie", config.Cookie(), "shared distribution cookie")
	root.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "how long to wait for a reply")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
