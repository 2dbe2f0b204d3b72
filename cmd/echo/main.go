// Command echo drives the two roles of the distribution engine's
// canonical echo scenario (spec.md §8): "serve" runs the node that
// registers the "echo" process, "send" runs the node that registers
// "echoback" and exchanges one round trip with it.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/reganheath/eclus/internal/config"
	"github.com/reganheath/eclus/internal/elog"
	"github.com/reganheath/eclus/node"
	"github.com/reganheath/eclus/term"
	"github.com/spf13/cobra"
)

func newNode(name, cookie string) (*node.Node, error) {
	n, err := node.New(node.Config{Name: name, Cookie: cookie, EPMDPort: config.EPMDPort()})
	if err != nil {
		return nil, err
	}
	port, err := n.Listen(0)
	if err != nil {
		return nil, err
	}
	if err := n.Publish(port); err != nil {
		return nil, err
	}
	return n, nil
}

func runServe(name, cookie string) error {
	n, err := newNode(name, cookie)
	if err != nil {
		return err
	}
	defer n.Close()

	mb := n.CreateMailbox()
	n.Register(term.Atom("echo"), mb)
	elog.Infof("echo: serving as %s", n.Name())

	for {
		msg, err := mb.Receive()
		if err != nil {
			return err
		}
		req, ok := msg.(term.Tuple)
		if !ok || len(req) != 2 {
			elog.Warnf("echo: dropping malformed request %v", msg)
			continue
		}
		from, ok := req[0].(term.Pid)
		if !ok {
			continue
		}
		if err := mb.Send(from, term.Tuple{mb.Self(), req[1]}); err != nil {
			elog.Warnf("echo: reply failed: %v", err)
		}
	}
}

func runSend(name, cookie, peer, text string) error {
	n, err := newNode(name, cookie)
	if err != nil {
		return err
	}
	defer n.Close()

	mb := n.CreateMailbox()
	n.Register(term.Atom("echoback"), mb)

	if err := mb.SendToNode(peer, term.Atom("echo"), term.Tuple{mb.Self(), term.String(text)}); err != nil {
		return fmt.Errorf("echo: send failed: %w", err)
	}

	reply, err := mb.ReceiveTimeout(time.Second)
	if err != nil {
		return fmt.Errorf("echo: no reply: %w", err)
	}
	fmt.Printf("%v\n", reply)
	return nil
}

func main() {
	var cookie string

	root := &cobra.Command{Use: "echo", Short: "Run the echo scenario's server or client role"}
	root.PersistentFlags().StringVar(&cookie, "cookie", config.Cookie(), "shared distribution cookie")

	serve := &cobra.Command{
		Use:   "serve <name@host>",
		Short: "Register the echo process and reply to requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(args[0], cookie)
		},
	}

	var peer, text string
	send := &cobra.Command{
		Use:   "send <name@host>",
		Short: "Register echoback and exchange one message with a peer's echo process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args[0], cookie, peer, text)
		},
	}
	send.Flags().StringVar(&peer, "peer", "", "the echo server's alive@host name")
	send.Flags().StringVar(&text, "text", "Hello, World!", "payload to echo")
	_ = send.MarkFlagRequired("peer")

	root.AddCommand(serve, send)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
