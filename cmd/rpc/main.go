// Command rpc performs one rpc:call/4-style request against a remote
// node's rex process (spec.md §8, scenario 3).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/reganheath/eclus/internal/config"
	"github.com/reganheath/eclus/node"
	"github.com/reganheath/eclus/term"
	"github.com/spf13/cobra"
)

// parseArg turns a command-line argument into a term: integers decode
// as Int, everything else is a bare Atom. This is a CLI convenience,
// not a general term literal syntax.
func parseArg(s string) term.Term {
	var n int64
	if _, err := fmt.Sscanf(s, "%d", &n); err == nil && fmt.Sprintf("%d", n) == s {
		return term.Int(n)
	}
	return term.Atom(s)
}

func main() {
	var name, cookie, module, function string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "rpc <target@host> [args...]",
		Short: "Call module:function(args) on a remote node's rex process",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := node.New(node.Config{Name: name, Cookie: cookie, EPMDPort: config.EPMDPort()})
			if err != nil {
				return err
			}
			if _, err := n.Listen(0); err != nil {
				return err
			}
			defer n.Close()

			terms := make([]term.Term, 0, len(args)-1)
			for _, a := range args[1:] {
				terms = append(terms, parseArg(a))
			}

			mb := n.CreateMailbox()
			result, err := mb.RPC(args[0], term.Atom(module), term.Atom(function), term.NewList(terms...), timeout)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
	root.Flags().StringVar(&name, "name", "rpc@localhost", "this node's own alive@host name")
	root.Flags().StringVar(&cookie, "cookie", config.Cookie(), "shared distribution cookie")
	root.Flags().StringVar(&module, "module", "erlang", "remote module")
	root.Flags().StringVar(&function, "function", "abs", "remote function")
	root.Flags().DurationVar(&timeout, "timeout", time.Second, "how long to wait for the reply")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
