// Command epmd runs the port-mapper daemon standalone, the same role
// the real erl_epmd process plays for a host's Erlang nodes.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/reganheath/eclus/epmd"
	"github.com/reganheath/eclus/internal/config"
	"github.com/reganheath/eclus/internal/elog"
	"github.com/spf13/cobra"
)

func main() {
	var port int
	var logLevel string

	root := &cobra.Command{
		Use:   "epmd",
		Short: "Erlang port-mapper daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			elog.SetLevel(logLevel)
			addr := ":" + strconv.Itoa(port)
			elog.Infof("epmd: listening on %s", addr)
			return epmd.ListenAndServe(addr)
		},
	}
	root.Flags().IntVar(&port, "port", config.EPMDPort(), "port to listen on (defaults to ERL_EPMD_PORT)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
