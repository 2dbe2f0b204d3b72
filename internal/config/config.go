// Package config reads the ambient settings a distribution node needs
// beyond what's passed on the command line: the EPMD port override and
// the cookie file Erlang nodes conventionally share (spec.md §6).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/reganheath/eclus/epmd"
)

// EPMDPort returns the port from ERL_EPMD_PORT, or epmd.DefaultPort if
// unset or unparseable.
func EPMDPort() int {
	v := os.Getenv("ERL_EPMD_PORT")
	if v == "" {
		return epmd.DefaultPort
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 {
		return epmd.DefaultPort
	}
	return port
}

// Cookie reads ~/.erlang.cookie, trimming the trailing newline Erlang
// itself writes there. It returns "" if the file is absent.
func Cookie() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(home, ".erlang.cookie"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
