package pty

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kballard/go-shellquote"
)

const (
	DefaultCommand = "telnet"
	DefaultPort    = 23
	DefaultCols    = 80
	DefaultRows    = 24
)

// parseCommand splits a shell-quoted command line into argv.
func parseCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		command = DefaultCommand
	}
	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse telnet command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("parse telnet command %q: empty", command)
	}
	return argv, nil
}

// telnetArgv appends host and port to the client command.
func telnetArgv(base []string, host string, port int) []string {
	argv := make([]string, 0, len(base)+2)
	argv = append(argv, base...)
	return append(argv, host, strconv.Itoa(port))
}

// validateHost rejects hosts that the telnet client could read as an
// option or that would split into several arguments.
func validateHost(host string) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidRequest)
	}
	if strings.HasPrefix(host, "-") {
		return fmt.Errorf("%w: host %q must not start with '-'", ErrInvalidRequest, host)
	}
	if strings.IndexFunc(host, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: host %q must not contain whitespace", ErrInvalidRequest, host)
	}
	return nil
}
