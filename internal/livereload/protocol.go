package livereload

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/leslieo2/devreload/internal/constants"
)

// ErrHandshake reports a client that failed the LiveReload hello exchange.
var ErrHandshake = errors.New("livereload: handshake failed")

// Handshake failure reasons, also used as metric labels.
const (
	reasonUpgrade     = "upgrade"
	reasonTimeout     = "timeout"
	reasonRead        = "read"
	reasonMalformed   = "malformed"
	reasonCommand     = "command"
	reasonProtocol    = "protocol"
	reasonWrite       = "write"
	reasonRateLimited = "rate_limited"
)

type handshakeError struct {
	reason string
	err    error
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("livereload handshake failed (%s): %v", e.reason, e.err)
}

func (e *handshakeError) Unwrap() error { return e.err }

func (e *handshakeError) Is(target error) bool { return target == ErrHandshake }

// helloFrame is exchanged in both directions when a client connects.
type helloFrame struct {
	Command    string   `json:"command"`
	Protocols  []string `json:"protocols"`
	ServerName string   `json:"serverName,omitempty"`
}

// reloadFrame asks a client to reload path, or the whole page for "*".
type reloadFrame struct {
	Command string `json:"command"`
	Path    string `json:"path"`
	LiveCSS bool   `json:"liveCSS"`
}

// clientFrame is the part of any client command the server looks at.
type clientFrame struct {
	Command string `json:"command"`
	URL     string `json:"url,omitempty"`
}

// parseHello decodes the first frame of a connection and returns the
// protocols both sides speak, in server preference order.
func parseHello(data []byte) ([]string, error) {
	var hello helloFrame
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, &handshakeError{reason: reasonMalformed, err: err}
	}
	if hello.Command != constants.CommandHello {
		return nil, &handshakeError{
			reason: reasonCommand,
			err:    fmt.Errorf("expected %q command, got %q", constants.CommandHello, hello.Command),
		}
	}
	common := negotiateProtocols(hello.Protocols)
	if len(common) == 0 {
		return nil, &handshakeError{
			reason: reasonProtocol,
			err:    fmt.Errorf("no supported protocol in %v", hello.Protocols),
		}
	}
	return common, nil
}

// negotiateProtocols intersects offered with the supported protocols.
func negotiateProtocols(offered []string) []string {
	var common []string
	for _, p := range constants.SupportedProtocols {
		if slices.Contains(offered, p) {
			common = append(common, p)
		}
	}
	return common
}

// selectSubprotocol picks the first WebSocket sub-protocol the client
// advertises that the server supports. It returns "" when none match.
func selectSubprotocol(offered []string) string {
	for _, p := range offered {
		if slices.Contains(constants.SupportedProtocols, p) {
			return p
		}
	}
	return ""
}

func newHello(protocols []string) helloFrame {
	return helloFrame{
		Command:    constants.CommandHello,
		Protocols:  protocols,
		ServerName: constants.LiveReloadServerName,
	}
}

func newReload(path string, liveCSS bool) reloadFrame {
	return reloadFrame{
		Command: constants.CommandReload,
		Path:    path,
		LiveCSS: liveCSS,
	}
}
