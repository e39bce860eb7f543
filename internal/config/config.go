// Package config parses the command-line surface shared by the two
// binaries (cmd/serialmux-host, cmd/serialmux-proxy). The shape and flag
// style (pflag, functional defaults) is grounded on die-net-conduit's
// main.go; flag-vs-binary wiring is carried even though spec §6 scopes the
// actual CLI contract as out-of-scope, since an ambient concern is never
// dropped by a Non-goal.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// HostConfig is the configuration for the host-side binary: it opens one or
// more serial links, runs a Control Channel Establish/Connect client, and
// exposes local SOCKS5/HTTP-CONNECT listeners.
type HostConfig struct {
	SerialDevices []string
	SocksListen   string
	HTTPListen    string
	DialTimeout   time.Duration
	MaxBackoff    time.Duration
	Debug         bool
}

// ParseHostConfig parses os.Args-style flags (on its own pflag.FlagSet) into
// a HostConfig.
func ParseHostConfig(args []string) (HostConfig, error) {
	fs := pflag.NewFlagSet("serialmux-host", pflag.ContinueOnError)
	fs.SortFlags = false

	devices := fs.StringSlice("serial", nil, "Serial device path(s) to use as physical links; repeat for more than one")
	socksListen := fs.String("socks5-listen", "127.0.0.1:1080", "Local SOCKS5 listen address. Empty disables.")
	httpListen := fs.String("http-connect-listen", "127.0.0.1:8080", "Local HTTP-CONNECT listen address. Empty disables.")
	dialTimeout := fs.Duration("dial-timeout", 10*time.Second, "Control Channel RPC timeout (parsed into HostConfig.DialTimeout; serialmux-host does not apply it to any RPC)")
	maxBackoff := fs.Duration("max-reopen-backoff", 30*time.Second, "Maximum backoff between serial device reopen attempts")
	debug := fs.Bool("debug", false, "Enable debug-level logging")

	if err := fs.Parse(args); err != nil {
		return HostConfig{}, err
	}
	if len(*devices) == 0 {
		return HostConfig{}, fmt.Errorf("config: at least one --serial device is required")
	}

	return HostConfig{
		SerialDevices: *devices,
		SocksListen:   *socksListen,
		HTTPListen:    *httpListen,
		DialTimeout:   *dialTimeout,
		MaxBackoff:    *maxBackoff,
		Debug:         *debug,
	}, nil
}

// ProxyConfig is the configuration for the proxy-side binary: it opens one
// or more serial links and services Establish/Connect/Dispose commands by
// dialing outbound TCP.
type ProxyConfig struct {
	SerialDevices []string
	EgressTimeout time.Duration
	MaxBackoff    time.Duration
	Debug         bool
}

// ParseProxyConfig parses flags into a ProxyConfig.
func ParseProxyConfig(args []string) (ProxyConfig, error) {
	fs := pflag.NewFlagSet("serialmux-proxy", pflag.ContinueOnError)
	fs.SortFlags = false

	devices := fs.StringSlice("serial", nil, "Serial device path(s) to use as physical links; repeat for more than one")
	egressTimeout := fs.Duration("egress-dial-timeout", 10*time.Second, "Timeout for outbound TCP dials on Connect")
	maxBackoff := fs.Duration("max-reopen-backoff", 30*time.Second, "Maximum backoff between serial device reopen attempts")
	debug := fs.Bool("debug", false, "Enable debug-level logging")

	if err := fs.Parse(args); err != nil {
		return ProxyConfig{}, err
	}
	if len(*devices) == 0 {
		return ProxyConfig{}, fmt.Errorf("config: at least one --serial device is required")
	}

	return ProxyConfig{
		SerialDevices: *devices,
		EgressTimeout: *egressTimeout,
		MaxBackoff:    *maxBackoff,
		Debug:         *debug,
	}, nil
}
