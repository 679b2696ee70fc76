package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/renproject/rendezvous/peerstore"
	"github.com/renproject/rendezvous/policy"
	"github.com/renproject/rendezvous/tcp"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const (
	cfgConfig = "config"

	cfgHost              = "host"
	cfgPort              = "port"
	cfgWorkers           = "workers"
	cfgBacklog           = "backlog"
	cfgIdleTimeout       = "idle-timeout"
	cfgMaxLineSize       = "max-line-size"
	cfgKeepAliveIdle     = "keepalive-idle"
	cfgKeepAliveInterval = "keepalive-interval"
	cfgKeepAliveCount    = "keepalive-count"

	cfgMaxAttempts   = "max-attempts"
	cfgWindow        = "window"
	cfgBlockTime     = "block-time"
	cfgConnRateLimit = "conn-rate-limit"
	cfgConnRateBurst = "conn-rate-burst"

	cfgDB = "db"

	cfgLogMode  = "log-mode"
	cfgLogFile  = "log-file"
	cfgLogLevel = "log-level"

	cfgMetricsAddr = "metrics-addr"

	envPrefix = "RENDEZVOUS"
)

// serverFlags returns the flags of the server command.
func serverFlags() *flag.FlagSet {
	flags := flag.NewFlagSet("", flag.ContinueOnError)

	flags.String(cfgConfig, "", "path to a config file (YAML, TOML or JSON)")

	flags.String(cfgHost, tcp.DefaultServerHost, "host address to listen on")
	flags.Uint16(cfgPort, tcp.DefaultServerPort, "port to listen on")
	flags.Int(cfgWorkers, tcp.DefaultServerWorkers, "maximum number of connections handled at once")
	flags.Int(cfgBacklog, tcp.DefaultServerBacklog, "length of the listen queue")
	flags.Duration(cfgIdleTimeout, tcp.DefaultServerIdleTimeout, "time to wait for request data")
	flags.Int(cfgMaxLineSize, tcp.DefaultServerMaxLineSize, "maximum request line size in bytes")
	flags.Duration(cfgKeepAliveIdle, tcp.DefaultKeepAliveIdle, "idle time before TCP keep-alive probes are sent")
	flags.Duration(cfgKeepAliveInterval, tcp.DefaultKeepAliveInterval, "time between TCP keep-alive probes")
	flags.Int(cfgKeepAliveCount, tcp.DefaultKeepAliveCount, "unanswered TCP keep-alive probes before the connection is dropped")

	flags.Int(cfgMaxAttempts, policy.DefaultMaxAttempts, "connection attempts allowed per IP-address within the window")
	flags.Duration(cfgWindow, policy.DefaultWindow, "span of the connection attempt window")
	flags.Duration(cfgBlockTime, policy.DefaultBlockTime, "how long an IP-address stays blocked")
	flags.Float64(cfgConnRateLimit, 0, "additional per IP-address connection rate limit per second (0 disables)")
	flags.Int(cfgConnRateBurst, tcp.DefaultConnRateLimitBurst, "burst of the additional connection rate limit")

	flags.String(cfgDB, peerstore.DefaultPath, "path of the peer snapshot file (empty disables persistence)")

	flags.String(cfgLogMode, logModeConsole, "where to log: console, file or both")
	flags.String(cfgLogFile, "server.log", "path of the log file")
	flags.String(cfgLogLevel, "info", "minimum log level")

	flags.String(cfgMetricsAddr, "", "address to serve Prometheus metrics on (empty disables)")

	return flags
}

// newConfig binds the flags into a new viper instance. Values are taken from
// flags, then RENDEZVOUS_* environment variables, then the config file, then
// the flag defaults.
func newConfig(flags *flag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	if path := v.GetString(cfgConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %v: %w", path, err)
		}
	}
	return v, nil
}

// serverOptions returns the tcp.ServerOptions described by the config. The
// logger and metrics are left for the caller to set.
func serverOptions(v *viper.Viper) (tcp.ServerOptions, error) {
	port := v.GetInt(cfgPort)
	if port < 0 || port > math.MaxUint16 {
		return tcp.ServerOptions{}, fmt.Errorf("invalid port %v", port)
	}
	if v.GetInt(cfgWorkers) < 1 {
		return tcp.ServerOptions{}, fmt.Errorf("invalid workers %v", v.GetInt(cfgWorkers))
	}
	if v.GetInt(cfgMaxLineSize) < 1 {
		return tcp.ServerOptions{}, fmt.Errorf("invalid max line size %v", v.GetInt(cfgMaxLineSize))
	}

	limit := rate.Inf
	if r := v.GetFloat64(cfgConnRateLimit); r > 0 {
		limit = rate.Limit(r)
	}

	opts := tcp.DefaultServerOptions()
	keepAlive := opts.KeepAlive
	keepAlive.Idle = v.GetDuration(cfgKeepAliveIdle)
	keepAlive.Interval = v.GetDuration(cfgKeepAliveInterval)
	keepAlive.Count = v.GetInt(cfgKeepAliveCount)

	admission := opts.Admission.
		WithMaxAttempts(v.GetInt(cfgMaxAttempts)).
		WithWindow(v.GetDuration(cfgWindow)).
		WithBlockTime(v.GetDuration(cfgBlockTime))

	return opts.
		WithHost(v.GetString(cfgHost)).
		WithPort(uint16(port)).
		WithWorkers(v.GetInt(cfgWorkers)).
		WithBacklog(v.GetInt(cfgBacklog)).
		WithIdleTimeout(v.GetDuration(cfgIdleTimeout)).
		WithMaxLineSize(v.GetInt(cfgMaxLineSize)).
		WithKeepAlive(keepAlive).
		WithAdmission(admission).
		WithRateLimit(limit, v.GetInt(cfgConnRateBurst)), nil
}
