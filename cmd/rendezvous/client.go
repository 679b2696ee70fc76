package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/renproject/rendezvous/client"
	"github.com/renproject/rendezvous/peerstore"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

const (
	cfgServer    = "server"
	cfgNamespace = "namespace"
	cfgName      = "name"
	cfgPeerPort  = "peer-port"
	cfgTTL       = "ttl"
	cfgTimeout   = "timeout"
)

func clientFlags() *flag.FlagSet {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.String(cfgServer, "127.0.0.1:8080", "address of the rendezvous server")
	flags.String(cfgNamespace, "", "namespace of the peers")
	flags.Duration(cfgTimeout, 10*time.Second, "time allowed for the whole exchange")
	return flags
}

// exchange runs f against the server named by the flags of cmd, and prints
// the result as JSON.
func exchange(cmd *cobra.Command, f func(context.Context, *client.Client) (interface{}, error)) error {
	server, _ := cmd.Flags().GetString(cfgServer)
	timeout, _ := cmd.Flags().GetDuration(cfgTimeout)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	result, err := f(ctx, client.New(client.DefaultOptions(), server))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func registerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this host with a rendezvous server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			namespace, _ := cmd.Flags().GetString(cfgNamespace)
			name, _ := cmd.Flags().GetString(cfgName)
			port, _ := cmd.Flags().GetInt(cfgPeerPort)
			ttl, _ := cmd.Flags().GetInt(cfgTTL)
			return exchange(cmd, func(ctx context.Context, c *client.Client) (interface{}, error) {
				return c.Register(ctx, namespace, name, port, ttl)
			})
		},
	}
	cmd.Flags().AddFlagSet(clientFlags())
	cmd.Flags().String(cfgName, "", "name to register")
	cmd.Flags().Int(cfgPeerPort, 0, "port to register")
	cmd.Flags().Int(cfgTTL, 0, "lifetime of the registration in seconds (0 lets the server choose)")
	return cmd
}

func discoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the live peers known to a rendezvous server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			namespace, _ := cmd.Flags().GetString(cfgNamespace)
			return exchange(cmd, func(ctx context.Context, c *client.Client) (interface{}, error) {
				return c.Discover(ctx, namespace)
			})
		},
	}
	cmd.Flags().AddFlagSet(clientFlags())
	return cmd
}

func unregisterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unregister",
		Short: "Remove the registrations of this host from a rendezvous server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			namespace, _ := cmd.Flags().GetString(cfgNamespace)
			filter := peerstore.Filter{}
			if cmd.Flags().Changed(cfgName) {
				name, _ := cmd.Flags().GetString(cfgName)
				filter = filter.WithName(name)
			}
			if cmd.Flags().Changed(cfgPeerPort) {
				port, _ := cmd.Flags().GetInt(cfgPeerPort)
				filter = filter.WithPort(port)
			}
			return exchange(cmd, func(ctx context.Context, c *client.Client) (interface{}, error) {
				return map[string]string{"status": "OK"}, c.Unregister(ctx, namespace, filter)
			})
		},
	}
	cmd.Flags().AddFlagSet(clientFlags())
	cmd.Flags().String(cfgName, "", "only remove registrations with this name")
	cmd.Flags().Int(cfgPeerPort, 0, "only remove registrations with this port")
	return cmd
}
