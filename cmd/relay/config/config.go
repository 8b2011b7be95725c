// Package configcmder provides the config command for managing persistent
// relay configuration stored in the .relay/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
)

const configLongDesc string = `Manage persistent relay configuration.

Configuration is stored as config.toml in the .relay/ directory and provides
default values for command flags. CLI flags and RELAY_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  server.listen, server.static_dir, server.cors_origins,
  upstream.url, upstream.api_key, upstream.workflow_id,
  upstream.connect_timeout, upstream.content_kinds,
  session.max_age, session.sweep_schedule,
  eventstream.provider, eventstream.brokers, eventstream.topic,
  client.relay_target, client.user_id,
  log.level, log.json

Use subcommands to get, set, or list configuration values:
  relay config set <key> <value>    Set a configuration value
  relay config get <key>            Get a configuration value
  relay config list                 List all configuration values

Examples:
  relay config set upstream.url https://api.dify.ai/v1/chat-messages
  relay config set upstream.api_key app-xxxxxxxx
  relay config get upstream.url
  relay config list`

const configShortDesc string = "Manage persistent relay configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func unknownKeyError(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func printTarget(w io.Writer, cfger *config.Configer) {
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}

// displayValue masks secrets so they never end up in terminal scrollback.
func displayValue(key, value string) string {
	if value == "" || !config.IsSecretKey(key) {
		return value
	}
	if len(value) <= 4 {
		return "****"
	}
	return value[:4] + strings.Repeat("*", 8)
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}
