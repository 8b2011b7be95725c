// Package relaycmder wires the relay command tree.
package relaycmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/relay/cmd/relay/chat"
	configcmder "github.com/papercomputeco/relay/cmd/relay/config"
	initcmder "github.com/papercomputeco/relay/cmd/relay/init"
	probecmder "github.com/papercomputeco/relay/cmd/relay/probe"
	servecmder "github.com/papercomputeco/relay/cmd/relay/serve"
	versioncmder "github.com/papercomputeco/relay/cmd/version"
)

const relayLongDesc string = `Relay streams chat answers from an upstream chat or workflow
service to browsers and terminals as simple event frames.

Run the relay and talk to it using:
  relay serve          Run the relay server
  relay chat           Chat with a running relay
  relay probe <msg>    Send one message straight to the upstream
  relay init           Create a local .relay/ directory
  relay config         Manage persistent configuration`

const relayShortDesc string = "Relay - streaming chat relay"

func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "relay",
		Short:         relayShortDesc,
		Long:          relayLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to the .relay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(probecmder.NewProbeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
