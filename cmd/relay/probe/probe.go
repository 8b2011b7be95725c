// Package probecmder provides the probe command, which sends one message
// straight to the upstream and prints the normalized event stream.
package probecmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/event"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/sse"
	"github.com/papercomputeco/relay/pkg/upstream"
)

type probeCommander struct {
	upstreamURL    string
	apiKey         string
	workflowID     string
	connectTimeout string
	contentKinds   string
	userID         string
	conversationID string
	raw            bool
	debug          bool

	viper  *viper.Viper
	out    io.Writer
	logger *slog.Logger
}

var registeredFlags = []string{
	config.FlagUpstream,
	config.FlagAPIKey,
	config.FlagWorkflowID,
	config.FlagConnectTimeout,
	config.FlagContentKinds,
	config.FlagUserID,
}

const probeLongDesc string = `Send one message straight to the upstream and print the
answer as the relay would see it.

Every upstream line is passed through the same normalizer the relay uses.
Deltas are printed as they arrive, followed by the conversation id on
completion or the failure message. Use --raw to also print the upstream
lines themselves, which helps when adding support for new event kinds.

Examples:
  relay probe "Bảo hiểm xe máy là gì?"
  relay probe --raw --upstream https://api.example.com/v1/chat-messages "hello"`

const probeShortDesc string = "Send one message straight to the upstream"

func NewProbeCmd() *cobra.Command {
	cmder := &probeCommander{}

	cmd := &cobra.Command{
		Use:   "probe <message>",
		Short: probeShortDesc,
		Long:  probeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, registeredFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.out = cmd.OutOrStdout()
			cmder.logger = logger.New(logger.WithDebug(cmder.debug), logger.WithPretty(true), logger.WithWriter(cmd.ErrOrStderr()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return cmder.run(ctx, strings.Join(args, " "))
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagUpstream, &cmder.upstreamURL)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, config.Flags, config.FlagWorkflowID, &cmder.workflowID)
	config.AddStringFlag(cmd, config.Flags, config.FlagConnectTimeout, &cmder.connectTimeout)
	config.AddStringFlag(cmd, config.Flags, config.FlagContentKinds, &cmder.contentKinds)
	config.AddStringFlag(cmd, config.Flags, config.FlagUserID, &cmder.userID)
	cmd.Flags().StringVarP(&cmder.conversationID, "conversation", "c", "", "Continue an existing upstream conversation")
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print raw upstream lines as well")

	return cmd
}

// errFailed is returned when the upstream answered with a failure.
var errFailed = errors.New("upstream answer failed")

func (c *probeCommander) run(ctx context.Context, message string) error {
	v := c.viper

	kinds, err := upstream.ParseKinds(v.GetString("upstream.content_kinds"))
	if err != nil {
		return fmt.Errorf("invalid upstream.content_kinds: %w", err)
	}

	user := v.GetString("client.user_id")
	if user == "" {
		user = "web-user-" + uuid.NewString()
	}

	client := upstream.NewClient(upstream.Config{
		URL:            v.GetString("upstream.url"),
		APIKey:         v.GetString("upstream.api_key"),
		WorkflowID:     v.GetString("upstream.workflow_id"),
		ConnectTimeout: v.GetDuration("upstream.connect_timeout"),
	}, c.logger)
	normalizer := upstream.NewNormalizer(c.logger, upstream.WithContentKinds(kinds...))

	start := time.Now()
	var body io.ReadCloser
	err = cliui.Step(c.out, "Connecting to "+client.URL(), func() error {
		var err error
		body, err = client.Stream(ctx, upstream.Request{
			Query:          message,
			User:           user,
			ConversationID: c.conversationID,
		})
		return err
	})
	if err != nil {
		return err
	}
	defer body.Close()

	fmt.Fprintln(c.out)
	lines := sse.NewLineReader(body)
	for {
		line, err := lines.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintf(c.out, "\n\n  %s %s\n", cliui.FailMark, "stream ended without a completion event")
				return errFailed
			}
			return fmt.Errorf("reading upstream stream: %w", err)
		}

		if c.raw && line != "" {
			fmt.Fprintf(c.out, "%s\n", cliui.DimStyle.Render(line))
		}

		ev, ok := normalizer.Normalize(line)
		if !ok {
			continue
		}

		switch ev.Kind {
		case event.KindDelta:
			if c.raw {
				fmt.Fprintf(c.out, "%s %q\n", cliui.KeyStyle.Render("delta"), ev.Text)
			} else {
				fmt.Fprint(c.out, ev.Text)
			}

		case event.KindComplete:
			fmt.Fprintf(c.out, "\n\n  %s %s %s\n",
				cliui.SuccessMark,
				cliui.KeyStyle.Render("conversation:"),
				cliui.ValueStyle.Render(ev.ConversationID),
			)
			fmt.Fprintf(c.out, "  %s\n", cliui.DimStyle.Render(cliui.FormatDuration(time.Since(start))))
			return nil

		case event.KindFailure:
			fmt.Fprintf(c.out, "\n\n  %s %s\n", cliui.FailMark, cliui.ErrorStyle.Render(ev.Message))
			return errFailed
		}
	}
}
