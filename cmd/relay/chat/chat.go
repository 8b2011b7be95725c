// Package chatcmder provides the chat command for talking to a running relay.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/dotdir"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/pkg/markdown"
	"github.com/papercomputeco/relay/pkg/stream"
	"github.com/papercomputeco/relay/pkg/suggest"
)

type chatCommander struct {
	relayTarget string
	userID      string
	html        bool
	newChat     bool
	noSuggest   bool
	debug       bool
	configDir   string

	// pretty renders finished answers with glamour.
	pretty bool

	viper  *viper.Viper
	dotdir *dotdir.Manager
	state  *dotdir.ChatState
	client *http.Client
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

// chatRequest is the body of POST /api/chat.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const traceFile = "chat.log"

var registeredFlags = []string{
	config.FlagRelayTarget,
	config.FlagUserID,
}

const chatLongDesc string = `Chat with a running relay.

Messages are posted to the relay's /api/chat endpoint and the answer is
printed as it streams in. In a terminal the finished answer is re-rendered
as formatted markdown; use --html to print the HTML rendering a browser
would show instead.

With --debug, a JSON trace of every request is appended to .relay/chat.log.

The conversation id of the last exchange is saved in the .relay/
directory, so a later "relay chat" continues the same conversation. Use
--new to start over.

With arguments, the arguments are sent as a single message and the command
exits after the answer.

Examples:
  relay chat
  relay chat "Bảo hiểm xe máy là gì?"
  relay chat --relay-target http://localhost:6490 --new`

const chatShortDesc string = "Chat with a running relay"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
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

			cmder.relayTarget = strings.TrimSuffix(cmder.viper.GetString("client.relay_target"), "/")
			cmder.userID = cmder.viper.GetString("client.user_id")
			cmder.in = cmd.InOrStdin()
			cmder.out = cmd.OutOrStdout()
			cmder.logger = logger.New(logger.WithDebug(cmder.debug), logger.WithPretty(true), logger.WithWriter(cmd.ErrOrStderr()))
			if cmder.debug {
				closeTrace, err := cmder.openTrace()
				if err != nil {
					return err
				}
				defer closeTrace()
			}
			cmder.pretty = isTerminal(cmder.out)
			if !cmder.pretty {
				cliui.DisableColor()
			}

			if len(args) > 0 {
				return cmder.runOnce(cmd.Context(), strings.Join(args, " "))
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayTarget, &cmder.relayTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagUserID, &cmder.userID)
	cmd.Flags().BoolVar(&cmder.html, "html", false, "Print the HTML rendering of each answer")
	cmd.Flags().BoolVar(&cmder.newChat, "new", false, "Start a new conversation")
	cmd.Flags().BoolVar(&cmder.noSuggest, "no-suggestions", false, "Do not show follow-up suggestions")

	return cmd
}

// openTrace adds a JSON debug trace in .relay/chat.log next to the
// terminal log.
func (c *chatCommander) openTrace() (func(), error) {
	dir, err := dotdir.NewManager().Target(c.configDir)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, traceFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening chat trace: %w", err)
	}

	trace := logger.New(logger.WithDebug(true), logger.WithJSON(true), logger.WithWriter(f))
	c.logger = logger.Multi(c.logger, trace)

	return func() { f.Close() }, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// loadState restores the saved conversation unless it belongs to another
// relay or --new was given.
func (c *chatCommander) loadState() error {
	c.dotdir = dotdir.NewManager()
	c.client = &http.Client{
		// Answers can take minutes to stream.
		Timeout: 5 * time.Minute,
	}

	if c.newChat {
		return c.dotdir.ClearChatState(c.configDir)
	}

	state, err := c.dotdir.LoadChatState(c.configDir)
	if err != nil {
		return fmt.Errorf("loading chat state: %w", err)
	}
	if state != nil && state.RelayTarget == c.relayTarget {
		c.state = state
	}
	return nil
}

func (c *chatCommander) runOnce(ctx context.Context, message string) error {
	if err := c.loadState(); err != nil {
		return err
	}

	res, err := c.send(ctx, message)
	if err != nil {
		return err
	}
	if res.Outcome != stream.OutcomeComplete {
		return fmt.Errorf("answer failed: %s", res.Error)
	}
	return nil
}

func (c *chatCommander) run(ctx context.Context) error {
	if err := c.loadState(); err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	if c.state != nil {
		fmt.Fprintf(c.out, "  %s Continuing conversation %s\n",
			cliui.SuccessMark,
			cliui.ValueStyle.Render(c.state.ConversationID),
		)
	} else {
		fmt.Fprintf(c.out, "  %s New conversation\n", cliui.DimStyle.Render("●"))
	}
	fmt.Fprintf(c.out, "  %s %s\n\n", cliui.KeyStyle.Render("Relay:"), cliui.ValueStyle.Render(c.relayTarget))
	fmt.Fprintf(c.out, "  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /new starts over, /exit or Ctrl+D quits."))

	if !c.noSuggest {
		if c.state != nil {
			cliui.Suggestions(c.out, suggest.For(c.state.LastQuestion, c.state.LastAnswer))
		} else {
			cliui.Suggestions(c.out, suggest.Defaults())
		}
		fmt.Fprintln(c.out)
	}

	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, cliui.PromptStyle.Render("you> "))
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "/exit":
			fmt.Fprintln(c.out)
			return nil
		case "/new":
			c.state = nil
			if err := c.dotdir.ClearChatState(c.configDir); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "  %s New conversation\n\n", cliui.DimStyle.Render("●"))
			continue
		}

		if _, err := c.send(ctx, input); err != nil {
			fmt.Fprintf(c.out, "  %s %v\n\n", cliui.FailMark, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Fprintln(c.out)
	return nil
}

// send posts one message and renders the streamed answer. A non-nil error
// means the relay could not be asked; an answer that failed mid-stream is
// reported through the Result.
func (c *chatCommander) send(ctx context.Context, message string) (stream.Result, error) {
	req := chatRequest{
		Message: message,
		UserID:  c.userID,
	}
	if c.state != nil {
		req.ConversationID = c.state.ConversationID
	}

	body, err := json.Marshal(req)
	if err != nil {
		return stream.Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending chat request",
		"relay_target", c.relayTarget,
		"conversation_id", req.ConversationID,
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayTarget+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return stream.Result{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return stream.Result{}, fmt.Errorf("sending request to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		respBody, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return stream.Result{}, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, errResp.Error)
		}
		return stream.Result{}, fmt.Errorf("relay returned status %d: %s", resp.StatusCode, string(respBody))
	}

	fmt.Fprint(c.out, cliui.AssistantStyle.Render("assistant> "))

	sink := &terminalSink{out: c.out, html: c.html, pretty: c.pretty}
	var renderer stream.Renderer = plainRenderer{}
	if c.html {
		renderer = markdown.Renderer{}
	}

	res := stream.NewConsumer(renderer, sink, c.logger).Consume(resp.Body)
	if res.Outcome != stream.OutcomeComplete {
		return res, nil
	}

	c.state = &dotdir.ChatState{
		ConversationID: res.ConversationID,
		RelayTarget:    c.relayTarget,
		LastQuestion:   message,
		LastAnswer:     res.Text,
		UpdatedAt:      time.Now(),
	}
	if err := c.dotdir.SaveChatState(c.state, c.configDir); err != nil {
		c.logger.Warn("could not save chat state", "error", err)
	}

	if !c.noSuggest {
		cliui.Suggestions(c.out, suggest.For(message, res.Text))
		fmt.Fprintln(c.out)
	}

	return res, nil
}

// plainRenderer leaves the answer text as is, for live terminal output.
type plainRenderer struct{}

func (plainRenderer) Render(text string) string {
	return text
}

// terminalSink prints the growing answer as it streams. Plain text only
// ever grows, so each Render prints the new suffix. HTML output is printed
// once the answer completes, and a pretty terminal re-renders the finished
// answer as markdown.
type terminalSink struct {
	out     io.Writer
	html    bool
	pretty  bool
	printed int
	markup  string
}

func (s *terminalSink) Render(markup string) {
	if s.html {
		s.markup = markup
		return
	}
	if len(markup) > s.printed {
		fmt.Fprint(s.out, markup[s.printed:])
		s.printed = len(markup)
	}
}

func (s *terminalSink) Complete(_, text string) {
	switch {
	case s.html:
		fmt.Fprintf(s.out, "\n%s\n\n", s.markup)
	case s.pretty:
		rendered, err := cliui.RenderMarkdown(text)
		if err != nil {
			fmt.Fprint(s.out, "\n\n")
			return
		}
		fmt.Fprintf(s.out, "\n%s", rendered)
	default:
		fmt.Fprint(s.out, "\n\n")
	}
}

func (s *terminalSink) Fail(message string) {
	if s.html && s.markup != "" {
		fmt.Fprintf(s.out, "\n%s", s.markup)
	}
	fmt.Fprintf(s.out, "\n  %s %s\n\n", cliui.FailMark, cliui.ErrorStyle.Render(message))
}
