package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fridaysatfour/wingman/internal/config"
	"github.com/fridaysatfour/wingman/internal/flow"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to wingman as a user",
	Long: `Send messages to the running server as the given user.

With a message argument a single turn is sent. Without one, lines are read
from stdin until EOF or /quit.

Examples:
  wingman chat --user sam "hi there"
  wingman chat --user sam --thread web`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		threadID, _ := cmd.Flags().GetString("thread")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			reply, err := sendMessage(cmd.Context(), client, flow.MessageRequest{
				UserID: userID, ThreadID: threadID, Message: strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			printReply(os.Stdout, reply)
			return nil
		}
		return runChat(cmd.Context(), client, userID, threadID, os.Stdin, os.Stdout)
	},
}

func init() {
	chatCmd.Flags().String("user", "", "user id to chat as")
	chatCmd.Flags().String("thread", "", "conversation thread (defaults to the user id)")
}

func sendMessage(ctx context.Context, client *apiClient, req flow.MessageRequest) (flow.Reply, error) {
	resp, err := client.postMessage(ctx, req)
	if err != nil {
		return flow.Reply{}, err
	}
	var reply flow.Reply
	if err := decodeJSON(resp, &reply); err != nil {
		return flow.Reply{}, err
	}
	return reply, nil
}

// runChat is the interactive loop. Blank lines are ignored.
func runChat(ctx context.Context, client *apiClient, userID, threadID string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case line == "":
		default:
			reply, err := sendMessage(ctx, client, flow.MessageRequest{UserID: userID, ThreadID: threadID, Message: line})
			if err != nil {
				return err
			}
			printReply(out, reply)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func printReply(out io.Writer, reply flow.Reply) {
	if reply.Transitioned {
		printStep("now in %s", reply.Stage)
	}
	fmt.Fprintln(out, reply.Response)
	if reply.Progress != nil {
		printStatus("Progress", "%d of %d (%.0f%%)", reply.Progress.CurrentStep, reply.Progress.TotalSteps, reply.Progress.CompletionPercentage)
	}
	if reply.FlowComplete {
		printSuccess("Onboarding complete")
	}
}

// --- flow ---

var flowCmd = &cobra.Command{
	Use:   "flow <user>",
	Short: "Show a user's onboarding state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		state, err := fetchFlowState(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		printStatus("Current stage", "%s", state.CurrentFlow)
		printStatus("Intro", "%s", doneLabel(!state.NeedsIntro))
		printStatus("Assessment", "%s", doneLabel(!state.NeedsAssessment))
		printStatus("Planning", "%s", doneLabel(!state.NeedsPlanning))
		if state.Degraded {
			printWarning("storage was unavailable; this state is a fallback")
		}
		return nil
	},
}

func fetchFlowState(ctx context.Context, client *apiClient, userID string) (flow.FlowState, error) {
	resp, err := client.get(ctx, userPath(userID, "flow-state"))
	if err != nil {
		return flow.FlowState{}, err
	}
	var state flow.FlowState
	if err := decodeJSON(resp, &state); err != nil {
		return flow.FlowState{}, err
	}
	return state, nil
}

func doneLabel(done bool) string {
	if done {
		return "done"
	}
	return "pending"
}

// --- summary ---

var summaryCmd = &cobra.Command{
	Use:   "summary <user>",
	Short: "Print a user's assessment and planning results as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), userPath(args[0], "summary"))
		if err != nil {
			return err
		}
		var summary any
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

// --- skip ---

var skipCmd = &cobra.Command{
	Use:   "skip <user> <assessment|planning>",
	Short: "Put a stage on cooldown for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		msg, err := skipStage(cmd.Context(), client, args[0], args[1])
		if err != nil {
			return err
		}
		printSuccess("%s", msg)
		return nil
	},
}

func skipStage(ctx context.Context, client *apiClient, userID, family string) (string, error) {
	resp, err := client.post(ctx, userPath(userID, "skip"), map[string]string{"family": family})
	if err != nil {
		return "", err
	}
	var out struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// --- reset ---

var resetCmd = &cobra.Command{
	Use:   "reset <user>",
	Short: "Delete all onboarding data for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This deletes all progress, results and messages for %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), userPath(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Reset %s", args[0])
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("confirm", false, "confirm the reset")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg, os.LookupEnv) {
			if k.Overridden {
				fmt.Printf("  %s = %s (from %s)\n", labelColor.Sprint(k.Key), k.Value, k.EnvVar)
				continue
			}
			fmt.Printf("  %s = %s\n", labelColor.Sprint(k.Key), k.Value)
		}
		printStatus("OpenRouter key", "%s", setLabel(cfg.HasRemoteLLM()))
		printStatus("API token", "%s", setLabel(cfg.API.Token != ""))
		return nil
	},
}

func setLabel(set bool) string {
	if set {
		return "set"
	}
	return "not set"
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a value from the config file and fall back to the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
