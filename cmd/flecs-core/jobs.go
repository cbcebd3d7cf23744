package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and cancel quests (background jobs)",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a quest's snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var quest any
		if err := newAPIClient(cmd.Flags()).do("GET", "/jobs/"+args[0], nil, &quest); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(quest, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Request cooperative cancellation of a quest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newAPIClient(cmd.Flags()).do("DELETE", "/jobs/"+args[0], nil, nil)
	},
}

func init() {
	jobCmd.AddCommand(jobGetCmd, jobCancelCmd)
}
