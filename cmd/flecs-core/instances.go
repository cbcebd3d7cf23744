package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flecs-technologies/flecs-core/pkg/types"
	"github.com/spf13/cobra"
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage instances",
}

var instanceCreateCmd = &cobra.Command{
	Use:   "create <name>@<version> [instance-name]",
	Short: "Create an instance of an installed app",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseAppKey(args[0])
		if err != nil {
			return err
		}
		name := ""
		if len(args) == 2 {
			name = args[1]
		}

		var resp struct {
			JobID uint64 `json:"jobId"`
		}
		body := map[string]any{"appKey": key, "name": name}
		if err := newAPIClient(cmd.Flags()).do("POST", "/instances/create", body, &resp); err != nil {
			return err
		}
		fmt.Printf("scheduled job %d\n", resp.JobID)
		return nil
	},
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		var instances []types.Instance
		if err := newAPIClient(cmd.Flags()).do("GET", "/instances", nil, &instances); err != nil {
			return err
		}
		for _, inst := range instances {
			fmt.Printf("%s\t%s\t%s (desired %s)\n", inst.ID, inst.AppKey, inst.Status, inst.Desired)
		}
		return nil
	},
}

var instanceGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show an instance's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var inst types.Instance
		if err := newAPIClient(cmd.Flags()).do("GET", "/instances/"+args[0], nil, &inst); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(inst, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var instanceDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			JobID uint64 `json:"jobId"`
		}
		if err := newAPIClient(cmd.Flags()).do("DELETE", "/instances/"+args[0], nil, &resp); err != nil {
			return err
		}
		fmt.Printf("scheduled job %d\n", resp.JobID)
		return nil
	},
}

var instanceStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  instanceLifecycleAction("start"),
}

var instanceStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop an instance",
	Args:  cobra.ExactArgs(1),
	RunE:  instanceLifecycleAction("stop"),
}

func instanceLifecycleAction(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var resp struct {
			JobID uint64 `json:"jobId"`
		}
		if err := newAPIClient(cmd.Flags()).do("POST", "/instances/"+args[0]+"/"+action, nil, &resp); err != nil {
			return err
		}
		fmt.Printf("scheduled job %d\n", resp.JobID)
		return nil
	}
}

var instanceLogsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Fetch an instance's container logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var logs struct {
			Stdout string `json:"stdout"`
			Stderr string `json:"stderr"`
		}
		if err := newAPIClient(cmd.Flags()).do("GET", "/instances/"+args[0]+"/logs", nil, &logs); err != nil {
			return err
		}
		fmt.Print(logs.Stdout)
		fmt.Fprint(cmd.ErrOrStderr(), logs.Stderr)
		return nil
	},
}

func parseAppKey(s string) (types.AppKey, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return types.AppKey{}, fmt.Errorf("expected <name>@<version>, got %q", s)
	}
	return types.AppKey{Name: parts[0], Version: parts[1]}, nil
}

func init() {
	instanceCmd.AddCommand(instanceCreateCmd, instanceListCmd, instanceGetCmd, instanceDeleteCmd,
		instanceStartCmd, instanceStopCmd, instanceLogsCmd)
}
