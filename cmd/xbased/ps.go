package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xbase-dev/xbased/internal/xbproto"
)

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List simulator runners known to the running xbased daemon",
	Long:  "Queries the running xbased daemon's request socket for its simulator inventory and prints a table of name, state, UDID, and runtime.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPs()
	},
}

func init() {
	rootCmd.AddCommand(psCmd)
}

func runPs() error {
	resp, err := sendRequest(xbproto.Request{Kind: xbproto.RequestGetRunners})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Kind, resp.Error.Message)
	}

	data, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("re-encoding response data: %w", err)
	}
	var runners []xbproto.Runner
	if err := json.Unmarshal(data, &runners); err != nil {
		return fmt.Errorf("decoding runner list: %w", err)
	}

	if len(runners) == 0 {
		fmt.Println("No simulator runners found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSTATE\tUDID\tRUNTIME")
	for _, r := range runners {
		state := r.State
		if r.State == "Booted" {
			state = color.GreenString(r.State)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, state, r.UDID, r.Runtime)
	}
	return w.Flush()
}
