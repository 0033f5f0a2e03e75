package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	httpapi "pillbox/internal/http"
	"pillbox/internal/service"

	"github.com/spf13/cobra"
)

var dispenseCmd = &cobra.Command{
	Use:   "dispense",
	Short: "Send a dispense command to the device",
	Long:  "Publish a dispense command; omit --time (or pass \"now\") for an immediate dispense",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("time")
		compartment, _ := cmd.Flags().GetInt("compartment")
		dose, _ := cmd.Flags().GetInt("dose")

		env, err := newCLIEnv(cmd, true)
		if err != nil {
			return err
		}
		defer env.Close()

		req := service.DispatchRequest{Compartment: compartment, Dose: dose}
		if at != "" {
			req.Time = &at
		}
		res, err := env.services.Dispatch.Dispatch(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Printf("sent %s to %s\n", res.Payload, res.Topic)
		return nil
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one due-dose evaluation pass",
	Long:  "Evaluate today's schedules once and raise reminder / missed-dose alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := newCLIEnv(cmd, false)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.services.Evaluator.Evaluate(cmd.Context(), env.clock.Now())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

var refillsCmd = &cobra.Command{
	Use:   "refills",
	Short: "List patients with empty compartments",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("xlsx")

		env, err := newCLIEnv(cmd, false)
		if err != nil {
			return err
		}
		defer env.Close()

		list, err := env.services.Slots.QueryRefillsNeeded(cmd.Context())
		if err != nil {
			return err
		}

		if out != "" {
			data, err := httpapi.GenerateRefillStatusExport(list, env.cfg.Location)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			fmt.Printf("wrote %d rows to %s\n", len(list), out)
			return nil
		}

		if len(list) == 0 {
			fmt.Println("no refills needed")
			return nil
		}
		for _, r := range list {
			fmt.Printf("%-6d %-20s %s\n", r.PatientID, r.PatientName, strings.Join(r.EmptySlots, ","))
		}
		return nil
	},
}

func init() {
	dispenseCmd.Flags().String("time", "", "HH:MM, empty or \"now\" for immediate")
	dispenseCmd.Flags().Int("compartment", 0, "compartment number")
	dispenseCmd.Flags().Int("dose", 0, "number of pills")
	_ = dispenseCmd.MarkFlagRequired("compartment")
	_ = dispenseCmd.MarkFlagRequired("dose")

	refillsCmd.Flags().String("xlsx", "", "write the report to this xlsx file")
}
