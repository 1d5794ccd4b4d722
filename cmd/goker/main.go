// Command goker settles a session's entries offline and checks settlement
// plans against net positions.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/goker/goker-ledger/internal/config"
	"github.com/goker/goker-ledger/internal/ledger"
	"github.com/goker/goker-ledger/internal/model"
	"github.com/goker/goker-ledger/internal/settle"
	"github.com/goker/goker-ledger/internal/validate"
)

func main() {
	root := &cobra.Command{
		Use:          "goker",
		Short:        "Balance settlement for game sessions",
		SilenceUsage: true,
	}

	root.AddCommand(
		newSettleCmd(),
		newValidateCmd(),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func newSettleCmd() *cobra.Command {
	var (
		file       string
		configPath string
		exactLimit int
		budget     int
		currency   string
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Aggregate an entry snapshot and print its settlement plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			engineCfg := settle.Config{}
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				engineCfg = cfg.Settlement.Engine()
			}
			if cmd.Flags().Changed("exact-limit") {
				engineCfg.ExactModeParticipantLimit = exactLimit
			}
			if cmd.Flags().Changed("budget") {
				engineCfg.ExactModeSearchBudget = budget
			}
			if !model.ValidCurrency(currency) {
				return fmt.Errorf("%w: %q", model.ErrUnknownCurrency, currency)
			}

			entries, err := readEntries(file)
			if err != nil {
				return err
			}
			positions, err := ledger.Aggregate(entries)
			if err != nil {
				var imb *ledger.ImbalanceError
				if errors.As(err, &imb) {
					printWarn(fmt.Sprintf("session is off by %s", model.FormatAmount(imb.Total, currency)))
				}
				return err
			}

			plan, err := settle.NewEngine(engineCfg).Settle(positions)
			if err != nil {
				return err
			}
			if err := validate.Plan(positions, plan); err != nil {
				return fmt.Errorf("computed plan failed validation: %w", err)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), plan)
			}
			printPositions(cmd.OutOrStdout(), ledger.Sorted(positions), currency)
			printPlan(cmd.OutOrStdout(), plan, currency)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "entry snapshot (.json array or .csv participant,buy_in,cash_out)")
	cmd.Flags().StringVar(&configPath, "config", "", "TOML config providing [settlement] bounds")
	cmd.Flags().IntVar(&exactLimit, "exact-limit", 0, "largest participant count for exact mode (0 disables)")
	cmd.Flags().IntVar(&budget, "budget", 0, "exact-mode search node budget (0 disables)")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency used for display")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var positionsFile, planFile string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a plan settles the given net positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list []model.NetPosition
			if err := readJSON(positionsFile, &list); err != nil {
				return err
			}
			positions, err := ledger.FromSlice(list)
			if err != nil {
				return err
			}
			var plan model.SettlementPlan
			if err := readJSON(planFile, &plan); err != nil {
				return err
			}
			if err := validate.Plan(positions, &plan); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("plan valid: %d transfers settle %d participants",
				len(plan.Transfers), len(positions)))
			return nil
		},
	}

	cmd.Flags().StringVar(&positionsFile, "positions", "", "JSON array of {participant, amount}")
	cmd.Flags().StringVar(&planFile, "plan", "", "JSON settlement plan")
	_ = cmd.MarkFlagRequired("positions")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
