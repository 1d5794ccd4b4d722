package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/goker/goker-ledger/internal/model"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Fprintln(color.Error, msg)
}

func printPositions(w io.Writer, positions []model.NetPosition, currency string) {
	accent.Fprintln(w, "Net positions")
	for _, p := range positions {
		c := neutral
		switch {
		case p.Amount > 0:
			c = success
		case p.Amount < 0:
			c = danger
		}
		fmt.Fprintf(w, "  %-16s ", p.Participant)
		c.Fprintln(w, model.FormatAmount(p.Amount, currency))
	}
}

func printPlan(w io.Writer, plan *model.SettlementPlan, currency string) {
	accent.Fprintf(w, "Settlement plan (%s, %d transfers)\n", plan.Mode, len(plan.Transfers))
	if len(plan.Transfers) == 0 {
		neutral.Fprintln(w, "  nothing to settle")
		return
	}
	for _, t := range plan.Transfers {
		fmt.Fprintf(w, "  %-16s -> %-16s %s\n", t.From, t.To, model.FormatAmount(t.Amount, currency))
	}
	if plan.SearchNodes > 0 {
		neutral.Fprintf(w, "  exact search explored %d nodes\n", plan.SearchNodes)
	}
}
