package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/segyhp/settlement-engine/internal/domain"
	"github.com/segyhp/settlement-engine/internal/service"
)

func renderObligations(w io.Writer, items []domain.VersionedObligation, now time.Time, asJSON bool) error {
	if asJSON {
		out := make([]domain.ObligationResponse, 0, len(items))
		for _, v := range items {
			out = append(out, domain.NewObligationResponse(v, now))
		}
		return printJSON(w, out)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Obligor", "Obligee", "Face", "Paid", "Status", "Due", "Version"})
	for _, v := range items {
		o := v.Obligation
		tw.AppendRow(table.Row{
			o.LinearID,
			o.Obligor.String(),
			o.Obligee.String(),
			o.FaceAmount.String(),
			o.AmountPaid().String(),
			status(o, now),
			dueString(o.DueBy),
			v.Version,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	tw.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(items)})
	tw.Render()
	return nil
}

func renderObligation(w io.Writer, v domain.VersionedObligation, now time.Time, asJSON bool) error {
	if asJSON {
		return printJSON(w, domain.NewObligationResponse(v, now))
	}
	o := v.Obligation
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.AppendRows([]table.Row{
		{"ID", o.LinearID},
		{"Version", v.Version},
		{"Obligor", o.Obligor.String()},
		{"Obligee", o.Obligee.String()},
		{"Face amount", o.FaceAmount.String()},
		{"Paid", o.AmountPaid().String()},
		{"Outstanding", o.Outstanding().String()},
		{"Status", status(o, now)},
		{"Due", dueString(o.DueBy)},
		{"Method", methodString(o.SettlementMethod)},
	})
	summary.Render()

	payments := o.Payments()
	if len(payments) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	renderPayments(w, payments)
	return nil
}

func renderPayments(w io.Writer, payments []domain.Payment) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Reference", "Amount", "Rail", "Status", "Recorded", "Reason"})
	for _, p := range payments {
		tw.AppendRow(table.Row{
			p.Reference,
			p.Amount.String(),
			p.Rail,
			p.Status,
			p.RecordedAt.Format(time.RFC3339),
			p.FailureReason,
		})
	}
	tw.Render()
}

func renderReceipt(w io.Writer, receipt service.SettlementReceipt, asJSON bool) error {
	if asJSON {
		return printJSON(w, receipt)
	}
	renderPayments(w, []domain.Payment{receipt.Payment})
	if receipt.Result != nil {
		fmt.Fprintf(w, "verified by %s at %s: %s\n",
			receipt.Result.Oracle.String(), receipt.Result.SignedAt.Format(time.RFC3339), receipt.Result.Outcome)
	}
	return nil
}

func status(o domain.Obligation, now time.Time) string {
	s := string(o.SettlementStatus())
	if o.InDefault(now) {
		s += " (DEFAULT)"
	}
	return s
}

func dueString(due *time.Time) string {
	if due == nil {
		return "-"
	}
	return due.Format("2006-01-02")
}

func methodString(m *domain.SettlementMethod) string {
	if m == nil {
		return "-"
	}
	if !m.IsOffLedger() {
		return fmt.Sprintf("on-ledger %v", m.AcceptableTokens)
	}
	s := fmt.Sprintf("%s to %s", m.Rail, m.AccountToPay)
	if m.SettlementOracle != nil {
		s += ", oracle " + m.SettlementOracle.String()
	}
	return s
}
