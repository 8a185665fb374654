package main

import (
	"encoding/json"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"bankintake/internal/domain"
	"bankintake/internal/engine"
	"bankintake/internal/events"
)

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(c.out)
	tw.SetStyle(table.StyleLight)
	return tw
}

func (c *cli) renderApplications(items []domain.Application) {
	tw := c.newTable()
	tw.AppendHeader(table.Row{"Reference", "Family", "Type", "Applicant", "Status", "Submitted"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ReferenceNumber, a.Family, a.ProductType.Label(), a.ApplicantName, a.Status, events.FormatTime(a.SubmittedAt)})
	}
	tw.Render()
}

func (c *cli) renderApplication(a domain.Application) {
	tw := c.newTable()
	tw.AppendRows([]table.Row{
		{"id", a.ID},
		{"reference", a.ReferenceNumber},
		{"type", a.ProductType.Label()},
		{"applicant", a.ApplicantName},
		{"status", a.Status},
		{"submitted", events.FormatTime(a.SubmittedAt)},
	})
	if a.DecidedAt != nil {
		tw.AppendRow(table.Row{"decided", events.FormatTime(*a.DecidedAt)})
		tw.AppendRow(table.Row{"decided by", a.DecidedBy})
	}
	tw.AppendSeparator()
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tw.AppendRow(table.Row{k, a.Fields[k]})
	}
	tw.Render()
}

func (c *cli) renderEvents(evts []domain.Event) {
	tw := c.newTable()
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Actor"})
	for _, e := range evts {
		tw.AppendRow(table.Row{e.ID, events.FormatTime(e.TS), e.Type, e.ActorID})
	}
	tw.Render()
}

func (c *cli) renderStats(s engine.Stats) {
	tw := c.newTable()
	tw.AppendHeader(table.Row{"Family", "Pending", "Approved", "Rejected", "Total"})
	for _, f := range s.Families {
		tw.AppendRow(table.Row{f.Family, f.Pending, f.Approved, f.Rejected, f.Total})
	}
	tw.AppendFooter(table.Row{"all", s.TotalPending, "", "", s.Total})
	tw.Render()
}
