package main

import (
	"strconv"

	"github.com/cuongbtq/voicenote-jobs/internal/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

type namedStats struct {
	name  domain.QueueName
	stats domain.QueueStats
}

type statsColumn struct {
	header string
	align  text.Align
	value  func(row namedStats) string
}

var statsColumns = []statsColumn{
	{header: "Queue", align: text.AlignLeft, value: func(r namedStats) string { return string(r.name) }},
	{header: "State", align: text.AlignLeft, value: func(r namedStats) string { return stateLabel(r.stats.Paused) }},
	{header: "Waiting", align: text.AlignRight, value: func(r namedStats) string { return strconv.Itoa(r.stats.Waiting) }},
	{header: "Active", align: text.AlignRight, value: func(r namedStats) string { return strconv.Itoa(r.stats.Active) }},
	{header: "Delayed", align: text.AlignRight, value: func(r namedStats) string { return strconv.Itoa(r.stats.Delayed) }},
	{header: "Completed", align: text.AlignRight, value: func(r namedStats) string { return strconv.Itoa(r.stats.Completed) }},
	{header: "Failed", align: text.AlignRight, value: func(r namedStats) string { return strconv.Itoa(r.stats.Failed) }},
}

// renderStats draws one row per queue. Headers keep their case; the state
// column is colored only when colorize is set.
func renderStats(rows []namedStats, colorize bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, 0, len(statsColumns))
	configs := make([]table.ColumnConfig, 0, len(statsColumns))
	for i, col := range statsColumns {
		header = append(header, col.header)
		cfg := table.ColumnConfig{
			Number:      i + 1,
			Align:       col.align,
			AlignHeader: text.AlignLeft,
		}
		if col.header == "State" && colorize {
			cfg.Transformer = colorState
		}
		configs = append(configs, cfg)
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, r := range rows {
		row := make(table.Row, 0, len(statsColumns))
		for _, col := range statsColumns {
			row = append(row, col.value(r))
		}
		tw.AppendRow(row)
	}

	return tw.Render() + "\n"
}

func stateLabel(paused bool) string {
	if paused {
		return "paused"
	}
	return "running"
}

func colorState(val any) string {
	label, _ := val.(string)
	switch label {
	case "paused":
		return ansiYellow + label + ansiReset
	case "running":
		return ansiGreen + label + ansiReset
	default:
		return label
	}
}
