package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Numeric columns are right aligned;
// a positive Wrap soft-wraps long free text such as reviewer remarks.
type column struct {
	Title   string
	Numeric bool
	Wrap    int
}

func textCol(title string) column { return column{Title: title} }
func numCol(title string) column  { return column{Title: title, Numeric: true} }
func wrapCol(title string) column { return column{Title: title, Wrap: 48} }

// renderTable draws rows under cols. Missing or empty cells print as "-".
func renderTable(cols []column, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, 0, len(cols))
	configs := make([]table.ColumnConfig, 0, len(cols))
	for i, c := range cols {
		header = append(header, c.Title)
		cfg := table.ColumnConfig{Number: i + 1, AlignHeader: text.AlignLeft, Align: text.AlignLeft}
		if c.Numeric {
			cfg.Align = text.AlignRight
		}
		if c.Wrap > 0 {
			cfg.WidthMax = c.Wrap
			cfg.WidthMaxEnforcer = text.WrapSoft
		}
		configs = append(configs, cfg)
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, row := range rows {
		r := make(table.Row, len(cols))
		for i := range r {
			r[i] = "-"
			if i < len(row) && row[i] != "" {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	return tw.Render()
}
