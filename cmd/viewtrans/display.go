package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hazyhaar/viewtrans/viewtrans"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#42E7FF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	activeStyle = cellStyle.Foreground(lipgloss.Color("#60F281"))
)

var statsHeaders = []string{"TAB", "STATE", "OBSERVED", "PENDING", "IN FLIGHT", "BATCHES", "RENDERED", "FAILED", "URL"}

func printStats(w io.Writer, format string, tabs []viewtrans.Stats) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tabs)
	}
	if len(tabs) == 0 {
		_, err := fmt.Fprintln(w, "No tabs")
		return err
	}
	_, err := fmt.Fprintln(w, statsTable(tabs))
	return err
}

func statsTable(tabs []viewtrans.Stats) string {
	rows := make([][]string, len(tabs))
	for i, st := range tabs {
		rows[i] = []string{
			st.TabID,
			st.State.String(),
			strconv.Itoa(st.Observed),
			strconv.Itoa(st.Pending),
			strconv.Itoa(st.InFlight),
			strconv.Itoa(st.Batches),
			strconv.Itoa(st.Rendered),
			strconv.Itoa(st.Failed),
			st.URL,
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(statsHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 1 && rows[row][1] == viewtrans.Active.String():
				return activeStyle
			}
			return cellStyle
		})
	return t.String()
}
