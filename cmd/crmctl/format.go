package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/estatedesk/crm/client"
)

func formatJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode json: %v\n", err)
		os.Exit(1)
	}
}

func formatTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			w := 0
			if i < len(widths) {
				w = widths[i]
			}
			parts[i] = fmt.Sprintf("%-*s", w, cell)
		}
		fmt.Println(strings.Join(parts, "  "))
	}

	printRow(headers)
	seps := make([]string, len(headers))
	for i, w := range widths {
		seps[i] = strings.Repeat("-", w)
	}
	printRow(seps)
	for _, row := range rows {
		printRow(row)
	}
}

func formatQuiet(id string) {
	fmt.Println(id)
}

// recordRows flattens records for table output.
func recordRows(recs []client.Record) [][]string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		archived := ""
		if r.ArchivedAt != nil {
			archived = r.ArchivedAt.Format(time.DateOnly)
		}
		rows = append(rows, []string{r.ID, r.Title, r.Status, r.OwnerID, strconv.Itoa(r.Version), strconv.FormatBool(r.IsPrivate), archived})
	}
	return rows
}

var recordHeaders = []string{"ID", "TITLE", "STATUS", "OWNER", "VERSION", "PRIVATE", "ARCHIVED"}

// outputRecord prints a single record in the selected format.
func outputRecord(rec *client.Record) {
	if flagFmt == "table" {
		formatTable(recordHeaders, recordRows([]client.Record{*rec}))
		return
	}
	output(rec, rec.ID)
}

func output(v any, quietVal string) {
	switch flagFmt {
	case "quiet":
		formatQuiet(quietVal)
	case "table":
		// Table requires caller to use formatTable directly.
		// Fallback to JSON for generic output.
		formatJSON(v)
	default:
		formatJSON(v)
	}
}
