package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// tableFunc builds the header and rows of the table view lazily.
type tableFunc func() ([]string, [][]string)

func formatJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func formatTable(w io.Writer, headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

// output prints v in the --format selected. quiet prints quietVal alone;
// table falls back to JSON when the command has no table view.
func output(w io.Writer, v any, quietVal string, table tableFunc) {
	var err error

	switch {
	case flagFmt == "quiet":
		_, err = fmt.Fprintln(w, quietVal)
	case flagFmt == "table" && table != nil:
		headers, rows := table()
		err = formatTable(w, headers, rows)
	default:
		err = formatJSON(w, v)
	}

	if err != nil {
		fatal("write output", err)
	}
}
