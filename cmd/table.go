package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// writeTable prints headers and rows as space-aligned columns.
func writeTable(out io.Writer, indent string, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	for _, row := range append([][]string{headers}, rows...) {
		padded := make([]string, len(row))
		for i, cell := range row {
			padded[i] = runewidth.FillRight(cell, widths[i])
		}
		fmt.Fprintln(out, strings.TrimRight(indent+strings.Join(padded, "  "), " "))
	}
}
