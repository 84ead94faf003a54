package core

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// PrintTable writes rows as aligned columns to stdout, the way the SLURM
// client commands lay out their output. The first row is the header.
func PrintTable(table [][]string, skipHeader bool) {
	WriteTable(os.Stdout, table, skipHeader)
}

// WriteTable is PrintTable with an explicit destination.
func WriteTable(w io.Writer, table [][]string, skipHeader bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, row := range table {
		if i == 0 && skipHeader {
			continue
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}
