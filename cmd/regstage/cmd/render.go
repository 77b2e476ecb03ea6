package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
)

// outputWriter is used for printing reports, can be overridden in tests
var outputWriter io.Writer = os.Stdout

func setOutputWriter(w io.Writer) {
	outputWriter = w
}

func resetOutputWriter() {
	outputWriter = os.Stdout
}

// printHeader prints a formatted header
func printHeader(format string, args ...interface{}) {
	title := fmt.Sprintf(format, args...)
	width := visualWidth(title) + 4
	fmt.Fprintln(outputWriter, strings.Repeat("=", width))
	fmt.Fprintf(outputWriter, "  %s\n", color.Bold.Sprint(title))
	fmt.Fprintln(outputWriter, strings.Repeat("=", width))
}

// printSection prints a section header
func printSection(title string) {
	fmt.Fprintf(outputWriter, "[%s]\n", title)
	fmt.Fprintln(outputWriter, strings.Repeat("-", visualWidth(title)+2))
}

// printTable prints rows in aligned columns under headers.
func printTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = visualWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && visualWidth(cell) > widths[i] {
				widths[i] = visualWidth(cell)
			}
		}
	}

	printRow(headers, widths)
	sep := make([]string, len(widths))
	for i, w := range widths {
		sep[i] = strings.Repeat("-", w)
	}
	printRow(sep, widths)
	for _, row := range rows {
		printRow(row, widths)
	}
}

func printRow(cells []string, widths []int) {
	var sb strings.Builder
	sb.WriteString(" ")
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		sb.WriteString(" ")
		sb.WriteString(cell)
		if i < len(widths)-1 {
			sb.WriteString(strings.Repeat(" ", w-visualWidth(cell)+1))
		}
	}
	fmt.Fprintln(outputWriter, strings.TrimRight(sb.String(), " "))
}

// printKV prints label/value pairs with aligned values.
func printKV(pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		if w := visualWidth(p[0]); w > width {
			width = w
		}
	}
	for _, p := range pairs {
		fmt.Fprintf(outputWriter, "  %s %s\n", runewidth.FillRight(p[0]+":", width+1), p[1])
	}
}

// mark renders a pass/fail marker.
func mark(ok bool) string {
	if ok {
		return color.Green.Sprint("✓")
	}
	return color.Red.Sprint("✗")
}

// visualWidth returns the terminal width of s, ignoring color codes.
func visualWidth(s string) int {
	return runewidth.StringWidth(color.ClearCode(s))
}
