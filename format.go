package deepdelta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// FormatPrettyString is a convenience wrapper that outputs to a string
// instead of an io.Writer.
func FormatPrettyString(changes Changes, colorTTY bool) (string, error) {
	buf := &bytes.Buffer{}
	if err := FormatPretty(buf, changes, colorTTY); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatPretty writes a text report to w, one line per change. If colorTTY
// is true it adds
// red "-" for deletions
// green "+" for insertions
// blue "~" for updates
func FormatPretty(w io.Writer, changes Changes, colorTTY bool) error {
	var colorMap map[ChangeType]string

	if colorTTY {
		colorMap = map[ChangeType]string{
			ChangeType("close"): "\x1b[0m", // end color tag

			CTInsert: "\x1b[32m", // green
			CTDelete: "\x1b[31m", // red
			CTUpdate: "\x1b[34m", // blue
		}
	}

	for _, c := range changes {
		val := c.After
		if c.Type == CTDelete {
			val = c.Before
		}
		dataStr := ""
		if val != nil {
			data, err := json.Marshal(val)
			if err != nil {
				return err
			}
			dataStr = string(data)
		}
		fmt.Fprintf(w, "%s%s%s: %s%s\n", colorMap[c.Type], c.Type, c.Path, dataStr, colorMap[ChangeType("close")])
	}

	return nil
}

// FormatPrettyStats prints a one-line summary of diff stats.
func FormatPrettyStats(st *Stats) string {
	return formatStats(st, false)
}

// FormatPrettyStatsColor prints a one-line summary with ANSI colors.
func FormatPrettyStatsColor(st *Stats) string {
	return formatStats(st, true)
}

func formatStats(st *Stats, color bool) string {
	var neutralColor, insertColor, deleteColor, updateColor, closeColor string

	if st == nil {
		return "<nil>"
	}

	if color {
		neutralColor = "\x1b[37m"
		insertColor = "\x1b[32m"
		deleteColor = "\x1b[31m"
		updateColor = "\x1b[34m"
		closeColor = "\x1b[0m"
	}

	buf := &bytes.Buffer{}

	elsColor := insertColor
	change := st.NetChange()
	elementsWord := "members"
	sign := "+"
	if change < 0 {
		elsColor = deleteColor
		sign = ""
	} else if change == 0 {
		elsColor = neutralColor
		sign = ""
	}
	if change == 1 || change == -1 {
		elementsWord = "member"
	}

	fmt.Fprintf(buf, "%s%s%d %s%s%s%s.",
		elsColor, sign, change, closeColor,
		neutralColor, elementsWord, closeColor,
	)

	insertsWord := "inserts"
	if st.Inserts == 1 {
		insertsWord = "insert"
	}
	fmt.Fprintf(buf, " %s%d %s.%s", insertColor, st.Inserts, insertsWord, closeColor)

	deletesWord := "deletes"
	if st.Deletes == 1 {
		deletesWord = "delete"
	}
	fmt.Fprintf(buf, " %s%d %s.%s", deleteColor, st.Deletes, deletesWord, closeColor)

	updatesWord := "updates"
	if st.Updates == 1 {
		updatesWord = "update"
	}
	fmt.Fprintf(buf, " %s%d %s.%s", updateColor, st.Updates, updatesWord, closeColor)

	buf.WriteRune('\n')

	return buf.String()
}
