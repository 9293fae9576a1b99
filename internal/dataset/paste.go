package dataset

import (
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
)

// Column names of a dataset built from pasted text.
const (
	PasteTitleColumn       = "Task"
	PasteDescriptionColumn = "Description"
)

// DefaultSeparator splits a pasted line into title and description.
const DefaultSeparator = ","

// ErrMissingSeparator marks a pasted line without a separator. Such lines are dropped.
var ErrMissingSeparator = errors.New("line has no separator")

// ParseText builds a two-column dataset from lines of the form "title<sep>description".
// Each line is split at the first separator and the halves are kept as typed.
// Blank lines and lines without the separator are skipped.
func ParseText(text, sep string) *Dataset {
	if sep == "" {
		sep = DefaultSeparator
	}

	ds := &Dataset{Columns: []string{PasteTitleColumn, PasteDescriptionColumn}}
	for n, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		title, desc, err := splitLine(line, sep)
		if err != nil {
			log.Debug().Int("line", n+1).Err(err).Msg("skipping pasted line")
			continue
		}
		ds.Rows = append(ds.Rows, Row{
			PasteTitleColumn:       title,
			PasteDescriptionColumn: desc,
		})
	}
	return ds
}

func splitLine(line, sep string) (string, string, error) {
	title, desc, ok := strings.Cut(line, sep)
	if !ok {
		return "", "", ErrMissingSeparator
	}
	return title, desc, nil
}
