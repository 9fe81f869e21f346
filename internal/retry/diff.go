package retry

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffStat counts the lines an accepted candidate added and removed.
type DiffStat struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

func (d DiffStat) String() string {
	return fmt.Sprintf("+%d -%d", d.Added, d.Removed)
}

// LineDiff computes a line-level diff stat between two versions of a file.
func LineDiff(oldContent, newContent string) DiffStat {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var st DiffStat
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			st.Added += n
		case diffmatchpatch.DiffDelete:
			st.Removed += n
		}
	}
	return st
}
