package stream

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/tarungka/wiresql/internal/models"
)

// printMu serializes every printer so lines from different partitions
// never interleave.
var printMu sync.Mutex

// printer renders records as `key | col, col, ...`, one per line.
type printer struct {
	w   io.Writer
	key *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, key: color.New(color.FgCyan, color.Bold)}
}

func (p *printer) print(rec models.KeyedRecord) {
	value := rec.Value.String()
	if rec.Value.IsZero() {
		value = color.New(color.Faint).Sprint("<tombstone>")
	}
	printMu.Lock()
	defer printMu.Unlock()
	fmt.Fprintf(p.w, "%s | %s\n", p.key.Sprint(rec.Key), value)
}
