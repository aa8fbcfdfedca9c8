// Package gift maps calendar dates to gift message texts.
//
// Bespoke texts live as embedded MM-DD.txt files; every other date gets a
// generic message, so the lookup is total over all dates.
package gift

import (
	"embed"
	"fmt"
	"strings"
	"time"
)

//go:embed texts/*.txt
var textsFS embed.FS

const fallbackFmt = "Вот твой подарочек на %s! 🎁"

// Text returns the gift message for a calendar date. Pure and total:
// same date, same text, no side effects.
func Text(date time.Time) string {
	name := fmt.Sprintf("texts/%02d-%02d.txt", int(date.Month()), date.Day())
	if b, err := textsFS.ReadFile(name); err == nil {
		return strings.TrimRight(string(b), "\n")
	}
	return fmt.Sprintf(fallbackFmt, date.Format("02.01"))
}
