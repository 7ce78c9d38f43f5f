package money

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders amounts for human-facing output (reports, logs) with
// locale-aware digit grouping.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter builds a Formatter for the given BCP 47 tag, falling back to
// English when the tag is empty or malformed.
func NewFormatter(tag string) *Formatter {
	lang, err := language.Parse(tag)
	if err != nil {
		lang = language.English
	}
	return &Formatter{printer: message.NewPrinter(lang)}
}

// Format renders the amount with grouped thousands, e.g. "1,234.50".
func (f *Formatter) Format(a Amount) string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return f.printer.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
