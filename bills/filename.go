package bills

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFilenameLength caps the length, in runes, of a derived filename
// including its extension.
const MaxFilenameLength = 120

// DeriveFilename returns the standardized, human-readable name of the bill
// document described by the Draft, eg:
//
//	BRK - CASA JARDIM - Venc 10-07-2025 - Comp 06-2025 - R$ 100,00.pdf
//
// Components which are empty are omitted. Characters which are illegal in
// common filesystems are removed, and the result is capped to MaxFilenameLength.
func DeriveFilename(d Draft) string {
	var parts = []string{"BRK"}

	for _, c := range []struct{ label, value string }{
		{"", d.LocationName},
		{"Venc ", d.DueDate},
		{"Comp ", d.BillingPeriod},
		{"", d.Amount},
	} {
		if v := sanitizeComponent(c.value); v != "" {
			parts = append(parts, c.label+v)
		}
	}
	var stem = strings.Join(parts, " - ")

	const ext = ".pdf"
	if n := MaxFilenameLength - len(ext); utf8.RuneCountInString(stem) > n {
		stem = strings.TrimSpace(string([]rune(stem)[:n]))
	}
	return stem + ext
}

// sanitizeComponent maps path separators to dashes, drops characters
// which are illegal in filenames, and collapses whitespace.
func sanitizeComponent(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '-'
		case strings.ContainsRune(`<>:"|?*`, r):
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
