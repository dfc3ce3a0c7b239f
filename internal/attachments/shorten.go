package attachments

import "strings"

const (
	shortenThreshold = 15
	shortenPrefix    = 9
	ellipsis         = "..."
)

// Shorten compacts long filenames for display, keeping a short prefix and
// the extension: "averylongfilename.json" becomes "averylong....json".
func Shorten(filename string) string {
	runes := []rune(filename)
	if len(runes) <= shortenThreshold {
		return filename
	}
	prefix := string(runes[:shortenPrefix])
	dot := strings.LastIndex(filename, ".")
	if dot <= 0 || dot == len(filename)-1 {
		return prefix + ellipsis
	}
	return prefix + ellipsis + filename[dot:]
}
