package model

import "unicode/utf8"

// previewMax bounds conversation preview text.
const previewMax = 100

// Preview truncates message content for use as a conversation preview,
// cutting at a rune boundary so the result stays valid UTF-8.
func Preview(s string) string {
	if len(s) <= previewMax {
		return s
	}
	cut := previewMax
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
