package presence

import "unicode/utf16"

// cursorPalette is the fixed set of collaborator colors. Assignment is a pure
// function of the display name so every client renders the same peer in the
// same color without coordination.
var cursorPalette = []string{
	"#e06c75",
	"#d19a66",
	"#e5c07b",
	"#98c379",
	"#56b6c2",
	"#61afef",
	"#c678dd",
	"#be5046",
	"#2aa198",
	"#d33682",
	"#6c71c4",
	"#859900",
}

const colorHashMod = 2147483647

// ColorFor maps a display name to a palette color. The hash runs over UTF-16
// code units so names with astral-plane characters hash the same way the
// browser client hashes them.
func ColorFor(name string) string {
	units := utf16.Encode([]rune(name))
	var acc int64
	for _, u := range units {
		acc = (acc*31 + int64(u)) % colorHashMod
	}
	return cursorPalette[acc%int64(len(cursorPalette))]
}
