package terminal

import (
	"errors"
	"sort"
)

// ErrUnknownKey is returned by SendKey for names not in Keys.
var ErrUnknownKey = errors.New("unknown key")

// Keys maps the named keys a toolbar can send to their byte sequences.
var Keys = map[string]string{
	"ESC":         "\x1b",
	"TAB":         "\t",
	"ENTER":       "\r",
	"CTRL_C":      "\x03",
	"CTRL_L":      "\x0c",
	"ARROW_UP":    "\x1b[A",
	"ARROW_DOWN":  "\x1b[B",
	"ARROW_RIGHT": "\x1b[C",
	"ARROW_LEFT":  "\x1b[D",
	"PAGE_UP":     "\x1b[5~",
	"PAGE_DOWN":   "\x1b[6~",
}

// KeyNames returns the supported key names in sorted order.
func KeyNames() []string {
	names := make([]string, 0, len(Keys))
	for name := range Keys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
