package artifact

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// Sanitize replaces every character outside [A-Za-z0-9_] with '_'.
func Sanitize(name string) string {
	return unsafeName.ReplaceAllString(name, "_")
}

// Destination is a collision-free output location for one input file.
type Destination struct {
	// Slot is the sanitized, unique name used for task outputs and aliases.
	Slot string
	// Path is dir/<Slot><extension>.
	Path string
}

// UniqueTargets assigns each file a destination under dir. The stem of the
// file name is sanitized; the first file with a given stem keeps it and later
// ones get _0, _1, ... appended, skipping any name already taken. Results are
// in input order.
func UniqueTargets(dir string, files []string) []Destination {
	taken := make(map[string]struct{}, len(files))
	next := make(map[string]int)
	out := make([]Destination, 0, len(files))
	for _, f := range files {
		name := filepath.Base(f)
		ext := filepath.Ext(name)
		stem := Sanitize(strings.TrimSuffix(name, ext))

		slot := stem
		if _, clash := taken[slot]; clash {
			for {
				slot = stem + "_" + strconv.Itoa(next[stem])
				next[stem]++
				if _, clash := taken[slot]; !clash {
					break
				}
			}
		}
		taken[slot] = struct{}{}
		out = append(out, Destination{Slot: slot, Path: filepath.Join(dir, slot+ext)})
	}
	return out
}
