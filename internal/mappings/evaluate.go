package mappings

import (
	"fmt"
	"strings"
)

// Loader materializes the table of a file source.
type Loader func(File) (*Table, error)

// Evaluate computes the table a source describes over concrete tables.
func Evaluate(s Source, load Loader) (*Table, error) {
	if _, _, err := s.Namespaces(); err != nil {
		return nil, err
	}
	return evaluate(s.Normalize(), load)
}

func evaluate(s Source, load Loader) (*Table, error) {
	switch s.kind {
	case kindFile:
		t, err := load(s.file)
		if err != nil {
			return nil, fmt.Errorf("load mappings: %w", err)
		}
		want := append([]string{s.file.From}, s.file.To...)
		if strings.Join(t.Namespaces, ",") != strings.Join(want, ",") {
			return nil, mismatchf("file declares [%s], table has [%s]", strings.Join(want, ","), strings.Join(t.Namespaces, ","))
		}
		return t, nil
	case kindReverse:
		inner, err := evaluate(s.parts[0], load)
		if err != nil {
			return nil, err
		}
		return inner.Reverse()
	}

	combine := ChainTables
	if s.kind == kindMerge {
		combine = MergeTables
	}
	acc, err := evaluate(s.parts[0], load)
	if err != nil {
		return nil, err
	}
	for _, p := range s.parts[1:] {
		next, err := evaluate(p, load)
		if err != nil {
			return nil, err
		}
		if acc, err = combine(acc, next); err != nil {
			return nil, err
		}
	}
	return acc, nil
}
