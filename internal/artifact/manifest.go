package artifact

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ManifestHeader is the comment line written at the top of every manifest.
const ManifestHeader = "#Generated by crochet"

// Manifest holds parallel lists of identifiers and absolute file paths.
// Identifiers may be blank; blank entries are not written.
type Manifest struct {
	Identifiers []string
	Files       []string
}

// Resolve computes the identifier and absolute path of every file, in input order.
func Resolve(rs []Resolved) (Manifest, error) {
	m := Manifest{
		Identifiers: make([]string, 0, len(rs)),
		Files:       make([]string, 0, len(rs)),
	}
	for _, r := range rs {
		abs, err := filepath.Abs(r.File)
		if err != nil {
			return Manifest{}, fmt.Errorf("resolve %s: %w", r.File, err)
		}
		m.Identifiers = append(m.Identifiers, Identifier(r))
		m.Files = append(m.Files, abs)
	}
	return m, nil
}

// AddSingle binds identifier to the only file in rs. Zero files add nothing;
// more than one is an error.
func (m *Manifest) AddSingle(identifier string, rs []Resolved) error {
	switch len(rs) {
	case 0:
		return nil
	case 1:
	default:
		return fmt.Errorf("expected exactly one artifact for %s, got %d", identifier, len(rs))
	}
	abs, err := filepath.Abs(rs[0].File)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", rs[0].File, err)
	}
	m.Identifiers = append(m.Identifiers, identifier)
	m.Files = append(m.Files, abs)
	return nil
}

// Entries returns identifier -> path for every non-blank identifier. When an
// identifier occurs twice the later file wins; the overridden identifiers are
// returned sorted.
func (m Manifest) Entries() (map[string]string, []string) {
	out := make(map[string]string, len(m.Identifiers))
	dupSet := make(map[string]struct{})
	for i, id := range m.Identifiers {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if prev, ok := out[id]; ok && prev != m.Files[i] {
			dupSet[id] = struct{}{}
		}
		out[id] = m.Files[i]
	}
	dups := make([]string, 0, len(dupSet))
	for id := range dupSet {
		dups = append(dups, id)
	}
	sort.Strings(dups)
	return out, dups
}

// Write writes the manifest as a properties file sorted by identifier. The
// output depends only on the manifest contents.
func (m Manifest) Write(w io.Writer, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	entries, dups := m.Entries()
	for _, id := range dups {
		logger.Warnw("artifact identifier bound to more than one file, keeping the last", "identifier", id, "file", entries[id])
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, ManifestHeader)
	for _, id := range ids {
		fmt.Fprintf(bw, "%s=%s\n", escapeProperty(id, true), escapeProperty(entries[id], false))
	}
	return bw.Flush()
}

// escapeProperty applies properties-file escaping. Keys escape every space;
// values only a leading one.
func escapeProperty(s string, key bool) string {
	var sb strings.Builder
	for i, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\f':
			sb.WriteString(`\f`)
		case '=', ':', '#', '!':
			sb.WriteByte('\\')
			sb.WriteRune(r)
		case ' ':
			if key || i == 0 {
				sb.WriteByte('\\')
			}
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ParseManifest reads a manifest written by Write.
func ParseManifest(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "!") {
			continue
		}
		key, value, ok := splitProperty(text)
		if !ok {
			return nil, fmt.Errorf("manifest line %d: missing separator", line)
		}
		out[key] = value
	}
	return out, sc.Err()
}

func splitProperty(line string) (string, string, bool) {
	var key strings.Builder
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if ch == '\\' && i+1 < len(line) {
			i++
			key.WriteByte(unescapeByte(line[i]))
			continue
		}
		if ch == '=' {
			return key.String(), unescapeProperty(line[i+1:]), true
		}
		key.WriteByte(ch)
	}
	return "", "", false
}

func unescapeProperty(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			sb.WriteByte(unescapeByte(s[i]))
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func unescapeByte(b byte) byte {
	switch b {
	case 't':
		return '\t'
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 'f':
		return '\f'
	}
	return b
}
