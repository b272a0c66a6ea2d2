package mappings

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ReadTiny parses a Tiny v2 table. Parameters, local variables and comments
// are skipped; classes, fields and methods are kept.
func ReadTiny(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("tiny: empty input")
	}
	header := strings.Split(strings.TrimRight(sc.Text(), "\r"), "\t")
	if len(header) < 5 || header[0] != "tiny" || header[1] != "2" {
		return nil, fmt.Errorf("tiny: unsupported header %q", sc.Text())
	}
	t := &Table{Namespaces: append([]string(nil), header[3:]...)}
	n := len(t.Namespaces)

	escaped := false
	inHeader := true
	var cur *Class
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		depth := 0
		for depth < len(text) && text[depth] == '\t' {
			depth++
		}
		cols := strings.Split(text[depth:], "\t")

		if inHeader && depth == 1 && len(cols) <= 2 {
			if cols[0] == "escaped-names" {
				escaped = true
			}
			continue
		}
		inHeader = false

		switch {
		case depth == 0 && cols[0] == "c":
			names, err := tinyNames(cols[1:], n, escaped, line)
			if err != nil {
				return nil, err
			}
			t.Classes = append(t.Classes, Class{Names: names})
			cur = &t.Classes[len(t.Classes)-1]
		case depth == 1 && (cols[0] == "f" || cols[0] == "m"):
			if cur == nil {
				return nil, fmt.Errorf("tiny: line %d: member outside class", line)
			}
			if len(cols) < 2 {
				return nil, fmt.Errorf("tiny: line %d: member has no descriptor", line)
			}
			names, err := tinyNames(cols[2:], n, escaped, line)
			if err != nil {
				return nil, err
			}
			desc := cols[1]
			if escaped {
				desc = unescapeTiny(desc)
			}
			m := Member{Desc: desc, Names: names}
			if cols[0] == "f" {
				cur.Fields = append(cur.Fields, m)
			} else {
				cur.Methods = append(cur.Methods, m)
			}
		case depth >= 1:
			// comments, parameters and variables
		default:
			return nil, fmt.Errorf("tiny: line %d: unexpected entry %q", line, cols[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

func tinyNames(cols []string, n int, escaped bool, line int) ([]string, error) {
	if len(cols) != n {
		return nil, fmt.Errorf("tiny: line %d: %d names, want %d", line, len(cols), n)
	}
	names := make([]string, n)
	for i, c := range cols {
		if escaped {
			c = unescapeTiny(c)
		}
		if c == "" {
			c = names[0]
		}
		names[i] = c
	}
	if names[0] == "" {
		return nil, fmt.Errorf("tiny: line %d: missing source name", line)
	}
	return names, nil
}

// WriteTiny writes t as a Tiny v2 table, in the table's entry order.
func WriteTiny(w io.Writer, t *Table) error {
	if err := t.validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "tiny\t2\t0\t%s\n", strings.Join(t.Namespaces, "\t"))
	for _, c := range t.Classes {
		fmt.Fprintf(bw, "c\t%s\n", strings.Join(c.Names, "\t"))
		for _, f := range c.Fields {
			fmt.Fprintf(bw, "\tf\t%s\t%s\n", f.Desc, strings.Join(f.Names, "\t"))
		}
		for _, m := range c.Methods {
			fmt.Fprintf(bw, "\tm\t%s\t%s\n", m.Desc, strings.Join(m.Names, "\t"))
		}
	}
	return bw.Flush()
}

var tinyEscapes = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r", `\t`, "\t", `\0`, "\x00")

func unescapeTiny(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	return tinyEscapes.Replace(s)
}
