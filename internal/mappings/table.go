package mappings

import (
	"fmt"
	"sort"
	"strings"
)

// Table is a concrete renaming table. Names of classes and members are given
// per namespace, in the order of Namespaces. Member descriptors are expressed
// in the first namespace. Entries missing from a table map to themselves.
type Table struct {
	Namespaces []string
	Classes    []Class
}

type Class struct {
	Names   []string
	Fields  []Member
	Methods []Member
}

type Member struct {
	Desc  string
	Names []string
}

func (t *Table) from() string { return t.Namespaces[0] }

func (t *Table) validate() error {
	n := len(t.Namespaces)
	if n < 2 {
		return fmt.Errorf("table needs at least two namespaces, has %d", n)
	}
	for _, c := range t.Classes {
		if len(c.Names) != n {
			return fmt.Errorf("class %v has %d names, want %d", c.Names, len(c.Names), n)
		}
		for _, m := range append(append([]Member(nil), c.Fields...), c.Methods...) {
			if len(m.Names) != n {
				return fmt.Errorf("member %v of %s has %d names, want %d", m.Names, c.Names[0], len(m.Names), n)
			}
		}
	}
	return nil
}

// classMap maps first-namespace class names to names in namespace column col.
func (t *Table) classMap(col int) map[string]string {
	out := make(map[string]string, len(t.Classes))
	for _, c := range t.Classes {
		out[c.Names[0]] = c.Names[col]
	}
	return out
}

// Canonical returns a copy with classes and members sorted by their
// first-namespace identity.
func (t *Table) Canonical() *Table {
	out := &Table{Namespaces: append([]string(nil), t.Namespaces...)}
	for _, c := range t.Classes {
		cc := Class{
			Names:   append([]string(nil), c.Names...),
			Fields:  sortedMembers(c.Fields),
			Methods: sortedMembers(c.Methods),
		}
		out.Classes = append(out.Classes, cc)
	}
	sort.Slice(out.Classes, func(i, j int) bool { return out.Classes[i].Names[0] < out.Classes[j].Names[0] })
	return out
}

func sortedMembers(ms []Member) []Member {
	out := make([]Member, len(ms))
	for i, m := range ms {
		out[i] = Member{Desc: m.Desc, Names: append([]string(nil), m.Names...)}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Names[0] != out[j].Names[0] {
			return out[i].Names[0] < out[j].Names[0]
		}
		return out[i].Desc < out[j].Desc
	})
	return out
}

// Reverse swaps the namespaces of a two-namespace table and rewrites member
// descriptors into the new source namespace. Where several classes share a
// target name, the first one is kept.
func (t *Table) Reverse() (*Table, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if len(t.Namespaces) != 2 {
		return nil, mismatchf("cannot reverse a table with %d namespaces", len(t.Namespaces))
	}
	classes := t.classMap(1)
	out := &Table{Namespaces: []string{t.Namespaces[1], t.Namespaces[0]}}
	seen := make(map[string]struct{}, len(t.Classes))
	for _, c := range t.Classes {
		if _, dup := seen[c.Names[1]]; dup {
			continue
		}
		seen[c.Names[1]] = struct{}{}
		rc := Class{Names: []string{c.Names[1], c.Names[0]}}
		for _, f := range c.Fields {
			rc.Fields = append(rc.Fields, Member{Desc: remapDesc(f.Desc, classes), Names: []string{f.Names[1], f.Names[0]}})
		}
		for _, m := range c.Methods {
			rc.Methods = append(rc.Methods, Member{Desc: remapDesc(m.Desc, classes), Names: []string{m.Names[1], m.Names[0]}})
		}
		out.Classes = append(out.Classes, rc)
	}
	return out, nil
}

// ChainTables composes a (X -> Y) with b (Y -> Z) into X -> Z.
func ChainTables(a, b *Table) (*Table, error) {
	for _, t := range []*Table{a, b} {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if len(t.Namespaces) != 2 {
			return nil, mismatchf("cannot chain a table with %d namespaces", len(t.Namespaces))
		}
	}
	if a.Namespaces[1] != b.Namespaces[0] {
		return nil, mismatchf("cannot chain %s -> %s with %s -> %s", a.Namespaces[0], a.Namespaces[1], b.Namespaces[0], b.Namespaces[1])
	}

	aToY := a.classMap(1)
	yToX := make(map[string]string, len(a.Classes))
	for _, c := range a.Classes {
		if _, ok := yToX[c.Names[1]]; !ok {
			yToX[c.Names[1]] = c.Names[0]
		}
	}
	byY := make(map[string]Class, len(b.Classes))
	for _, c := range b.Classes {
		byY[c.Names[0]] = c
	}

	out := &Table{Namespaces: []string{a.Namespaces[0], b.Namespaces[1]}}
	for _, ca := range a.Classes {
		y := ca.Names[1]
		cb, ok := byY[y]
		z := y
		if ok {
			z = cb.Names[1]
		}
		oc := Class{Names: []string{ca.Names[0], z}}
		oc.Fields = chainMembers(ca.Fields, cb.Fields, aToY, yToX)
		oc.Methods = chainMembers(ca.Methods, cb.Methods, aToY, yToX)
		out.Classes = append(out.Classes, oc)
	}
	// A class of b is also reached by its own name whenever a leaves that
	// name alone, even if some other class of a is renamed onto it.
	for _, cb := range b.Classes {
		y := cb.Names[0]
		if _, renamed := aToY[y]; renamed {
			continue
		}
		oc := Class{Names: []string{y, cb.Names[1]}}
		oc.Fields = chainMembers(nil, cb.Fields, aToY, yToX)
		oc.Methods = chainMembers(nil, cb.Methods, aToY, yToX)
		out.Classes = append(out.Classes, oc)
	}
	return out, nil
}

func chainMembers(as, bs []Member, aToY, yToX map[string]string) []Member {
	type key struct{ name, desc string }
	byY := make(map[key]Member, len(bs))
	for _, m := range bs {
		byY[key{m.Names[0], m.Desc}] = m
	}
	var out []Member
	inA := make(map[key]struct{}, len(as))
	for _, ma := range as {
		inA[key{ma.Names[0], ma.Desc}] = struct{}{}
		z := ma.Names[1]
		if mb, ok := byY[key{ma.Names[1], remapDesc(ma.Desc, aToY)}]; ok {
			z = mb.Names[1]
		}
		out = append(out, Member{Desc: ma.Desc, Names: []string{ma.Names[0], z}})
	}
	for _, mb := range bs {
		desc := remapDesc(mb.Desc, yToX)
		if _, renamed := inA[key{mb.Names[0], desc}]; renamed {
			continue
		}
		out = append(out, Member{Desc: desc, Names: []string{mb.Names[0], mb.Names[1]}})
	}
	return out
}

// MergeTables combines tables sharing a source namespace. Target namespaces
// are unioned in order; where both tables name the same namespace, a wins.
func MergeTables(a, b *Table) (*Table, error) {
	for _, t := range []*Table{a, b} {
		if err := t.validate(); err != nil {
			return nil, err
		}
	}
	if a.from() != b.from() {
		return nil, mismatchf("cannot merge tables from %s and %s", a.from(), b.from())
	}

	namespaces := append([]string(nil), a.Namespaces...)
	bCol := make(map[string]int)
	for i, ns := range b.Namespaces {
		bCol[ns] = i
	}
	aCol := make(map[string]int)
	for i, ns := range a.Namespaces {
		aCol[ns] = i
	}
	for _, ns := range b.Namespaces[1:] {
		if _, ok := aCol[ns]; !ok {
			namespaces = append(namespaces, ns)
		}
	}

	pick := func(x string, an, bn []string) []string {
		names := make([]string, len(namespaces))
		names[0] = x
		for i, ns := range namespaces[1:] {
			names[i+1] = x
			if c, ok := aCol[ns]; ok && an != nil {
				names[i+1] = an[c]
			} else if c, ok := bCol[ns]; ok && bn != nil {
				names[i+1] = bn[c]
			}
		}
		return names
	}

	bClasses := make(map[string]Class, len(b.Classes))
	for _, c := range b.Classes {
		bClasses[c.Names[0]] = c
	}
	out := &Table{Namespaces: namespaces}
	seen := make(map[string]struct{})
	for _, ca := range a.Classes {
		cb, ok := bClasses[ca.Names[0]]
		var bn []string
		if ok {
			bn = cb.Names
		}
		seen[ca.Names[0]] = struct{}{}
		out.Classes = append(out.Classes, Class{
			Names:   pick(ca.Names[0], ca.Names, bn),
			Fields:  mergeMembers(ca.Fields, cb.Fields, pick),
			Methods: mergeMembers(ca.Methods, cb.Methods, pick),
		})
	}
	for _, cb := range b.Classes {
		if _, ok := seen[cb.Names[0]]; ok {
			continue
		}
		out.Classes = append(out.Classes, Class{
			Names:   pick(cb.Names[0], nil, cb.Names),
			Fields:  mergeMembers(nil, cb.Fields, pick),
			Methods: mergeMembers(nil, cb.Methods, pick),
		})
	}
	return out, nil
}

func mergeMembers(as, bs []Member, pick func(string, []string, []string) []string) []Member {
	type key struct{ name, desc string }
	byKey := make(map[key]Member, len(bs))
	for _, m := range bs {
		byKey[key{m.Names[0], m.Desc}] = m
	}
	var out []Member
	seen := make(map[key]struct{})
	for _, ma := range as {
		k := key{ma.Names[0], ma.Desc}
		seen[k] = struct{}{}
		var bn []string
		if mb, ok := byKey[k]; ok {
			bn = mb.Names
		}
		out = append(out, Member{Desc: ma.Desc, Names: pick(ma.Names[0], ma.Names, bn)})
	}
	for _, mb := range bs {
		k := key{mb.Names[0], mb.Desc}
		if _, ok := seen[k]; ok {
			continue
		}
		out = append(out, Member{Desc: mb.Desc, Names: pick(mb.Names[0], nil, mb.Names)})
	}
	return out
}

// remapDesc rewrites the class names inside a JVM field or method descriptor.
// Unknown classes are left unchanged.
func remapDesc(desc string, classes map[string]string) string {
	if !strings.ContainsRune(desc, 'L') {
		return desc
	}
	var sb strings.Builder
	for i := 0; i < len(desc); i++ {
		ch := desc[i]
		sb.WriteByte(ch)
		if ch != 'L' {
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			sb.WriteString(desc[i+1:])
			break
		}
		name := desc[i+1 : i+end]
		if mapped, ok := classes[name]; ok {
			name = mapped
		}
		sb.WriteString(name)
		sb.WriteByte(';')
		i += end
	}
	return sb.String()
}
