package artifact

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestIdentifier(t *testing.T) {
	mod := &ModuleID{Group: "net.example", Name: "lib", Version: "1.2"}
	cases := []struct {
		name string
		in   Resolved
		want string
	}{
		{"plain jar", Resolved{File: "/repo/lib-1.2.jar", Module: mod}, "net.example:lib:1.2"},
		{"classifier", Resolved{File: "/repo/lib-1.2-sources.jar", Module: mod}, "net.example:lib:1.2:sources"},
		{"extension", Resolved{File: "/repo/lib-1.2.zip", Module: mod}, "net.example:lib:1.2@zip"},
		{"classifier and extension", Resolved{File: "/repo/lib-1.2-natives.tar", Module: mod}, "net.example:lib:1.2:natives@tar"},
		{"empty classifier", Resolved{File: "/repo/lib-1.2-.jar", Module: mod}, "net.example:lib:1.2"},
		{"renamed file", Resolved{File: "/cache/abcdef.jar", Module: mod}, "net.example:lib:1.2"},
		{
			"single capability",
			Resolved{File: "/build/mod.jar", Capabilities: []Capability{{Group: "dev.example", Name: "mod", Version: "0.1"}}},
			"dev.example:mod:0.1",
		},
		{
			"two capabilities",
			Resolved{File: "/build/mod.jar", Capabilities: []Capability{{Name: "a"}, {Name: "b"}}},
			"",
		},
		{"no identity", Resolved{File: "/build/mod.jar"}, ""},
	}
	for _, tc := range cases {
		if got := Identifier(tc.in); got != tc.want {
			t.Fatalf("%s: Identifier() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func sampleResolved() []Resolved {
	return []Resolved{
		{File: "/repo/b-1.0.jar", Module: &ModuleID{Group: "g", Name: "b", Version: "1.0"}},
		{File: "/build/local.jar"},
		{File: "/repo/a-2.0-sources.jar", Module: &ModuleID{Group: "g", Name: "a", Version: "2.0"}},
	}
}

func TestResolve_ParallelLists(t *testing.T) {
	m, err := Resolve(sampleResolved())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if diff := cmp.Diff([]string{"g:b:1.0", "", "g:a:2.0:sources"}, m.Identifiers); diff != "" {
		t.Fatalf("identifiers mismatch (-want +got):\n%s", diff)
	}
	for _, f := range m.Files {
		if !filepath.IsAbs(f) {
			t.Fatalf("expected absolute path, got %q", f)
		}
	}
}

func TestManifestWrite_Deterministic(t *testing.T) {
	var first []byte
	for i := 0; i < 3; i++ {
		rs := sampleResolved()
		if i == 1 {
			rs[0], rs[2] = rs[2], rs[0]
		}
		m, err := Resolve(rs)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		var buf bytes.Buffer
		if err := m.Write(&buf, nil); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if first == nil {
			first = buf.Bytes()
			continue
		}
		if !bytes.Equal(first, buf.Bytes()) {
			t.Fatalf("manifest bytes differ:\n%s\n---\n%s", first, buf.Bytes())
		}
	}

	lines := strings.Split(strings.TrimSpace(string(first)), "\n")
	want := []string{ManifestHeader, `g\:a\:2.0\:sources=/repo/a-2.0-sources.jar`, `g\:b\:1.0=/repo/b-1.0.jar`}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Fatalf("manifest mismatch (-want +got):\n%s", diff)
	}

	parsed, err := ParseManifest(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if parsed["g:a:2.0:sources"] != "/repo/a-2.0-sources.jar" || len(parsed) != 2 {
		t.Fatalf("unexpected parse result: %v", parsed)
	}
}

func TestManifestWrite_DuplicateLastWins(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := Manifest{
		Identifiers: []string{"g:a:1", "g:a:1"},
		Files:       []string{"/first.jar", "/second.jar"},
	}
	var buf bytes.Buffer
	if err := m.Write(&buf, zap.New(core).Sugar()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), `g\:a\:1=/second.jar`) {
		t.Fatalf("expected last binding to win, got:\n%s", buf.String())
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}
}

func TestManifest_AddSingle(t *testing.T) {
	var m Manifest
	if err := m.AddSingle("minecraft:client", []Resolved{{File: "/game/client.jar"}}); err != nil {
		t.Fatalf("AddSingle: %v", err)
	}
	if err := m.AddSingle("optional", nil); err != nil {
		t.Fatalf("AddSingle with no files: %v", err)
	}
	if err := m.AddSingle("ambiguous", []Resolved{{File: "/a"}, {File: "/b"}}); err == nil {
		t.Fatalf("expected error for two files")
	}
	entries, _ := m.Entries()
	if diff := cmp.Diff(map[string]string{"minecraft:client": "/game/client.jar"}, entries); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestEscapeProperty(t *testing.T) {
	if got := escapeProperty("a b=c", true); got != `a\ b\=c` {
		t.Fatalf("key escaping: %q", got)
	}
	if got := escapeProperty(" C:\\x y", false); got != `\ C\:\\x y` {
		t.Fatalf("value escaping: %q", got)
	}
}

func TestUniqueTargets(t *testing.T) {
	files := []string{"/m/foo-bar.jar", "/n/foo.bar.jar", "/o/foo_bar.jar", "/p/other.zip", "/q/foo_bar_0.jar"}
	got := UniqueTargets("/out", files)
	want := []Destination{
		{Slot: "foo_bar", Path: "/out/foo_bar.jar"},
		{Slot: "foo_bar_0", Path: "/out/foo_bar_0.jar"},
		{Slot: "foo_bar_1", Path: "/out/foo_bar_1.jar"},
		{Slot: "other", Path: "/out/other.zip"},
		{Slot: "foo_bar_0_0", Path: "/out/foo_bar_0_0.jar"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("destinations mismatch (-want +got):\n%s", diff)
	}

	seen := map[string]bool{}
	for _, d := range got {
		if seen[d.Path] {
			t.Fatalf("duplicate destination %q", d.Path)
		}
		seen[d.Path] = true
	}
}
