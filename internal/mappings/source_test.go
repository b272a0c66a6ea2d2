package mappings

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"crochet/internal/dag"
)

func fileSource(name, from, to string) Source {
	return FromFile(File{
		Input:  dag.Direct(dag.FileValue("/maps/" + name)),
		Format: dag.FormatTiny2,
		From:   from,
		To:     []string{to},
	})
}

func lowered(t *testing.T, s Source) string {
	t.Helper()
	desc, err := s.Lower()
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	b, err := json.Marshal(desc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(b)
}

func TestNamespaces(t *testing.T) {
	official := fileSource("official.txt", Named, Obfuscated)
	intermediary := fileSource("intermediary.tiny", Obfuscated, Intermediary)

	from, to, err := Chain(official, intermediary).Namespaces()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if from != Named || !cmp.Equal(to, []string{Intermediary}) {
		t.Fatalf("unexpected namespaces %s -> %v", from, to)
	}

	from, to, err = Reverse(Chain(official, intermediary)).Namespaces()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if from != Intermediary || !cmp.Equal(to, []string{Named}) {
		t.Fatalf("unexpected namespaces %s -> %v", from, to)
	}

	srg := fileSource("srg.tsrg", Obfuscated, SRG)
	from, to, err = Merge(intermediary, srg).Namespaces()
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if from != Obfuscated || !cmp.Equal(to, []string{Intermediary, SRG}) {
		t.Fatalf("unexpected namespaces %s -> %v", from, to)
	}
}

func TestNamespaces_Preconditions(t *testing.T) {
	official := fileSource("official.txt", Named, Obfuscated)
	intermediary := fileSource("intermediary.tiny", Obfuscated, Intermediary)
	srg := fileSource("srg.tsrg", Obfuscated, SRG)

	cases := []struct {
		name string
		src  Source
		want error
	}{
		{"chain gap", Chain(intermediary, official), ErrNamespaceMismatch},
		{"merge different sources", Merge(official, intermediary), ErrNamespaceMismatch},
		{"reverse multi-target", Reverse(Merge(intermediary, srg)), ErrNamespaceMismatch},
		{"chain multi-target", Chain(official, Merge(intermediary, srg)), ErrNamespaceMismatch},
		{"empty chain", Chain(), ErrEmptySource},
		{"empty merge", Merge(), ErrEmptySource},
		{"nested empty", Reverse(Chain()), ErrEmptySource},
	}
	for _, tc := range cases {
		_, _, err := tc.src.Namespaces()
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		var ae *AlgebraError
		if !errors.As(err, &ae) {
			t.Fatalf("%s: expected *AlgebraError, got %T", tc.name, err)
		}
		if _, err := tc.src.Lower(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: Lower should fail the same way, got %v", tc.name, err)
		}
	}
}

func TestNormalize_EquivalentCompositionsLowerIdentically(t *testing.T) {
	a := fileSource("a", "x", "y")
	b := fileSource("b", "y", "z")
	c := fileSource("c", "z", "w")

	left := Chain(Chain(a, b), c)
	right := Chain(a, Chain(b, c))
	if lowered(t, left) != lowered(t, right) {
		t.Fatalf("chain associativity broke:\n%s\n%s", lowered(t, left), lowered(t, right))
	}
	if lowered(t, Reverse(Reverse(left))) != lowered(t, right) {
		t.Fatalf("double reverse did not cancel")
	}
	if lowered(t, Chain(a)) != lowered(t, a) {
		t.Fatalf("single-element chain did not collapse")
	}
}
