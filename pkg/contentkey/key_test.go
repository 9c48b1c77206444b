// ABOUTME: Tests for content key derivation
// ABOUTME: Verifies determinism, injectivity on near-duplicates and reversal

package contentkey

import (
	"testing"
)

func TestDeriveKnownValues(t *testing.T) {
	cases := map[string]string{
		"":                         "",
		"a":                        "61",
		"http://www.loc.gov/METS/": "687474703a2f2f7777772e6c6f632e676f762f4d4554532f",
		"ä":                        "c3a4",
	}
	for in, want := range cases {
		if got := Derive(in); got != want {
			t.Errorf("Derive(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeriveDeterministic(t *testing.T) {
	id := "digital-object/4711"
	if Derive(id) != Derive(id) {
		t.Fatal("Derive is not deterministic")
	}
}

func TestDeriveInjectiveOnNearDuplicates(t *testing.T) {
	base := "http://example.org/partA"
	inputs := []string{base}
	for i := 0; i < len(base); i++ {
		b := []byte(base)
		b[i]++
		inputs = append(inputs, string(b))
		inputs = append(inputs, base[:i]+base[i+1:])
	}
	inputs = append(inputs, base+" ", " "+base, base+"/")

	seen := make(map[string]string)
	for _, in := range inputs {
		key := Derive(in)
		if prev, ok := seen[key]; ok && prev != in {
			t.Fatalf("collision: %q and %q both map to %q", prev, in, key)
		}
		seen[key] = in
	}
}

func TestReverse(t *testing.T) {
	for _, id := range []string{"", "obj-1", "http://ns/a", "Grüße"} {
		got, err := Reverse(Derive(id))
		if err != nil {
			t.Fatalf("Reverse(%q): %v", id, err)
		}
		if got != id {
			t.Errorf("Reverse(Derive(%q)) = %q", id, got)
		}
	}

	if _, err := Reverse("zz"); err == nil {
		t.Error("expected error for non-hex key")
	}
}
