package main

import (
	"strings"
	"testing"
)

func TestReadIdentifiers(t *testing.T) {
	in := "# header\n12345678901\n\n  0000 0000 000  \n#skip\nabc\n"
	got, err := readIdentifiers(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"12345678901", "0000 0000 000", "abc"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("readIdentifiers() = %q, want %q", got, want)
	}
}
