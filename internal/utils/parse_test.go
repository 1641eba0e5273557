package utils

import (
	"reflect"
	"testing"
)

func TestParseID(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"1", 1, true},
		{"18446744073709551615", 18446744073709551615, true},
		{"0", 0, false},
		{"", 0, false},
		{"-3", 0, false},
		{"+3", 0, false},
		{" 3", 0, false},
		{"3x", 0, false},
		{"18446744073709551616", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseID(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseID(%q) = %d,%v; want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestOptionalFloat(t *testing.T) {
	if v, ok := OptionalFloat(""); v != nil || !ok {
		t.Fatalf("empty: %v %v", v, ok)
	}
	if v, ok := OptionalFloat("6.9271"); !ok || *v != 6.9271 {
		t.Fatalf("valid: %v %v", v, ok)
	}
	for _, bad := range []string{"abc", "NaN", "Inf", "-Inf", "1e400"} {
		if _, ok := OptionalFloat(bad); ok {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestOptionalInt(t *testing.T) {
	if n, ok := OptionalInt("", 20); n != 20 || !ok {
		t.Fatalf("empty: %d %v", n, ok)
	}
	if n, ok := OptionalInt("-5", 20); n != -5 || !ok {
		t.Fatalf("negative passes through for the caller to judge: %d %v", n, ok)
	}
	if _, ok := OptionalInt("ten", 20); ok {
		t.Fatalf("garbage must be reported")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList([]string{"ACTIVE,suspended", " closed ", ",,"})
	want := []string{"ACTIVE", "suspended", "closed"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitList = %v; want %v", got, want)
	}
	if SplitList(nil) != nil {
		t.Fatalf("nil input should give nil")
	}
}

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		s    string
		def  int
		want int
	}{
		// empty -> default
		{"", 10, 10},
		// valid ints
		{"42", 0, 42},
		{"-13", 1, -13},
		{"0012", 99, 12},
		// invalid -> default (no trim)
		{"x", 5, 5},
		{" 42", 7, 7},
		// overflow -> default
		{"999999999999999999999999", -1, -1},
	}

	for _, tc := range cases {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}
