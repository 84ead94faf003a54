package core

import (
	"testing"
)

func TestEvalExpr(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"1+2", "3"},
		{"0.1*2", "0.2"},
		{"2**3", "8"},
		{"2**-1", "0.5"},
		{"-2**2", "-4"},
		{"7/2", "3.5"},
		{"6/2", "3.0"},
		{"7//2", "3"},
		{"-7//2", "-4"},
		{"-7%3", "2"},
		{"7%-3", "-2"},
		{"7.5//2", "3.0"},
		{"(1+2)*3", "9"},
		{"1e-5", "1e-05"},
		{"1e16", "1e+16"},
		{"0.0001", "0.0001"},
		{"'a'+'b'", "ab"},
		{`"x"*3`, "xxx"},
		{"str(3)+'k'", "3k"},
		{"int(3.9)", "3"},
		{"int('12')", "12"},
		{"float(2)", "2.0"},
		{"round(2.5)", "2"},
		{"round(3.14159, 2)", "3.14"},
		{"abs(-4)", "4"},
		{"min(3, 1.5, 2)", "1.5"},
		{"max(1, 2)", "2"},
		{" 3 * ( 4 - 1 ) ", "9"},
	}
	for _, c := range cases {
		got, err := EvalExpr(c.src)
		if err != nil {
			t.Errorf("EvalExpr(%q): %v", c.src, err)
			continue
		}
		if got != c.want {
			t.Errorf("EvalExpr(%q) = %q, want %q", c.src, got, c.want)
		}
	}
}

func TestEvalExprRejects(t *testing.T) {
	for _, src := range []string{
		"",
		"1/0",
		"1//0",
		"1 +",
		"(1",
		"'a' - 'b'",
		"'a' + 1",
		"__import__('os')",
		"open('x')",
		"a.b",
		"1 2",
		"'unterminated",
		"1e",
		"2**64",
		"9223372036854775807+1",
		"-9223372036854775807-2",
		"3037000500*3037000500",
		"int(1e300)",
		"int(-1e19)",
		"round(1e300)",
		"'ab' * 9223372036854775807",
		"'x' * 5000",
	} {
		if got, err := EvalExpr(src); err == nil {
			t.Errorf("EvalExpr(%q) = %q, want error", src, got)
		}
	}
}

func TestEvalExprIntegerEdges(t *testing.T) {
	cases := map[string]string{
		"2**62":                  "4611686018427387904",
		"1**100000000000":        "1",
		"(-1)**100000000001":     "-1",
		"0**100000000000":        "0",
		"9223372036854775806+1":  "9223372036854775807",
		"-9223372036854775807-1": "-9223372036854775808",
		"-7//-1":                 "7",
		"-7%-1":                  "0",
		"'ab'*3":                 "ababab",
		"'ab'*-1":                "",
		"int(-2.9)":              "-2",
	}
	for src, want := range cases {
		got, err := EvalExpr(src)
		if err != nil {
			t.Errorf("EvalExpr(%q): %v", src, err)
			continue
		}
		if got != want {
			t.Errorf("EvalExpr(%q) = %q, want %q", src, got, want)
		}
	}
}

func TestEvalValue(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"lr_eval:0.1*2", "lr_0.2"},
		{"eval:2**4", "16"},
		{"x_eval:'a'+'eval:'", "x_aeval:"},
	}
	for _, c := range cases {
		got, err := EvalValue(c.in)
		if err != nil {
			t.Fatalf("EvalValue(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("EvalValue(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResolveName(t *testing.T) {
	got, err := ResolveName([]string{"exp", "lr", "eval:0.5*2", "seed1"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "exp_lr_1.0_seed1" {
		t.Fatalf("got %q", got)
	}
	if _, err := ResolveName([]string{"eval:1/0"}); err == nil {
		t.Fatal("expected error")
	}
}
