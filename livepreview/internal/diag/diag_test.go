package diag

import (
	"errors"
	"testing"
)

func TestErrorStrings(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&CompileError{Stage: StageCompile, Message: "Expected \";\"", Line: 3, Column: 7},
			`compile error at 3:7: Expected ";"`},
		{&CompileError{Stage: StageNormalize, Message: "boom"}, "normalize error: boom"},
		{&RuntimeError{Message: "x is not defined", Component: "Card", Line: 2, Column: 1},
			"runtime error in <Card> at 2:1: x is not defined"},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Errorf("got %q, want %q", got, c.want)
		}
	}
}

func TestErrorsAs(t *testing.T) {
	var err error = &RuntimeError{Message: "m"}
	var re *RuntimeError
	if !errors.As(err, &re) || re.Message != "m" {
		t.Error("errors.As failed")
	}
}
