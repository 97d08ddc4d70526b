package game

import (
	"errors"
	"testing"
)

func TestValueFlip(t *testing.T) {
	tests := []struct {
		in, want Value
	}{
		{ValueWon, ValueLost},
		{ValueLost, ValueWon},
		{ValueDrawn, ValueDrawn},
		{ValueInvalid, ValueInvalid},
	}
	for _, tt := range tests {
		if got := tt.in.Flip(); got != tt.want {
			t.Errorf("%s.Flip() = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestValueOrder(t *testing.T) {
	if !(ValueInvalid < ValueLost && ValueLost < ValueDrawn && ValueDrawn < ValueWon) {
		t.Fatal("value codes must be ordered invalid < lost < drawn < won")
	}
}

func TestParseValue(t *testing.T) {
	for v := ValueInvalid; v <= ValueWon; v++ {
		got, err := ParseValue(v.String())
		if err != nil {
			t.Fatalf("ParseValue(%q): %v", v.String(), err)
		}
		if got != v {
			t.Errorf("ParseValue(%q) = %s, want %s", v.String(), got, v)
		}
	}
	if _, err := ParseValue("maybe"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("ParseValue(maybe) = %v, want ErrInvalidValue", err)
	}
}

func TestCheckKnot(t *testing.T) {
	good := []Knot{
		{ValueWon, 0},
		{ValueLost, 17},
		{ValueWon, PlyMax},
		{ValueDrawn, PlyDrawn},
		{ValueInvalid, PlyInvalid},
	}
	for _, k := range good {
		if err := CheckKnot(k); err != nil {
			t.Errorf("CheckKnot(%s) = %v, want nil", k, err)
		}
	}

	bad := []Knot{
		{ValueWon, PlyDrawn},
		{ValueLost, PlyUncalculated},
		{ValueDrawn, 3},
		{ValueInvalid, 0},
		{Value(7), 0},
	}
	for _, k := range bad {
		if err := CheckKnot(k); !errors.Is(err, ErrInvalidValue) {
			t.Errorf("CheckKnot(%s) = %v, want ErrInvalidValue", k, err)
		}
	}
}
