package storage

import (
	"reflect"
	"testing"
)

func TestEncodeDecodePositions(t *testing.T) {
	tests := []struct {
		name      string
		positions []int
		encoded   string
	}{
		{"empty", nil, ""},
		{"single", []int{0}, "0"},
		{"several", []int{0, 3, 17, 42}, "0,3,17,42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodePositions(tt.positions)
			if got != tt.encoded {
				t.Errorf("EncodePositions(%v) = %q, want %q", tt.positions, got, tt.encoded)
			}
			back, err := DecodePositions(got)
			if err != nil {
				t.Fatalf("DecodePositions(%q): %v", got, err)
			}
			if !reflect.DeepEqual(back, tt.positions) {
				t.Errorf("round trip = %v, want %v", back, tt.positions)
			}
		})
	}
}

func TestDecodePositionsRejectsGarbage(t *testing.T) {
	for _, s := range []string{"1,x,3", "-4", "1,,2"} {
		if _, err := DecodePositions(s); err == nil {
			t.Errorf("DecodePositions(%q) succeeded, want error", s)
		}
	}
}
