package money

import (
	"encoding/json"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    Cents
		wantErr bool
	}{
		{"100.00", 10000, false},
		{"100", 10000, false},
		{"100.5", 10050, false},
		{"0.01", 1, false},
		{"0", 0, false},
		{"18.00", 1800, false},
		{"", 0, true},
		{"-5", 0, true},
		{"1.234", 0, true},
		{"abc", 0, true},
		{"10.x", 0, true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestExactTotal(t *testing.T) {
	amount, err := Parse("100.00")
	if err != nil {
		t.Fatalf("Parse amount: %v", err)
	}
	tax, err := Parse("18.00")
	if err != nil {
		t.Fatalf("Parse tax: %v", err)
	}
	total := amount + tax
	if total.String() != "118.00" {
		t.Fatalf("total = %s, want 118.00", total)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(Cents(11800))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(raw) != "118.00" {
		t.Fatalf("Marshal = %s, want 118.00", raw)
	}

	var c Cents
	if err := json.Unmarshal([]byte("118.00"), &c); err != nil {
		t.Fatalf("Unmarshal number: %v", err)
	}
	if c != 11800 {
		t.Fatalf("Unmarshal number = %d, want 11800", c)
	}
	if err := json.Unmarshal([]byte(`"42.50"`), &c); err != nil {
		t.Fatalf("Unmarshal string: %v", err)
	}
	if c != 4250 {
		t.Fatalf("Unmarshal string = %d, want 4250", c)
	}
}
