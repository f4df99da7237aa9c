package normalize

import "testing"

func TestFloatCoercion(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		def  float64
		want float64
	}{
		{"float64", 3.14, 0, 3.14},
		{"int", 42, 0, 42},
		{"string", "1.5", 0, 1.5},
		{"padded string", " 9.632 ", 0, 9.632},
		{"comma decimal", "9,632", 0, 9.632},
		{"nil", nil, 7, 7},
		{"empty string", "", 7, 7},
		{"blank string", "   ", 7, 7},
		{"garbage", "not-a-number", 7, 7},
		{"bool true", true, 0, 1},
		{"slice", []string{"x"}, 7, 7},
	}
	for _, tc := range cases {
		if got := Float(tc.in, tc.def); got != tc.want {
			t.Errorf("%s: Float(%v, %v) = %v, want %v", tc.name, tc.in, tc.def, got, tc.want)
		}
	}
}

func TestVenueOneHot(t *testing.T) {
	if v := Venue("binance"); v.Binance != 1.0 || v.Bybit != 0.0 {
		t.Errorf("binance indicator wrong: %+v", v)
	}
	if v := Venue("  ByBit "); v.Binance != 0.0 || v.Bybit != 1.0 {
		t.Errorf("bybit indicator wrong: %+v", v)
	}
	if v := Venue("okx"); v.Binance != 0.0 || v.Bybit != 0.0 {
		t.Errorf("unknown venue should be all-zero: %+v", v)
	}
	if v := Venue(""); v.Binance != 0.0 || v.Bybit != 0.0 {
		t.Errorf("empty venue should be all-zero: %+v", v)
	}
}
