package elementwise

import "testing"

func TestQuantizingOps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   Op
		c    float64
		ds   []float64
		want float64
	}{
		{"mul clamp in range", MulClamp{RequantScale: 0.5}, 10, nil, 5},
		{"mul clamp saturates high", MulClamp{RequantScale: 1}, 1000, nil, 127},
		{"mul clamp saturates low", MulClamp{RequantScale: 1}, -1000, nil, -128},
		{"relu zeroes negatives", ActivationMulClamp{Act: Relu{}, RequantScale: 2}, -3, nil, 0},
		{"pass-through keeps negatives", ActivationMulClamp{Act: PassThrough{}, RequantScale: 2}, -3, nil, -6},
		{"bias before activation", AddActivationMulClamp{Act: Relu{}, RequantScale: 1}, -3, []float64{5}, 2},
		{"per-channel scale", AddActivationMul2Clamp{Act: Relu{}}, 6, []float64{2, 0.25}, 2},
		{"bilinear", Bilinear{Alpha: 2, Beta: 3}, 1, []float64{1}, 5},
		{"scale add", ScaleAdd{Scale: 0.5}, 4, []float64{1}, 3},
	}
	for _, tc := range tests {
		if got := tc.op.Apply(tc.c, tc.ds); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseRoundTripsNames(t *testing.T) {
	t.Parallel()

	names := []string{
		"PassThrough",
		"Mul_Clamp",
		"Activation_Mul_Clamp<Relu>",
		"Activation_Mul_Clamp<PassThrough>",
		"Add_Activation_Mul2_Clamp<Relu>",
		"Bilinear",
		"ScaleAdd",
	}
	for _, name := range names {
		op, err := Parse(name, Params{Scale: 0.03})
		if err != nil {
			t.Fatalf("Parse(%q): %v", name, err)
		}
		if op.Name() != name {
			t.Errorf("Parse(%q).Name() = %q", name, op.Name())
		}
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"Gelu_Clamp", "Activation_Mul_Clamp<Tanh>", "Activation_Mul_Clamp<Relu"} {
		if _, err := Parse(name, Params{}); err == nil {
			t.Errorf("Parse(%q): expected error", name)
		}
	}
}
