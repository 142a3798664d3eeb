package vector

import (
	"math"
	"testing"
)

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func TestNormalize_UnitNorm(t *testing.T) {
	v := makeTestVector(128, 0.3)
	n := Normalize(v)
	got := Norm(n)
	if math.Abs(float64(got)-1.0) > 1e-5 {
		t.Errorf("norm = %f, want 1.0", got)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	v := Normalize(makeTestVector(64, 1.5))
	again := Normalize(v)
	for i := range v {
		// A second pass divides by a norm within float rounding of 1.0;
		// the result must stay within one ULP of the first pass.
		diff := math.Abs(float64(v[i]) - float64(again[i]))
		if diff > 1e-7 {
			t.Fatalf("index %d: %v != %v after re-normalizing", i, v[i], again[i])
		}
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	zero := make([]float32, 16)
	got := Normalize(zero)
	for i, f := range got {
		if f != 0 {
			t.Fatalf("index %d: got %v, want 0", i, f)
		}
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	v := []float32{3, 4}
	Normalize(v)
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("input mutated: %v", v)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	v := Normalize(makeTestVector(3072, 0.7))
	decoded, err := Decode(Encode(v))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(v) {
		t.Fatalf("length %d, want %d", len(decoded), len(v))
	}
	for i := range v {
		if math.Float32bits(decoded[i]) != math.Float32bits(v[i]) {
			t.Fatalf("index %d: decoded %v not bit-identical to %v", i, decoded[i], v[i])
		}
	}
}

func TestDecode_CorruptLength(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for byte length not a multiple of 4")
	}
}

func TestDecodeInto_ReusesBuffer(t *testing.T) {
	v := makeTestVector(32, 0.2)
	b := Encode(v)

	buf := make([]float32, 0, 64)
	out, err := DecodeInto(buf, b)
	if err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if len(out) != 32 {
		t.Fatalf("length %d, want 32", len(out))
	}
	if &out[0] != &buf[:1][0] {
		t.Error("expected buffer reuse when capacity is sufficient")
	}
	for i := range v {
		if out[i] != v[i] {
			t.Fatalf("index %d: got %v, want %v", i, out[i], v[i])
		}
	}
}

func TestCosine_NormalizedVectors(t *testing.T) {
	a := Normalize([]float32{1, 0, 0, 0})
	b := Normalize([]float32{0, 1, 0, 0})
	if got := Cosine(a, a); math.Abs(float64(got)-1.0) > 1e-6 {
		t.Errorf("Cosine(a, a) = %f, want 1.0", got)
	}
	if got := Cosine(a, b); got != 0 {
		t.Errorf("Cosine(a, b) = %f, want 0", got)
	}
}

func TestCosine_LengthMismatch(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1}); got != 0 {
		t.Errorf("got %f, want 0 for mismatched lengths", got)
	}
}
