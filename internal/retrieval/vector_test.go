package retrieval_test

import (
	"math"
	"testing"

	"github.com/engramdev/engram/internal/retrieval"
)

func TestEncodeDecodeVector(t *testing.T) {
	t.Parallel()

	vec := []float32{0.5, -1.25, 3.75, 0}
	blob, err := retrieval.EncodeVector(vec)
	if err != nil {
		t.Fatalf("EncodeVector: %v", err)
	}

	got, err := retrieval.DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("len = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], vec[i])
		}
	}
}

func TestEncodeVector_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := retrieval.EncodeVector(nil); err == nil {
		t.Error("empty vector: want error")
	}
	if _, err := retrieval.EncodeVector([]float32{float32(math.NaN())}); err == nil {
		t.Error("NaN value: want error")
	}
}

func TestDecodeVector_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		blob []byte
	}{
		{"too short", []byte{1, 2}},
		{"zero dimension", []byte{0, 0, 0, 0}},
		{"dimension mismatch", []byte{2, 0, 0, 0, 1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := retrieval.DecodeVector(tt.blob); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1, false},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0, false},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1, false},
		{"mismatched dims", []float32{1}, []float32{1, 0}, 0, true},
		{"zero norm", []float32{0, 0}, []float32{1, 0}, 0, true},
		{"empty", nil, []float32{1}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := retrieval.Cosine(tt.a, tt.b)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}
