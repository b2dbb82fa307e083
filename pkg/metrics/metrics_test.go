package metrics

import (
	"math"
	"testing"

	"volpatch/pkg/volume"
)

func ramp(shape volume.Triplet) *volume.Image {
	img := volume.NewImage(1, shape, volume.Float64)
	for i := range img.Data {
		img.Data[i] = float64(i)
	}
	return img
}

// TestCompareIdentical verifies that identical volumes give zero error
func TestCompareIdentical(t *testing.T) {
	img := ramp(volume.Triplet{3, 3, 3})
	f, err := Compare(img, img.Clone())
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if f.RMSE != 0 || f.MAE != 0 || f.MaxAbsError != 0 {
		t.Errorf("Expected zero error, got %+v", f)
	}
	if !f.Exact {
		t.Error("Expected identical volumes to be exact")
	}
	if math.Abs(f.Correlation-1) > 1e-12 {
		t.Errorf("Expected correlation 1, got %f", f.Correlation)
	}
}

// TestCompareOffset checks the error measures against a constant shift
func TestCompareOffset(t *testing.T) {
	img := ramp(volume.Triplet{2, 2, 2})
	shifted := img.Clone()
	for i := range shifted.Data {
		shifted.Data[i] += 2
	}
	shifted.Data[0] += 1

	f, err := Compare(img, shifted)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	wantRMSE := math.Sqrt((9 + 7*4) / 8.0)
	if math.Abs(f.RMSE-wantRMSE) > 1e-12 {
		t.Errorf("Expected RMSE %f, got %f", wantRMSE, f.RMSE)
	}
	if math.Abs(f.MAE-17.0/8.0) > 1e-12 {
		t.Errorf("Expected MAE %f, got %f", 17.0/8.0, f.MAE)
	}
	if f.MaxAbsError != 3 {
		t.Errorf("Expected max error 3, got %f", f.MaxAbsError)
	}
	if f.Exact {
		t.Error("Shifted volume reported as exact")
	}
}

// TestCompareConstant covers volumes without variance
func TestCompareConstant(t *testing.T) {
	a := volume.NewImage(1, volume.Triplet{2, 2, 2}, volume.Float32)
	b := volume.NewImage(1, volume.Triplet{2, 2, 2}, volume.Float32)
	f, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if f.Correlation != 1 {
		t.Errorf("Expected correlation 1 for equal constants, got %f", f.Correlation)
	}
	b.Fill(1)
	f, _ = Compare(a, b)
	if f.Correlation != 0 {
		t.Errorf("Expected correlation 0 for different constants, got %f", f.Correlation)
	}
}

// TestCompareShapeMismatch verifies mismatched volumes are rejected
func TestCompareShapeMismatch(t *testing.T) {
	if _, err := Compare(ramp(volume.Triplet{2, 2, 2}), ramp(volume.Triplet{2, 2, 3})); err == nil {
		t.Error("Expected error for mismatched shapes")
	}
}
