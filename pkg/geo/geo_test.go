package geo

import (
	"errors"
	"math"
	"testing"
)

// TestDistanceKm tests great-circle distance calculations.
func TestDistanceKm(t *testing.T) {
	t.Run("Zero distance for identical points", func(t *testing.T) {
		d := DistanceKm(47.6, -122.3, 47.6, -122.3)
		if d != 0 {
			t.Errorf("Expected 0 km, got %f", d)
		}
	})

	t.Run("Seattle waterfront pair", func(t *testing.T) {
		// Roughly 3.7 km between these two downtown Seattle points.
		d := DistanceKm(47.6110, -122.3310, 47.6213, -122.3790)
		if d < 3.0 || d > 5.0 {
			t.Errorf("Expected ~3.7 km, got %f", d)
		}
	})

	t.Run("One degree of latitude", func(t *testing.T) {
		d := DistanceKm(0, 0, 1, 0)
		if math.Abs(d-111.19) > 0.5 {
			t.Errorf("Expected ~111.19 km per degree latitude, got %f", d)
		}
	})

	t.Run("Symmetric", func(t *testing.T) {
		d1 := DistanceKm(10, 20, 30, 40)
		d2 := DistanceKm(30, 40, 10, 20)
		if math.Abs(d1-d2) > 1e-9 {
			t.Errorf("Distance not symmetric: %f vs %f", d1, d2)
		}
	})
}

// TestBearingDeg tests forward-azimuth calculations.
func TestBearingDeg(t *testing.T) {
	t.Run("Due north", func(t *testing.T) {
		b := BearingDeg(0, 0, 1, 0)
		if math.Abs(b) > 1e-6 {
			t.Errorf("Expected bearing 0, got %f", b)
		}
	})

	t.Run("Due east", func(t *testing.T) {
		b := BearingDeg(0, 0, 0, 1)
		if math.Abs(b-90) > 1e-6 {
			t.Errorf("Expected bearing 90, got %f", b)
		}
	})

	t.Run("Due south", func(t *testing.T) {
		b := BearingDeg(1, 0, 0, 0)
		if math.Abs(b-180) > 1e-6 {
			t.Errorf("Expected bearing 180, got %f", b)
		}
	})

	t.Run("Always in [0, 360)", func(t *testing.T) {
		b := BearingDeg(0, 0, 0, -1)
		if b < 0 || b >= 360 {
			t.Errorf("Bearing %f outside [0, 360)", b)
		}
		if math.Abs(b-270) > 1e-6 {
			t.Errorf("Expected bearing 270, got %f", b)
		}
	})

	t.Run("Device northeast of sighting", func(t *testing.T) {
		// From (47.6110, -122.3310) toward (47.6213, -122.3790) points
		// north-west; the reverse bearing from device to sighting should
		// land in the NE-ish sector used by the compass payload.
		b := BearingDeg(47.6110, -122.3310, 47.6213, -122.3790)
		if b < 270 || b >= 360 {
			t.Errorf("Expected NW sector bearing, got %f", b)
		}
	})
}

// TestAngularSeparationDeg tests separation between pointing directions.
func TestAngularSeparationDeg(t *testing.T) {
	t.Run("Identical directions", func(t *testing.T) {
		sep, err := AngularSeparationDeg(45, 30, 45, 30)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if sep > 1e-6 {
			t.Errorf("Expected 0 separation, got %f", sep)
		}
	})

	t.Run("Right angle in azimuth at horizon", func(t *testing.T) {
		sep, err := AngularSeparationDeg(0, 0, 90, 0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if math.Abs(sep-90) > 1e-6 {
			t.Errorf("Expected 90, got %f", sep)
		}
	})

	t.Run("Symmetry", func(t *testing.T) {
		a, err := AngularSeparationDeg(10, 20, 200, -40)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		b, err := AngularSeparationDeg(200, -40, 10, 20)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if math.Abs(a-b) > 1e-6 {
			t.Errorf("Separation not symmetric: %f vs %f", a, b)
		}
	})

	t.Run("Opposite directions", func(t *testing.T) {
		sep, err := AngularSeparationDeg(0, 0, 180, 0)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if math.Abs(sep-180) > 1e-6 {
			t.Errorf("Expected 180, got %f", sep)
		}
	})

	t.Run("Invalid elevation rejected", func(t *testing.T) {
		_, err := AngularSeparationDeg(0, 91, 0, 0)
		if err == nil {
			t.Error("Expected error for elevation > 90")
		}
	})
}

// TestBBox tests bounding-box construction.
func TestBBox(t *testing.T) {
	t.Run("Contains center", func(t *testing.T) {
		box, err := BBox(47.6, -122.3, 10)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !box.Contains(47.6, -122.3) {
			t.Error("Box should contain its center")
		}
	})

	t.Run("Longitude extent widens with latitude", func(t *testing.T) {
		equator, _ := BBox(0, 0, 50)
		arctic, _ := BBox(70, 0, 50)
		if (arctic.MaxLon - arctic.MinLon) <= (equator.MaxLon - equator.MinLon) {
			t.Error("Expected wider longitude window at high latitude")
		}
	})

	t.Run("Clamped at poles", func(t *testing.T) {
		box, err := BBox(89.9, 0, 100)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if box.MaxLat > 90 {
			t.Errorf("MaxLat exceeds 90: %f", box.MaxLat)
		}
	})

	t.Run("Invalid latitude rejected", func(t *testing.T) {
		_, err := BBox(91, 0, 10)
		if err == nil {
			t.Error("Expected error for latitude > 90")
		}
		var inputErr *InputError
		if !errors.As(err, &inputErr) {
			t.Errorf("Expected InputError, got %T", err)
		}
	})

	t.Run("Negative radius rejected", func(t *testing.T) {
		if _, err := BBox(0, 0, -1); err == nil {
			t.Error("Expected error for negative radius")
		}
	})
}

// TestValidateLatLon tests coordinate range validation.
func TestValidateLatLon(t *testing.T) {
	cases := []struct {
		name    string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{"valid", 47.6, -122.3, false},
		{"edge north pole", 90, 0, false},
		{"edge antimeridian", 0, -180, false},
		{"lat too high", 90.1, 0, true},
		{"lat too low", -90.1, 0, true},
		{"lon too high", 0, 180.1, true},
		{"lon NaN", 0, math.NaN(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateLatLon(tc.lat, tc.lon)
			if tc.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
