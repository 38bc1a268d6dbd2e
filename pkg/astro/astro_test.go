package astro

import (
	"math"
	"testing"
	"time"
)

// TestSunPosition tests the solar model against known geometry.
func TestSunPosition(t *testing.T) {
	t.Run("Sun high at summer noon in Seattle", func(t *testing.T) {
		// Solar noon in Seattle near the June solstice: expected
		// altitude about 90 - 47.6 + 23.4 = ~65 degrees.
		noon := time.Date(2026, 6, 21, 20, 10, 0, 0, time.UTC)
		pos := SunPosition(47.6062, -122.3321, noon)
		if pos.AltitudeDeg < 60 || pos.AltitudeDeg > 70 {
			t.Errorf("Expected altitude near 65, got %f", pos.AltitudeDeg)
		}
		if pos.AzimuthDeg < 150 || pos.AzimuthDeg > 210 {
			t.Errorf("Expected azimuth near south, got %f", pos.AzimuthDeg)
		}
	})

	t.Run("Sun below horizon at midnight", func(t *testing.T) {
		midnight := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
		pos := SunPosition(47.6062, -122.3321, midnight)
		if pos.AltitudeDeg > -18 {
			t.Errorf("Expected deep night, got altitude %f", pos.AltitudeDeg)
		}
		if IsAboveHorizon(pos.AltitudeDeg) {
			t.Error("Midnight sun reported above horizon")
		}
	})
}

// TestTwilight tests the altitude thresholds.
func TestTwilight(t *testing.T) {
	cases := []struct {
		altitude float64
		want     TwilightType
	}{
		{30, TwilightDay},
		{0, TwilightDay},
		{-3, TwilightCivil},
		{-9, TwilightNautical},
		{-15, TwilightAstronomical},
		{-30, TwilightNight},
	}
	for _, tc := range cases {
		if got := Twilight(tc.altitude); got != tc.want {
			t.Errorf("Twilight(%f): expected %s, got %s", tc.altitude, tc.want, got)
		}
	}
}

// TestMoonPosition tests phase and illumination consistency.
func TestMoonPosition(t *testing.T) {
	t.Run("Known full moon", func(t *testing.T) {
		// 2026-01-03 10:02 UTC is a full moon.
		info := MoonPosition(47.6062, -122.3321, time.Date(2026, 1, 3, 10, 2, 0, 0, time.UTC))
		if info.PhaseName != PhaseFull {
			t.Errorf("Expected full, got %s", info.PhaseName)
		}
		if info.Illumination < 0.97 {
			t.Errorf("Expected near-total illumination, got %f", info.Illumination)
		}
	})

	t.Run("Known new moon", func(t *testing.T) {
		// 2026-01-18 19:52 UTC is a new moon.
		info := MoonPosition(47.6062, -122.3321, time.Date(2026, 1, 18, 19, 52, 0, 0, time.UTC))
		if info.PhaseName != PhaseNew {
			t.Errorf("Expected new, got %s", info.PhaseName)
		}
		if info.Illumination > 0.03 {
			t.Errorf("Expected dark disc, got %f", info.Illumination)
		}
	})

	t.Run("Illumination always in range", func(t *testing.T) {
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for day := 0; day < 30; day++ {
			info := MoonPosition(0, 0, start.AddDate(0, 0, day))
			if info.Illumination < 0 || info.Illumination > 1 {
				t.Fatalf("Day %d: illumination %f out of range", day, info.Illumination)
			}
			if info.PhaseName == "" {
				t.Fatalf("Day %d: empty phase name", day)
			}
		}
	})
}

// TestPlanetPosition tests output ranges and model sanity.
func TestPlanetPosition(t *testing.T) {
	when := time.Date(2026, 8, 24, 5, 0, 0, 0, time.UTC)

	for _, p := range Planets {
		pos := PlanetPosition(p, 47.6062, -122.3321, when)
		if pos.AltitudeDeg < -90 || pos.AltitudeDeg > 90 {
			t.Errorf("%s: altitude %f out of range", p, pos.AltitudeDeg)
		}
		if pos.AzimuthDeg < 0 || pos.AzimuthDeg >= 360 {
			t.Errorf("%s: azimuth %f out of range", p, pos.AzimuthDeg)
		}
	}

	t.Run("Positions move over a day", func(t *testing.T) {
		a := PlanetPosition(Venus, 47.6062, -122.3321, when)
		b := PlanetPosition(Venus, 47.6062, -122.3321, when.Add(6*time.Hour))
		if math.Abs(a.AltitudeDeg-b.AltitudeDeg) < 1 {
			t.Error("Venus barely moved in six hours")
		}
	})
}
