package store

import (
	"context"
	"sort"

	"github.com/skybeep/skybeep/pkg/beep"
	"github.com/skybeep/skybeep/pkg/geo"
)

// deviceResultCap bounds a single directory query.
const deviceResultCap = 1000

// noLocationMinRadiusKm is the smallest radius at which devices without a
// known position are included in directory results.
const noLocationMinRadiusKm = 25

// eligibleDeviceFilter is the shared SQL predicate for alert-capable
// devices. Matches beep.Device.Eligible.
const eligibleDeviceFilter = `is_active = TRUE
	AND push_enabled = TRUE
	AND push_token IS NOT NULL AND push_token != ''
	AND alert_notifications = TRUE
	AND device_id != $1`

// DevicesWithinRadius returns eligible devices within radiusKm of the
// center, sorted ascending by distance and capped. Two execution paths:
// a PostGIS ST_DWithin query when the deployment has the extension, and
// a bounding-box scan with haversine filtering otherwise.
func (s *PostgresStore) DevicesWithinRadius(ctx context.Context, lat, lon, radiusKm float64, excludeDeviceID string) ([]DeviceHit, error) {
	if err := geo.ValidateLatLon(lat, lon); err != nil {
		return nil, err
	}

	var hits []DeviceHit
	var err error
	if s.postgis {
		hits, err = s.devicesGeoIndex(ctx, lat, lon, radiusKm, excludeDeviceID)
	} else {
		hits, err = s.devicesHaversine(ctx, lat, lon, radiusKm, excludeDeviceID)
	}
	if err != nil {
		return nil, err
	}

	if radiusKm >= noLocationMinRadiusKm {
		extra, err := s.devicesWithoutLocation(ctx, radiusKm, excludeDeviceID, deviceResultCap-len(hits))
		if err != nil {
			return nil, err
		}
		hits = append(hits, extra...)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].DistanceKm < hits[j].DistanceKm
	})
	if len(hits) > deviceResultCap {
		hits = hits[:deviceResultCap]
	}
	return hits, nil
}

// devicesGeoIndex filters at the store with ST_DWithin on geography, so
// the radius is a true great-circle distance in meters.
func (s *PostgresStore) devicesGeoIndex(ctx context.Context, lat, lon, radiusKm float64, excludeDeviceID string) ([]DeviceHit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+`,
		        ST_Distance(
		            ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography,
		            ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography
		        ) / 1000.0 AS distance_km
		 FROM devices
		 WHERE `+eligibleDeviceFilter+`
		   AND latitude IS NOT NULL AND longitude IS NOT NULL
		   AND ST_DWithin(
		         ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography,
		         ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
		         $4)
		 ORDER BY distance_km ASC
		 LIMIT $5`,
		excludeDeviceID, lon, lat, radiusKm*1000, deviceResultCap,
	)
	if err != nil {
		return nil, s.classify("device directory (geo index)", err)
	}
	defer rows.Close()

	var hits []DeviceHit
	for rows.Next() {
		var d beep.Device
		var platform, provider string
		var distanceKm float64
		err := rows.Scan(
			&d.ID, &d.DeviceID, &d.UserID, &platform,
			&d.PushToken, &provider, &d.PushEnabled,
			&d.AlertNotifications, &d.ChatNotifications, &d.SystemNotifications,
			&d.IsActive, &d.LastSeen, &d.Lat, &d.Lon,
			&d.NotificationsSent, &d.NotificationsOpened,
			&distanceKm,
		)
		if err != nil {
			return nil, s.classify("device directory (geo index)", err)
		}
		d.Platform = beep.Platform(platform)
		d.PushProvider = beep.PushProvider(provider)
		hits = append(hits, DeviceHit{Device: d, DistanceKm: distanceKm})
	}
	return hits, rows.Err()
}

// devicesHaversine narrows with a bounding box in SQL, then filters by
// exact haversine distance.
func (s *PostgresStore) devicesHaversine(ctx context.Context, lat, lon, radiusKm float64, excludeDeviceID string) ([]DeviceHit, error) {
	box, err := geo.BBox(lat, lon, radiusKm)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+`
		 FROM devices
		 WHERE `+eligibleDeviceFilter+`
		   AND latitude IS NOT NULL AND longitude IS NOT NULL
		   AND latitude BETWEEN $2 AND $3
		   AND longitude BETWEEN $4 AND $5`,
		excludeDeviceID, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon,
	)
	if err != nil {
		return nil, s.classify("device directory (haversine)", err)
	}
	defer rows.Close()

	var hits []DeviceHit
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, s.classify("device directory (haversine)", err)
		}
		distanceKm := geo.DistanceKm(lat, lon, *d.Lat, *d.Lon)
		if distanceKm > radiusKm {
			continue
		}
		hits = append(hits, DeviceHit{Device: *d, DistanceKm: distanceKm})
	}
	return hits, rows.Err()
}

// devicesWithoutLocation returns eligible devices with no known position.
// They carry distance = radius for downstream scoring.
func (s *PostgresStore) devicesWithoutLocation(ctx context.Context, radiusKm float64, excludeDeviceID string, limit int) ([]DeviceHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deviceColumns+`
		 FROM devices
		 WHERE `+eligibleDeviceFilter+`
		   AND (latitude IS NULL OR longitude IS NULL)
		 LIMIT $2`,
		excludeDeviceID, limit,
	)
	if err != nil {
		return nil, s.classify("device directory (no location)", err)
	}
	defer rows.Close()

	var hits []DeviceHit
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, s.classify("device directory (no location)", err)
		}
		hits = append(hits, DeviceHit{Device: *d, DistanceKm: radiusKm})
	}
	return hits, rows.Err()
}
