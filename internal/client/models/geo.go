package models

import "fmt"

// GeoPoint is a WGS-84 coordinate. On the wire it is [longitude, latitude].
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Wire returns the [lon, lat] form stored in documents.
func (p GeoPoint) Wire() []any {
	return []any{p.Longitude, p.Latitude}
}

// ParseGeoPoint accepts [lon, lat] arrays and {"latitude","longitude"} objects.
func ParseGeoPoint(v any) (GeoPoint, error) {
	switch t := v.(type) {
	case GeoPoint:
		return t, nil
	case []any:
		if len(t) != 2 {
			return GeoPoint{}, fmt.Errorf("geo point needs 2 coordinates, got %d", len(t))
		}
		lon, ok1 := toFloat(t[0])
		lat, ok2 := toFloat(t[1])
		if !ok1 || !ok2 {
			return GeoPoint{}, fmt.Errorf("geo point coordinates must be numbers")
		}
		return GeoPoint{Latitude: lat, Longitude: lon}, nil
	case []float64:
		if len(t) != 2 {
			return GeoPoint{}, fmt.Errorf("geo point needs 2 coordinates, got %d", len(t))
		}
		return GeoPoint{Latitude: t[1], Longitude: t[0]}, nil
	case map[string]any:
		lat, ok1 := toFloat(t["latitude"])
		lon, ok2 := toFloat(t["longitude"])
		if !ok1 || !ok2 {
			return GeoPoint{}, fmt.Errorf("geo point object needs latitude and longitude")
		}
		return GeoPoint{Latitude: lat, Longitude: lon}, nil
	default:
		return GeoPoint{}, fmt.Errorf("unsupported geo point value %T", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
