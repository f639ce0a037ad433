package engine

import "math"

const earthRadiusKM = 6371.0

// GeoBox is an axis-aligned bounding box used to window store queries.
type GeoBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// BoundingBox computes the box enclosing a radius around a point. Longitude
// span widens toward the poles; at the poles the box covers all longitudes.
func BoundingBox(latitude, longitude, radiusKM float64) GeoBox {
	latDelta := (radiusKM / earthRadiusKM) * (180 / math.Pi)

	box := GeoBox{
		LatMin: math.Max(latitude-latDelta, -90),
		LatMax: math.Min(latitude+latDelta, 90),
	}

	cosLat := math.Cos(latitude * math.Pi / 180)
	if cosLat <= 0.01 {
		box.LonMin = -180
		box.LonMax = 180
		return box
	}

	lonDelta := latDelta / cosLat
	box.LonMin = math.Max(longitude-lonDelta, -180)
	box.LonMax = math.Min(longitude+lonDelta, 180)
	return box
}

// HaversineKM is the great-circle distance between two points.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(a)))
}
