// Package geo holds the spherical-earth math shared by the position
// pipeline. All functions use the IUGG mean earth radius (6371008.8 m);
// the error of the spherical approximation is well below GPS noise at
// the distances this system deals with.
package geo

import "math"

const earthRadiusM = 6371008.8

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceMeters returns the great-circle distance between two
// WGS84 coordinates, via the haversine formula.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Destination projects a point forward along an initial bearing for the
// given distance, returning the destination coordinates.
func Destination(lat, lon, bearingDeg, distanceM float64) (destLat, destLon float64) {
	if distanceM == 0 {
		return lat, lon
	}
	ad := distanceM / earthRadiusM // angular distance
	lat1 := toRad(lat)
	lon1 := toRad(lon)
	brng := toRad(bearingDeg)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ad) +
		math.Cos(lat1)*math.Sin(ad)*math.Cos(brng))
	lon2 := lon1 + math.Atan2(
		math.Sin(brng)*math.Sin(ad)*math.Cos(lat1),
		math.Cos(ad)-math.Sin(lat1)*math.Sin(lat2))

	destLat = toDeg(lat2)
	destLon = toDeg(lon2)
	// normalize longitude to [-180, 180)
	destLon = math.Mod(destLon+540, 360) - 180
	return destLat, destLon
}

// Bearing returns the initial great-circle bearing from the first point
// to the second, in degrees [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	y := math.Sin(toRad(lon2-lon1)) * math.Cos(toRad(lat2))
	x := math.Cos(toRad(lat1))*math.Sin(toRad(lat2)) -
		math.Sin(toRad(lat1))*math.Cos(toRad(lat2))*math.Cos(toRad(lon2-lon1))
	brng := toDeg(math.Atan2(y, x))
	if brng < 0 {
		brng += 360
	}
	return brng
}
