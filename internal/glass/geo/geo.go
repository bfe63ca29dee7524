// Package geo provides the spherical-earth distance, azimuth, and
// coordinate helpers the association engine needs to turn (lat, lon, depth)
// pairs into travel-time-table lookups and affinity scores.
package geo

import "math"

// EarthRadiusKM is the mean spherical earth radius used throughout glass3.
const EarthRadiusKM = 6371.0

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// DeltaDeg returns the great-circle angular distance in degrees between two
// (lat, lon) points given in degrees, via the haversine formula.
func DeltaDeg(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := DegToRad(lat1)
	p2 := DegToRad(lat2)
	dPhi := DegToRad(lat2 - lat1)
	dLambda := DegToRad(lon2 - lon1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return RadToDeg(c)
}

// DeltaKM is DeltaDeg converted to kilometers along the earth's surface.
func DeltaKM(lat1, lon1, lat2, lon2 float64) float64 {
	return DegToRad(DeltaDeg(lat1, lon1, lat2, lon2)) * EarthRadiusKM
}

// Azimuth returns the initial bearing in degrees [0, 360) from (lat1, lon1)
// to (lat2, lon2).
func Azimuth(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := DegToRad(lat1)
	p2 := DegToRad(lat2)
	dLambda := DegToRad(lon2 - lon1)

	y := math.Sin(dLambda) * math.Cos(p2)
	x := math.Cos(p1)*math.Sin(p2) - math.Sin(p1)*math.Cos(p2)*math.Cos(dLambda)
	theta := math.Atan2(y, x)
	deg := math.Mod(RadToDeg(theta)+360.0, 360.0)
	return deg
}

// Destination returns the (lat, lon) reached by travelling distanceKM along
// bearing azimuthDeg from (lat, lon).
func Destination(lat, lon, distanceKM, azimuthDeg float64) (float64, float64) {
	angular := distanceKM / EarthRadiusKM
	p1 := DegToRad(lat)
	l1 := DegToRad(lon)
	brng := DegToRad(azimuthDeg)

	p2 := math.Asin(math.Sin(p1)*math.Cos(angular) + math.Cos(p1)*math.Sin(angular)*math.Cos(brng))
	l2 := l1 + math.Atan2(
		math.Sin(brng)*math.Sin(angular)*math.Cos(p1),
		math.Cos(angular)-math.Sin(p1)*math.Sin(p2))

	return RadToDeg(p2), RadToDeg(l2)
}

// AzimuthalGap returns the largest gap in degrees between consecutive
// azimuths in a sorted set, the standard station-coverage measure the
// event-fragment cancel check uses.
func AzimuthalGap(azimuths []float64) float64 {
	n := len(azimuths)
	if n < 2 {
		return 360.0
	}
	sorted := make([]float64, n)
	copy(sorted, azimuths)
	for i := 1; i < n; i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	maxGap := 0.0
	for i := 1; i < n; i++ {
		gap := sorted[i] - sorted[i-1]
		if gap > maxGap {
			maxGap = gap
		}
	}
	wrap := sorted[0] + 360.0 - sorted[n-1]
	if wrap > maxGap {
		maxGap = wrap
	}
	return maxGap
}
