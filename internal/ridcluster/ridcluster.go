// Package ridcluster builds obfuscated cluster descriptors for Remote ID
// display, enlarging a view's bounding box to satisfy the ASTM F3411
// NetMinObfuscationDistanceM and NetMinClusterSizePercent privacy floors.
package ridcluster

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Position is a single flight's most-recently-reported location.
type Position struct {
	Lat float64
	Lng float64
}

// ClusterDetail is the result handed back to callers: the enlarged
// bounding corners, the reported area, and the flight count. AreaSqM
// deliberately reports the *view* area, not the enlarged cluster's own
// area -- a contract preserved verbatim from the reference behavior (see
// the "Cluster area_sqm contract" design note).
type ClusterDetail struct {
	CornerMin       Position
	CornerMax       Position
	AreaSqM         float64
	NumberOfFlights int
}

// Params carries the ASTM F3411 floors.
type Params struct {
	NetMinObfuscationDistanceM float64
	NetMinClusterSizePercent   float64
}

// BuildCluster computes the axis-aligned bounding box of viewCorners plus
// all flight positions, then enlarges it in three monotone steps (width
// floor, height floor, area floor), each seeing the prior step's result.
func BuildCluster(viewCorners []Position, flights []Position, params Params) ClusterDetail {
	all := make([]Position, 0, len(viewCorners)+len(flights))
	all = append(all, viewCorners...)
	all = append(all, flights...)

	minLat, minLng, maxLat, maxLng := boundingBox(all)
	viewAreaSqM := polygonAreaSqM(viewCorners)

	minLat, minLng, maxLat, maxLng = widthFloor(minLat, minLng, maxLat, maxLng, params.NetMinObfuscationDistanceM)
	minLat, minLng, maxLat, maxLng = heightFloor(minLat, minLng, maxLat, maxLng, params.NetMinObfuscationDistanceM)
	minLat, minLng, maxLat, maxLng = areaFloor(minLat, minLng, maxLat, maxLng, viewAreaSqM, params.NetMinClusterSizePercent)

	return ClusterDetail{
		CornerMin:       Position{Lat: minLat, Lng: minLng},
		CornerMax:       Position{Lat: maxLat, Lng: maxLng},
		AreaSqM:         viewAreaSqM,
		NumberOfFlights: len(flights),
	}
}

func boundingBox(points []Position) (minLat, minLng, maxLat, maxLng float64) {
	if len(points) == 0 {
		return 0, 0, 0, 0
	}
	minLat, minLng = points[0].Lat, points[0].Lng
	maxLat, maxLng = points[0].Lat, points[0].Lng
	for _, p := range points[1:] {
		minLat = math.Min(minLat, p.Lat)
		minLng = math.Min(minLng, p.Lng)
		maxLat = math.Max(maxLat, p.Lat)
		maxLng = math.Max(maxLng, p.Lng)
	}
	return minLat, minLng, maxLat, maxLng
}

// widthFloor extends east/west (longitude) so that the geodesic length
// of the bottom edge is at least 2*minDistance.
func widthFloor(minLat, minLng, maxLat, maxLng, minDistance float64) (float64, float64, float64, float64) {
	width := edgeLength(minLat, minLng, minLat, maxLng)
	if width < 2*minDistance {
		delta := minDistance - width/2
		deltaDeg := metersToLngDegrees(delta, minLat)
		minLng -= deltaDeg
		maxLng += deltaDeg
	}
	return minLat, minLng, maxLat, maxLng
}

// heightFloor extends north/south (latitude) so that the geodesic length
// of the left edge is at least 2*minDistance.
func heightFloor(minLat, minLng, maxLat, maxLng, minDistance float64) (float64, float64, float64, float64) {
	height := edgeLength(minLat, minLng, maxLat, minLng)
	if height < 2*minDistance {
		delta := minDistance - height/2
		deltaDeg := metersToLatDegrees(delta)
		minLat -= deltaDeg
		maxLat += deltaDeg
	}
	return minLat, minLng, maxLat, maxLng
}

// areaFloor scales the box symmetrically around its centroid so its
// polygon area is at least minPercent/100 of viewAreaSqM.
func areaFloor(minLat, minLng, maxLat, maxLng, viewAreaSqM, minPercent float64) (float64, float64, float64, float64) {
	corners := []Position{
		{Lat: minLat, Lng: minLng},
		{Lat: minLat, Lng: maxLng},
		{Lat: maxLat, Lng: maxLng},
		{Lat: maxLat, Lng: minLng},
	}
	clusterArea := polygonAreaSqM(corners)
	minArea := viewAreaSqM * minPercent / 100

	if clusterArea >= minArea || clusterArea <= 0 {
		return minLat, minLng, maxLat, maxLng
	}

	scale := math.Sqrt(minArea/clusterArea) / 2
	width := edgeLength(minLat, minLng, minLat, maxLng)
	height := edgeLength(minLat, minLng, maxLat, minLng)

	lngDelta := metersToLngDegrees(scale*width, minLat)
	latDelta := metersToLatDegrees(scale * height)

	return minLat - latDelta, minLng - lngDelta, maxLat + latDelta, maxLng + lngDelta
}

// edgeLength returns the great-circle distance in meters between two
// points, via orb/geo -- the closest in-pack substitute for the
// ellipsoidal-geodesic computation of the reference implementation (no
// ellipsoidal geodesy package exists anywhere in the retrieval corpus;
// see DESIGN.md).
func edgeLength(lat1, lng1, lat2, lng2 float64) float64 {
	return geo.Distance(orb.Point{lng1, lat1}, orb.Point{lng2, lat2})
}

// polygonAreaSqM computes the area of the closed polygon formed by
// corners (in the order given) using orb/geo's planar-on-sphere area.
func polygonAreaSqM(corners []Position) float64 {
	if len(corners) < 3 {
		return 0
	}
	ring := make(orb.Ring, 0, len(corners)+1)
	for _, c := range corners {
		ring = append(ring, orb.Point{c.Lng, c.Lat})
	}
	ring = append(ring, orb.Point{corners[0].Lng, corners[0].Lat})
	return math.Abs(geo.Area(orb.Polygon{ring}))
}

const earthRadiusM = 6371008.8

func metersToLatDegrees(m float64) float64 {
	return (m / earthRadiusM) * (180 / math.Pi)
}

func metersToLngDegrees(m, atLat float64) float64 {
	circleRadius := earthRadiusM * math.Cos(atLat*math.Pi/180)
	if circleRadius <= 0 {
		return 0
	}
	return (m / circleRadius) * (180 / math.Pi)
}
