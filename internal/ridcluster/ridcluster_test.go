package ridcluster

import (
	"testing"
)

func TestBuildClusterMeetsMinimumFloors(t *testing.T) {
	params := Params{NetMinObfuscationDistanceM: 1000, NetMinClusterSizePercent: 10}
	view := []Position{
		{Lat: 33.0, Lng: -117.0},
		{Lat: 33.0, Lng: -117.0 + 0.0001},
		{Lat: 33.0001, Lng: -117.0 + 0.0001},
		{Lat: 33.0001, Lng: -117.0},
	}
	flights := []Position{{Lat: 33.00005, Lng: -117.00005}}

	cluster := BuildCluster(view, flights, params)

	width := edgeLength(cluster.CornerMin.Lat, cluster.CornerMin.Lng, cluster.CornerMin.Lat, cluster.CornerMax.Lng)
	height := edgeLength(cluster.CornerMin.Lat, cluster.CornerMin.Lng, cluster.CornerMax.Lat, cluster.CornerMin.Lng)

	if width < 2*params.NetMinObfuscationDistanceM-1 {
		t.Fatalf("width %.2f below floor %.2f", width, 2*params.NetMinObfuscationDistanceM)
	}
	if height < 2*params.NetMinObfuscationDistanceM-1 {
		t.Fatalf("height %.2f below floor %.2f", height, 2*params.NetMinObfuscationDistanceM)
	}
	if cluster.NumberOfFlights != 1 {
		t.Fatalf("got %d flights, want 1", cluster.NumberOfFlights)
	}
}

func TestBuildClusterReportsViewAreaNotClusterArea(t *testing.T) {
	params := Params{NetMinObfuscationDistanceM: 1, NetMinClusterSizePercent: 1}
	view := []Position{
		{Lat: 33.0, Lng: -117.0},
		{Lat: 33.0, Lng: -116.99},
		{Lat: 33.01, Lng: -116.99},
		{Lat: 33.01, Lng: -117.0},
	}
	cluster := BuildCluster(view, nil, params)
	wantArea := polygonAreaSqM(view)
	if cluster.AreaSqM != wantArea {
		t.Fatalf("got area %v, want view area %v", cluster.AreaSqM, wantArea)
	}
}
