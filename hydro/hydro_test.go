package hydro

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctessum/geom"
)

const overpassJSON = `{
  "version": 0.6,
  "elements": [
    {"type": "way", "id": 10, "nodes": [1, 2, 3, 1], "tags": {"natural": "water", "name": "Lake"}},
    {"type": "way", "id": 11, "nodes": [4, 5], "tags": {"waterway": "river"}},
    {"type": "way", "id": 12, "nodes": [1, 2], "tags": {"natural": "water"}},
    {"type": "node", "id": 1, "lat": 37.0, "lon": 127.0},
    {"type": "node", "id": 2, "lat": 37.0, "lon": 127.1},
    {"type": "node", "id": 3, "lat": 37.1, "lon": 127.1},
    {"type": "node", "id": 4, "lat": 37.2, "lon": 127.0},
    {"type": "node", "id": 5, "lat": 37.2, "lon": 127.3}
  ]
}`

func TestOverpassSource(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		query = r.Form.Get("data")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(overpassJSON))
	}))
	defer srv.Close()

	bbox := &geom.Bounds{Min: geom.Point{X: 126.9, Y: 36.9}, Max: geom.Point{X: 127.4, Y: 37.3}}
	l, err := NewOverpassSource(srv.URL, 5*time.Second).Load(context.Background(), bbox)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(query, `way["natural"="water"](36.900000,126.900000,37.300000,127.400000)`) {
		t.Errorf("query = %s", query)
	}
	if len(l.Features) != 2 {
		t.Fatalf("got %d features", len(l.Features))
	}
	lake, ok := l.Features[0].Geometry.(geom.Polygon)
	if !ok || len(lake[0]) != 4 || l.Features[0].Properties["name"] != "Lake" {
		t.Errorf("lake = %#v", l.Features[0])
	}
	if _, ok := l.Features[1].Geometry.(geom.LineString); !ok {
		t.Errorf("river is %T", l.Features[1].Geometry)
	}
}

func TestFileSourcesMerge(t *testing.T) {
	dir := t.TempDir()
	lakes := filepath.Join(dir, "lakes.geojson")
	rivers := filepath.Join(dir, "rivers.geojson")
	os.WriteFile(lakes, []byte(`{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"name":"in"},"geometry":{"type":"Polygon","coordinates":[[[127,37],[127.1,37],[127.1,37.1],[127,37]]]}},
	  {"type":"Feature","properties":{"name":"far"},"geometry":{"type":"Polygon","coordinates":[[[10,10],[11,10],[11,11],[10,10]]]}}]}`), 0o644)
	os.WriteFile(rivers, []byte(`{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[126.95,37.2],[127.2,37.2]]}}`), 0o644)

	bbox := &geom.Bounds{Min: geom.Point{X: 126.9, Y: 36.9}, Max: geom.Point{X: 127.4, Y: 37.3}}
	l, err := Load(context.Background(), []Source{FileSource{Path: lakes}, FileSource{Path: rivers}}, bbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(l.Features) != 2 {
		t.Fatalf("got %d features", len(l.Features))
	}
	if l.Features[0].Properties["name"] != "in" {
		t.Errorf("first feature = %v", l.Features[0].Properties)
	}
}
