package hydro

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ctessum/geom"
	"github.com/serjvanilla/go-overpass"

	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/vector"
)

// DefaultOverpassURL is the public Overpass API endpoint.
const DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

// OverpassSource queries OpenStreetMap for water bodies and waterways.
type OverpassSource struct {
	client  overpass.Client
	timeout time.Duration
}

func NewOverpassSource(endpoint string, timeout time.Duration) *OverpassSource {
	if endpoint == "" {
		endpoint = DefaultOverpassURL
	}
	httpClient := &http.Client{
		Timeout: timeout,
	}
	return &OverpassSource{
		client:  overpass.NewWithSettings(endpoint, 2, httpClient),
		timeout: timeout,
	}
}

// WaterQuery returns the Overpass QL query for water features in bbox.
func WaterQuery(bbox *geom.Bounds) string {
	b := fmt.Sprintf("%f,%f,%f,%f", bbox.Min.Y, bbox.Min.X, bbox.Max.Y, bbox.Max.X)
	return fmt.Sprintf(`
		[out:json];
		(
			way["natural"="water"](%s);
			relation["natural"="water"](%s);
			way["waterway"~"^(river|stream|canal)$"](%s);
		);
		out body;
		>;
		out skel qt;
	`, b, b, b)
}

func (s *OverpassSource) Load(ctx context.Context, bbox *geom.Bounds) (*vector.Layer, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type answer struct {
		res overpass.Result
		err error
	}
	ch := make(chan answer, 1)
	go func() {
		res, err := s.client.Query(WaterQuery(bbox))
		ch <- answer{res, err}
	}()

	select {
	case a := <-ch:
		if a.err != nil {
			return nil, fmt.Errorf("overpass query failed: %w", a.err)
		}
		return resultToLayer(&a.res), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("overpass query: %w", ctx.Err())
	}
}

// resultToLayer turns closed water ways and multipolygon relations into
// polygons and waterways into lines. Elements are emitted in id order.
func resultToLayer(res *overpass.Result) *vector.Layer {
	l := &vector.Layer{Name: "overpass", CRS: georast.WGS84}

	wayIDs := make([]int64, 0, len(res.Ways))
	for id := range res.Ways {
		wayIDs = append(wayIDs, id)
	}
	sort.Slice(wayIDs, func(i, j int) bool { return wayIDs[i] < wayIDs[j] })
	for _, id := range wayIDs {
		w := res.Ways[id]
		if len(w.Tags) == 0 {
			// geometry only, referenced by a relation
			continue
		}
		path := wayPath(w)
		if len(path) < 2 {
			continue
		}
		var g geom.Geom
		if _, ok := w.Tags["waterway"]; ok {
			g = geom.LineString(path)
		} else if closed(path) && len(path) >= 4 {
			g = geom.Polygon{path}
		} else {
			continue
		}
		l.Features = append(l.Features, vector.Feature{Geometry: g, Properties: w.Tags})
	}

	relIDs := make([]int64, 0, len(res.Relations))
	for id := range res.Relations {
		relIDs = append(relIDs, id)
	}
	sort.Slice(relIDs, func(i, j int) bool { return relIDs[i] < relIDs[j] })
	for _, id := range relIDs {
		r := res.Relations[id]
		var mp geom.MultiPolygon
		for _, m := range r.Members {
			if m.Way == nil {
				continue
			}
			path := wayPath(m.Way)
			if len(path) < 4 || !closed(path) {
				continue
			}
			switch {
			case m.Role == "inner" && len(mp) > 0:
				mp[len(mp)-1] = append(mp[len(mp)-1], path)
			case m.Role != "inner":
				mp = append(mp, geom.Polygon{path})
			}
		}
		if len(mp) > 0 {
			l.Features = append(l.Features, vector.Feature{Geometry: mp, Properties: r.Tags})
		}
	}
	return l
}

func wayPath(w *overpass.Way) geom.Path {
	path := make(geom.Path, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		if n == nil {
			continue
		}
		path = append(path, geom.Point{X: n.Lon, Y: n.Lat})
	}
	return path
}

func closed(p geom.Path) bool {
	return len(p) > 0 && p[0] == p[len(p)-1]
}
