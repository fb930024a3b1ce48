package aoi

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/prl900/dem_prep/georast"
	"github.com/prl900/dem_prep/vector"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostGISProvider looks boundaries up in a PostGIS table.
type PostGISProvider struct {
	db         *sqlx.DB
	query      string
	Table      string
	Field      string
	GeomColumn string
}

type boundaryRow struct {
	GeoJSON string `db:"geojson"`
	SRID    int    `db:"srid"`
}

// NewPostGISProvider connects to dsn. Table, field and geometry column are
// interpolated into SQL and must be plain identifiers.
func NewPostGISProvider(dsn, table, field, geomColumn string) (*PostGISProvider, error) {
	q, err := lookupQuery(table, field, geomColumn)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgis: %w", err)
	}
	return &PostGISProvider{db: db, query: q, Table: table, Field: field, GeomColumn: geomColumn}, nil
}

func lookupQuery(table, field, geomColumn string) (string, error) {
	if field == "" {
		field = DefaultField
	}
	if geomColumn == "" {
		geomColumn = "geom"
	}
	for _, id := range []string{table, field, geomColumn} {
		if !identRe.MatchString(id) {
			return "", fmt.Errorf("invalid SQL identifier %q", id)
		}
	}
	return fmt.Sprintf(`
		SELECT
			ST_AsGeoJSON(%[3]s) AS geojson,
			ST_SRID(%[3]s) AS srid
		FROM %[1]s
		WHERE %[2]s = $1`, table, field, geomColumn), nil
}

func (p *PostGISProvider) Lookup(ctx context.Context, id string) (*vector.Layer, error) {
	var rows []boundaryRow
	if err := p.db.SelectContext(ctx, &rows, p.query, id); err != nil {
		return nil, fmt.Errorf("failed to query boundaries: %w", err)
	}
	l := &vector.Layer{Name: p.Table, CRS: georast.WGS84}
	for i, r := range rows {
		g, err := vector.DecodeGeometry([]byte(r.GeoJSON))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if i == 0 && r.SRID > 0 {
			crs, err := georast.ParseCRS(fmt.Sprintf("EPSG:%d", r.SRID))
			if err != nil {
				return nil, err
			}
			l.CRS = crs
		}
		l.Features = append(l.Features, vector.Feature{Geometry: g, Properties: map[string]string{p.Field: id}})
	}
	return l, nil
}

func (p *PostGISProvider) Close() error { return p.db.Close() }
