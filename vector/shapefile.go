package vector

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom/encoding/shp"

	"github.com/prl900/dem_prep/georast"
)

// ReadShapefile reads every record of a .shp file along with the named
// attribute columns. The CRS comes from the sibling .prj; without one the layer is
// assumed to be EPSG:4326.
func ReadShapefile(path string, fields ...string) (*Layer, error) {
	crs, err := readPrj(strings.TrimSuffix(path, filepath.Ext(path)) + ".prj")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile %s: %w", path, err)
	}
	defer d.Close()

	l := &Layer{Name: filepath.Base(path), CRS: crs}
	for {
		g, attrs, more := d.DecodeRowFields(fields...)
		if !more {
			break
		}
		if g == nil {
			continue
		}
		props := make(map[string]string, len(attrs))
		for k, v := range attrs {
			props[k] = strings.TrimSpace(v)
		}
		l.Features = append(l.Features, Feature{Geometry: g, Properties: props})
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("decoding shapefile %s: %w", path, err)
	}
	return l, nil
}

func readPrj(path string) (georast.CRS, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return georast.WGS84, nil
	}
	if err != nil {
		return georast.CRS{}, err
	}
	return georast.ParseCRS(string(b))
}

// ReadZippedShapefile extracts the first .shp (and its siblings) from a zip
// archive into a temporary directory and reads it.
func ReadZippedShapefile(path string, fields ...string) (*Layer, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tmp, err := os.MkdirTemp("", "shpzip")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	var shpPath string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		dst := filepath.Join(tmp, name)
		if err := extract(f, dst); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if shpPath == "" && strings.EqualFold(filepath.Ext(name), ".shp") {
			shpPath = dst
		}
	}
	if shpPath == "" {
		return nil, fmt.Errorf("%s: no .shp member", path)
	}
	l, err := ReadShapefile(shpPath, fields...)
	if err != nil {
		return nil, err
	}
	l.Name = filepath.Base(path)
	return l, nil
}

func extract(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ReadFile reads a layer choosing the decoder by extension: .geojson/.json,
// .shp or .zip.
func ReadFile(path string, fields ...string) (*Layer, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".geojson", ".json":
		return ReadGeoJSON(path)
	case ".shp":
		return ReadShapefile(path, fields...)
	case ".zip":
		return ReadZippedShapefile(path, fields...)
	default:
		return nil, fmt.Errorf("%s: unsupported vector format %q", path, ext)
	}
}
