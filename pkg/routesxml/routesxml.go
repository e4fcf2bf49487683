// Package routesxml discovers driving routes from the leaderboard-format XML
// catalogs the simulator consumes.
package routesxml

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrInvalidName reports a catalog name that does not resolve to a file stem
// after sanitizing.
var ErrInvalidName = errors.New("invalid route file name")

// Route summarizes one <route> element.
type Route struct {
	ID        string `json:"route_id"`
	Name      string `json:"route_name,omitempty"`
	Town      string `json:"town,omitempty"`
	Scenarios int    `json:"scenario_count"`
	Waypoints int    `json:"waypoint_count"`
}

// FileInfo describes one route catalog file.
type FileInfo struct {
	Name        string    `json:"filename"`
	Path        string    `json:"file_path"`
	TotalRoutes int       `json:"total_routes"`
	Routes      []Route   `json:"routes"`
	ModifiedAt  time.Time `json:"last_modified"`
}

type routesDoc struct {
	XMLName xml.Name    `xml:"routes"`
	Routes  []routeElem `xml:"route"`
}

type routeElem struct {
	ID        string     `xml:"id,attr"`
	Name      string     `xml:"name,attr"`
	Town      string     `xml:"town,attr"`
	Scenarios []struct{} `xml:"scenarios>scenario"`
	Waypoints []struct{} `xml:"waypoints>position"`
	// Older catalogs put waypoints directly under the route.
	FlatWaypoints []struct{} `xml:"waypoint"`
}

// ListFiles scans dir for route catalogs and parses each. Files that fail
// to parse are skipped.
func ListFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read routes directory: %w", err)
	}

	var out []FileInfo
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".xml") {
			continue
		}
		path := filepath.Join(dir, ent.Name())
		routes, err := parseFile(path)
		if err != nil {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:        strings.TrimSuffix(ent.Name(), ".xml"),
			Path:        path,
			TotalRoutes: len(routes),
			Routes:      routes,
			ModifiedAt:  info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ListRoutes parses one catalog by its stem name (without the .xml
// extension). The name is sanitized so callers can pass URL parameters
// directly.
func ListRoutes(dir, name string) ([]Route, error) {
	name = filepath.Base(strings.TrimSuffix(name, ".xml"))
	if name == "" || name == "." || name == ".." {
		return nil, ErrInvalidName
	}
	return parseFile(filepath.Join(dir, name+".xml"))
}

func parseFile(path string) ([]Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc routesDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	routes := make([]Route, 0, len(doc.Routes))
	for _, r := range doc.Routes {
		waypoints := len(r.Waypoints)
		if waypoints == 0 {
			waypoints = len(r.FlatWaypoints)
		}
		routes = append(routes, Route{
			ID:        r.ID,
			Name:      r.Name,
			Town:      r.Town,
			Scenarios: len(r.Scenarios),
			Waypoints: waypoints,
		})
	}
	return routes, nil
}
