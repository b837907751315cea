package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/trackseg/server/internal/cache"
	"github.com/trackseg/server/internal/clients/trace"
	"github.com/trackseg/server/internal/config"
	"github.com/trackseg/server/internal/lib/geo"
	"github.com/trackseg/server/internal/lib/segment"
	"github.com/trackseg/server/internal/observability"
	"github.com/trackseg/server/internal/report"
	"github.com/trackseg/server/internal/services"
	"github.com/trackseg/server/internal/store"
)

var logger = observability.NewLoggerTo(os.Stderr, "info", "text")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	geoUtils := geo.NewGeoUtils()

	switch command {
	case "segment":
		handleSegment()
	case "point-distance":
		handlePointDistance(geoUtils)
	case "turn-angle":
		handleTurnAngle(geoUtils)
	case "decode-polyline":
		handleDecodePolyline(geoUtils)
	case "runs":
		handleRuns()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatal(msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func handleSegment() {
	defaults := config.DefaultConfig()

	fs := flag.NewFlagSet("segment", flag.ExitOnError)
	flush := fs.Bool("flush-trailing", defaults.Segmentation.FlushTrailing, "Keep the segment still open when the trace ends")
	minDistance := fs.Float64("min-distance", defaults.Segmentation.MinReportDistance, "Only report segments at least this long (meters)")
	workers := fs.Int("workers", defaults.Segmentation.Workers, "Traces segmented in parallel")
	kmlPath := fs.String("kml", "", "Write all kept segments to this KML file")
	storePath := fs.String("store", ":memory:", "SQLite database recording runs")
	verbose := fs.Bool("v", false, "Log segment decisions")

	fs.Parse(os.Args[2:])

	if fs.NArg() == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  trackseg segment testdata/case1.json testdata/case2.kml")
		fmt.Println("  trackseg segment -flush-trailing -kml segments.kml https://example.com/trace.json")
		os.Exit(1)
	}

	if *verbose {
		logger = observability.NewLoggerTo(os.Stderr, "debug", "text")
	}

	cfg := config.DefaultConfig()
	cfg.Segmentation.FlushTrailing = *flush
	cfg.Segmentation.MinReportDistance = *minDistance
	cfg.Segmentation.Workers = *workers
	cfg.Store.Path = *storePath
	if err := cfg.Validate(); err != nil {
		fatal("Invalid options", err)
	}

	runs, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatal("Failed to open store", err)
	}
	defer runs.Close()

	ctx := context.Background()
	reader := trace.NewReader()

	traces := make([]trace.Trace, 0, fs.NArg())
	for _, source := range fs.Args() {
		t, err := reader.Load(ctx, source)
		if err != nil {
			logger.Error("Skipping trace", "source", source, "error", err)
			continue
		}
		traces = append(traces, t)
	}

	svc := services.NewSegmentService(cache.NewCache(), runs, cfg, logger)
	results, err := svc.SegmentTraces(ctx, traces, services.SegmentOptions{})
	if err != nil {
		fatal("Segmentation failed", err)
	}

	var all segment.Collection
	failed := len(fs.Args()) - len(traces)
	for _, r := range results {
		fmt.Printf("%s\n", r.Name)
		if r.Err != nil {
			fmt.Printf("  error: %v\n\n", r.Err)
			failed++
			continue
		}

		for i, s := range r.Result.Segments {
			fmt.Printf("  %s\n", report.Line(i, s))
		}
		fmt.Printf("  %s (run %s)\n\n", r.Result.Summary, r.Result.RunID)
		all = append(all, r.Result.Segments...)
	}

	if *kmlPath != "" {
		if err := writeKMLFile(*kmlPath, all); err != nil {
			fatal("Failed to write KML", err)
		}
		fmt.Printf("Wrote %d segments to %s\n", len(all), *kmlPath)
	}

	if failed > 0 {
		os.Exit(2)
	}
}

func writeKMLFile(path string, segments segment.Collection) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteKML(f, "trackseg", segments); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func handlePointDistance(geoUtils geo.GeoUtils) {
	fs := flag.NewFlagSet("point-distance", flag.ExitOnError)
	lat1 := fs.Float64("lat1", 0, "Latitude of first point")
	lng1 := fs.Float64("lng1", 0, "Longitude of first point")
	lat2 := fs.Float64("lat2", 0, "Latitude of second point")
	lng2 := fs.Float64("lng2", 0, "Longitude of second point")

	fs.Parse(os.Args[2:])

	if *lat1 == 0 && *lng1 == 0 && *lat2 == 0 && *lng2 == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  trackseg point-distance --lat1 47.501303 --lng1 27.362475 --lat2 47.501403 --lng2 27.362475")
		os.Exit(1)
	}

	p1 := geo.Point{Latitude: *lat1, Longitude: *lng1}
	p2 := geo.Point{Latitude: *lat2, Longitude: *lng2}

	distance, err := geoUtils.PointToPoint(p1, p2)
	if err != nil {
		fatal("Error calculating distance", err)
	}

	fmt.Printf("Distance between points:\n")
	fmt.Printf("  Point 1: (%.6f, %.6f)\n", p1.Latitude, p1.Longitude)
	fmt.Printf("  Point 2: (%.6f, %.6f)\n", p2.Latitude, p2.Longitude)
	fmt.Printf("  Distance: %.2f meters\n", distance)
}

func handleTurnAngle(geoUtils geo.GeoUtils) {
	fs := flag.NewFlagSet("turn-angle", flag.ExitOnError)
	a := fs.String("a", "", "First point as lat,lng")
	b := fs.String("b", "", "Second point as lat,lng")
	c := fs.String("c", "", "Third point as lat,lng")

	fs.Parse(os.Args[2:])

	if *a == "" || *b == "" || *c == "" {
		fmt.Println("Example usage:")
		fmt.Println("  trackseg turn-angle -a 0,0 -b 1,0 -c 1,1")
		os.Exit(1)
	}

	points := make([]geo.Point, 0, 3)
	for _, s := range []string{*a, *b, *c} {
		p, err := parsePoint(s)
		if err != nil {
			fatal("Invalid point", err)
		}
		points = append(points, p)
	}

	angle, err := geoUtils.TurnAngle(points[0], points[1], points[2])
	if err != nil {
		fatal("Error calculating angle", err)
	}

	fmt.Printf("Turn angle: %.6f degrees\n", angle)
	fmt.Printf("Collinear (< %v degrees): %v\n", geo.CollinearityAngle,
		geo.AreCollinear(points[0], points[1], points[2], geo.DefaultCollinearityDelta))
}

func handleDecodePolyline(geoUtils geo.GeoUtils) {
	fs := flag.NewFlagSet("decode-polyline", flag.ExitOnError)
	polylineStr := fs.String("polyline", "", "Encoded polyline string")

	fs.Parse(os.Args[2:])

	if *polylineStr == "" {
		fmt.Println("Example usage:")
		fmt.Println("  trackseg decode-polyline --polyline '_p~iF~ps|U_ulLnnqC_mqNvxq`@'")
		os.Exit(1)
	}

	points, err := geoUtils.DecodePolyline(*polylineStr)
	if err != nil {
		fatal("Error decoding polyline", err)
	}

	fmt.Printf("Decoded %d points:\n", len(points))
	for i, p := range points {
		fmt.Printf("  %d: (%.6f, %.6f)\n", i+1, p.Latitude, p.Longitude)
	}
	fmt.Printf("Path length: %.2f meters\n", geo.PathLength(points))
}

func handleRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	storePath := fs.String("store", "trackseg.db", "SQLite database recording runs")
	limit := fs.Int("limit", 20, "Number of runs to list")
	id := fs.String("id", "", "Show the segments of one run")

	fs.Parse(os.Args[2:])

	runs, err := store.Open(*storePath)
	if err != nil {
		fatal("Failed to open store", err)
	}
	defer runs.Close()

	ctx := context.Background()

	if *id != "" {
		run, err := runs.GetRun(ctx, *id)
		if err != nil {
			fatal("Failed to load run", err)
		}
		fmt.Printf("%s  %s  %s\n", run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"), run.TraceName)
		if err := report.WriteText(os.Stdout, run.Segments); err != nil {
			fatal("Failed to write segments", err)
		}
		fmt.Println(report.Summarize(run.Segments))
		return
	}

	list, err := runs.ListRuns(ctx, *limit)
	if err != nil {
		fatal("Failed to list runs", err)
	}
	if len(list) == 0 {
		fmt.Println("No runs recorded")
		return
	}
	for _, run := range list {
		fmt.Printf("%s  %s  %-30s %3d segments %10.1f m  (%d/%d points)\n",
			run.ID, run.CreatedAt.Format("2006-01-02 15:04:05"), run.TraceName,
			run.SegmentCount, run.TotalMeters, run.DedupedPoints, run.InputPoints)
	}
}

func parsePoint(s string) (geo.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.Point{}, fmt.Errorf("expected lat,lng, got %q", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid latitude %q: %w", parts[0], err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid longitude %q: %w", parts[1], err)
	}
	return geo.NewPoint(lat, lng)
}

func printUsage() {
	fmt.Println("trackseg - straight-segment extraction from GPS traces")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  trackseg <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  segment          Segment one or more traces (JSON, KML, polyline; files or URLs)")
	fmt.Println("  point-distance   Haversine distance between two points")
	fmt.Println("  turn-angle       Turn angle at the middle of three points")
	fmt.Println("  decode-polyline  Decode a polyline and print its points")
	fmt.Println("  runs             List recorded runs, or show one with -id")
	fmt.Println("  help             Show this help message")
	fmt.Println()
	fmt.Println("Use 'trackseg <command> -h' for command-specific flags")
}
