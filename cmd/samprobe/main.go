// Command samprobe runs one segmentation prompt against a SAM server and
// prints the returned suggestions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	imgutil "vision-annotator/internal/image"
	applog "vision-annotator/pkg/log"
	"vision-annotator/pkg/mask"
	"vision-annotator/pkg/segmentation"
)

func main() {
	server := flag.String("server", "http://localhost:8000", "SAM server URL")
	transport := flag.String("transport", "http", "Transport: http or ws")
	model := flag.String("model", "sam_v2", "Model: sam_v1, sam_v2 or sam_v3")
	device := flag.String("device", "cuda", "Device: cuda or cpu")
	precision := flag.String("precision", "fp16", "Precision: fp16 or fp32")
	imagePath := flag.String("image", "", "Local copy of the image, used to report its size")
	imageID := flag.String("image-id", "", "Platform image ID")
	kind := flag.String("kind", "point", "Prompt kind: point, box or text")
	x := flag.Float64("x", 0.5, "Point X (normalized)")
	y := flag.Float64("y", 0.5, "Point Y (normalized)")
	box := flag.String("box", "", "Box as x,y,w,h (normalized)")
	text := flag.String("text", "", "Text prompt")
	timeout := flag.Duration("timeout", 2*time.Minute, "Request timeout")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	if *imageID == "" {
		fmt.Println("Usage: samprobe -image-id <id> [-server url] [-transport http|ws] [-kind point|box|text] [-x 0.5 -y 0.5] [-box x,y,w,h] [-text prompt]")
		os.Exit(1)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := applog.NewLogger(applog.Options{Level: level})

	if *imagePath != "" {
		img, err := imgutil.Load(*imagePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
			os.Exit(1)
		}
		w, h := imgutil.Size(img)
		fmt.Printf("Loaded image: %dx%d pixels\n", w, h)
	}

	req, err := buildRequest(*kind, *imageID, *x, *y, *box, *text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid prompt: %v\n", err)
		os.Exit(1)
	}

	var seg segmentation.Segmenter
	switch *transport {
	case "http":
		seg = segmentation.NewHTTPClient(*server, log)
	case "ws":
		ws := segmentation.NewWSClient(*server, log)
		defer ws.Close()
		seg = ws
	default:
		fmt.Fprintf(os.Stderr, "Unknown transport %q\n", *transport)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := segmentation.ModelConfig{Model: *model, Device: *device, Precision: *precision}
	fmt.Printf("Starting session (%s) on %s...\n", cfg, *server)
	start := time.Now()
	sessionID, err := seg.StartSession(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Session %s ready in %s\n", sessionID, time.Since(start).Round(time.Millisecond))
	defer func() {
		if err := seg.EndSession(context.Background(), sessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to end session: %v\n", err)
		}
	}()

	fmt.Printf("\nSegmenting (%s)...\n", req.Kind)
	start = time.Now()
	results, err := seg.Segment(ctx, sessionID, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Segmentation failed: %v\n", err)
		return
	}
	fmt.Printf("Got %d suggestions in %s:\n", len(results), time.Since(start).Round(time.Millisecond))
	printResults(results)
}

func buildRequest(kind, imageID string, x, y float64, box, text string) (segmentation.Request, error) {
	req := segmentation.Request{Kind: segmentation.Kind(kind), ImageID: imageID}
	switch req.Kind {
	case segmentation.KindPoint:
		req.Points = []segmentation.Point{{X: x, Y: y, Label: segmentation.LabelPositive}}
	case segmentation.KindBox:
		b, err := parseBox(box)
		if err != nil {
			return req, err
		}
		req.Box = &b
	case segmentation.KindText:
		if strings.TrimSpace(text) == "" {
			return req, fmt.Errorf("text prompt is empty")
		}
		req.Text = text
	default:
		return req, fmt.Errorf("unsupported kind %q", kind)
	}
	return req, nil
}

func parseBox(s string) (segmentation.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return segmentation.BBox{}, fmt.Errorf("box must be x,y,w,h, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return segmentation.BBox{}, fmt.Errorf("box component %d: %w", i, err)
		}
		v[i] = f
	}
	b := segmentation.BBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if b.Empty() {
		return b, fmt.Errorf("box has no area")
	}
	return b, nil
}

func printResults(results []segmentation.Result) {
	fmt.Printf("%-4s %-16s %10s %8s %8s %8s %8s %8s\n",
		"#", "Label", "Confidence", "X", "Y", "W", "H", "Vertices")
	fmt.Println(strings.Repeat("-", 78))
	for i, r := range results {
		label := r.SuggestedLabel
		if label == "" {
			label = "?"
		}
		fmt.Printf("%-4d %-16s %9.1f%% %8.3f %8.3f %8.3f %8.3f %8d\n",
			i+1, label, r.Confidence*100, r.BBox.X, r.BBox.Y, r.BBox.Width, r.BBox.Height, vertices(r))
	}
}

// vertices counts the polygon points, tracing the mask when no polygon was sent.
func vertices(r segmentation.Result) int {
	if len(r.Polygon) > 0 || r.Mask == "" {
		return len(r.Polygon)
	}
	data, err := mask.DecodeBase64(r.Mask)
	if err != nil {
		return 0
	}
	region, err := mask.Largest(data, mask.DefaultEpsilon)
	if err != nil {
		return 0
	}
	return len(region.Polygon)
}
