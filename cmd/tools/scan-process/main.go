// Command scan-process runs the survey pipeline on a local LAS or E57 file
// without a database, or submits the file to a running server.
//
// Local mode prints the detected floors and walls and can write the
// decimated cloud, preview and a plan for one floor to -out:
//
//	scan-process -in site.e57 -out results -format pdf -floor 0
//
// Server mode uploads, waits for processing and downloads the plan:
//
//	scan-process -in site.las -server http://localhost:8090 -out results
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/survey.report/internal/api"
	"github.com/banshee-data/survey.report/internal/config"
	"github.com/banshee-data/survey.report/internal/survey/decimate"
	"github.com/banshee-data/survey.report/internal/survey/e57"
	"github.com/banshee-data/survey.report/internal/survey/floors"
	"github.com/banshee-data/survey.report/internal/survey/las"
	"github.com/banshee-data/survey.report/internal/survey/planexport"
	"github.com/banshee-data/survey.report/internal/survey/pointcloud"
	"github.com/banshee-data/survey.report/internal/survey/preview"
	"github.com/banshee-data/survey.report/internal/survey/storage/sqlite"
	"github.com/banshee-data/survey.report/internal/survey/walls"
	"github.com/banshee-data/survey.report/internal/version"
)

type cliConfig struct {
	In         string
	Out        string
	TuningPath string
	Server     string
	Floor      int
	Format     string
	Paper      string
	Scale      int
	Project    string
	Timeout    time.Duration
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("scan-process", flag.ContinueOnError)
	c := &cliConfig{}
	fs.StringVar(&c.In, "in", "", "input .las or .e57 file (required)")
	fs.StringVar(&c.Out, "out", "", "directory for artifacts (empty prints a summary only)")
	fs.StringVar(&c.TuningPath, "tuning", "", "tuning JSON file")
	fs.StringVar(&c.Server, "server", "", "survey server base URL; uploads instead of processing locally")
	fs.IntVar(&c.Floor, "floor", 0, "floor index to export a plan for")
	fs.StringVar(&c.Format, "format", "pdf", "plan format: pdf, svg or dxf")
	fs.StringVar(&c.Paper, "paper", string(planexport.PaperA3), "paper size")
	fs.IntVar(&c.Scale, "scale", 100, "scale denominator")
	fs.StringVar(&c.Project, "project", "", "project name for the title block")
	fs.DurationVar(&c.Timeout, "timeout", 30*time.Minute, "server mode: how long to wait for processing")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if c.In == "" {
		return nil, fmt.Errorf("-in is required")
	}
	if _, err := sourceFormat(c.In); err != nil {
		return nil, err
	}
	return c, nil
}

func sourceFormat(path string) (sqlite.SourceFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".las":
		return sqlite.FormatLAS, nil
	case ".e57":
		return sqlite.FormatE57, nil
	}
	return "", fmt.Errorf("%s: expected a .las or .e57 file", path)
}

func main() {
	c, err := parseFlags(os.Args[1:])
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	if c.Server != "" {
		err = runRemote(c)
	} else {
		err = runLocal(c, os.Stdout)
	}
	if err != nil {
		log.Fatal(err)
	}
}

type floorResult struct {
	Floor floors.Floor
	Walls []walls.Wall
}

type localResult struct {
	Input   *pointcloud.Cloud
	Reduced *pointcloud.Cloud
	Stats   decimate.Stats
	Floors  []floorResult
}

func decode(path string, buf []byte) (*pointcloud.Cloud, error) {
	f, err := sourceFormat(path)
	if err != nil {
		return nil, err
	}
	if f == sqlite.FormatE57 {
		cloud, sum, err := e57.Decode(buf)
		if err != nil {
			return nil, err
		}
		log.Printf("E57: %d scans, %d points, fields %s", sum.Scans, sum.Points, strings.Join(sum.Fields, ","))
		return cloud, nil
	}
	cloud, hdr, err := las.Parse(buf, int64(len(buf)))
	if err != nil {
		return nil, err
	}
	log.Printf("LAS %d.%d: format %d, %d points", hdr.VersionMajor, hdr.VersionMinor, hdr.PointFormat, cloud.Count())
	return cloud, nil
}

// process mirrors the server pipeline's analysis without persistence.
func process(cloud *pointcloud.Cloud, tuning *config.TuningConfig) *localResult {
	r := &localResult{Input: cloud}
	r.Reduced, r.Stats = decimate.Decimate(cloud, tuning.ToDecimateParams())
	wp := tuning.ToWallParams()
	for _, f := range floors.Detect(cloud, tuning.ToFloorParams()) {
		ws, _ := walls.Detect(cloud, f.HeightM, wp)
		r.Floors = append(r.Floors, floorResult{Floor: f, Walls: ws})
	}
	return r
}

func printSummary(w io.Writer, r *localResult) {
	fmt.Fprintf(w, "points: %d in, %d after decimation (%d voxels at %.3fm)\n",
		r.Stats.InputPoints, r.Stats.OutputPoints, r.Stats.OccupiedVoxels, r.Stats.VoxelEdgeM)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FLOOR\tHEIGHT\tCONFIDENCE\tWALLS\tLONGEST")
	for _, fr := range r.Floors {
		longest := 0.0
		if len(fr.Walls) > 0 {
			longest = fr.Walls[0].LengthM
		}
		fmt.Fprintf(tw, "%s\t%.2fm\t%.2f\t%d\t%.2fm\n",
			fr.Floor.Label, fr.Floor.HeightM, fr.Floor.Confidence, len(fr.Walls), longest)
	}
	tw.Flush()
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func (c *cliConfig) planOptions(label string) (planexport.Options, error) {
	format, err := planexport.ParseFormat(c.Format)
	if err != nil {
		return planexport.Options{}, err
	}
	paper, err := planexport.ParsePaperSize(c.Paper)
	if err != nil {
		return planexport.Options{}, err
	}
	o := planexport.Options{
		Format:      format,
		PaperSize:   paper,
		Orientation: planexport.OrientationAuto,
		Scale:       c.Scale,
		FloorLabel:  label,
		Project:     c.Project,
		Reference:   "LOCAL",
		Generator:   version.Generator(),
		Date:        time.Now(),
	}
	return o, o.Validate()
}

func runLocal(c *cliConfig, stdout io.Writer) error {
	tuning, err := loadTuning(c.TuningPath)
	if err != nil {
		return err
	}
	buf, err := os.ReadFile(c.In)
	if err != nil {
		return err
	}
	cloud, err := decode(c.In, buf)
	if err != nil {
		return err
	}
	r := process(cloud, tuning)
	printSummary(stdout, r)
	if c.Out == "" {
		return nil
	}
	return writeArtifacts(c, tuning, r)
}

func writeArtifacts(c *cliConfig, tuning *config.TuningConfig, r *localResult) error {
	if err := os.MkdirAll(c.Out, 0o755); err != nil {
		return err
	}
	decimated, err := las.EncodeBytes(r.Reduced, las.WriteOptions{
		Scale:    tuning.GetLASOutputScale(),
		Software: version.Generator(),
		Created:  time.Now(),
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.Out, "decimated.las"), decimated, 0o644); err != nil {
		return err
	}

	if c.Floor < 0 || c.Floor >= len(r.Floors) {
		log.Printf("no floor %d (%d detected); skipping preview and plan", c.Floor, len(r.Floors))
		return nil
	}
	fr := r.Floors[c.Floor]
	if r.Reduced.Count() > 0 {
		png, err := preview.Render(r.Reduced, fr.Walls, tuning.ToPreviewOptions())
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(c.Out, "preview.png"), png, 0o644); err != nil {
			return err
		}
	}

	opts, err := c.planOptions(fr.Floor.Label)
	if err != nil {
		return err
	}
	res, err := planexport.Render(fr.Walls, opts)
	if err != nil {
		return fmt.Errorf("plan for %s: %w", fr.Floor.Label, err)
	}
	name := filepath.Join(c.Out, "plan"+res.Format.Extension())
	log.Printf("writing %s (%s %s, 1:%d)", name, res.PaperSize, res.Orientation, res.Scale)
	return os.WriteFile(name, res.Bytes, 0o644)
}

func runRemote(c *cliConfig) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	f, err := os.Open(c.In)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	client := api.NewClient(c.Server)
	sc, err := client.UploadScan(ctx, filepath.Base(c.In), f, st.Size())
	if err != nil {
		return err
	}
	log.Printf("uploaded scan %s (%d bytes)", sc.ScanID, sc.FileSize)

	sc, err = client.WaitProcessed(ctx, sc.ScanID, 2*time.Second)
	if err != nil {
		return err
	}
	if sc.Status != sqlite.StatusReady {
		return fmt.Errorf("scan %s ended %s: %s", sc.ScanID, sc.Status, sc.Error)
	}
	fl, err := client.ListFloors(ctx, sc.ScanID)
	if err != nil {
		return err
	}
	for _, f := range fl {
		log.Printf("floor %s at %.2fm (confidence %.2f)", f.Label, f.HeightM, f.Confidence)
	}
	if c.Out == "" || c.Floor < 0 || c.Floor >= len(fl) {
		return nil
	}

	plan, err := client.ExportPlan(ctx, fl[c.Floor].FloorID, api.PlanRequest{
		Format:    c.Format,
		PaperSize: c.Paper,
		Scale:     planexport.FormatScale(c.Scale),
		Project:   c.Project,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(c.Out, 0o755); err != nil {
		return err
	}
	out, err := os.Create(filepath.Join(c.Out, plan.Reference+"."+plan.Format))
	if err != nil {
		return err
	}
	n, err := client.DownloadPlan(ctx, plan.PlanID, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	log.Printf("downloaded %s (%d bytes)", out.Name(), n)
	return nil
}
