package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/banshee-data/survey.report/internal/httputil"
	"github.com/banshee-data/survey.report/internal/survey/floors"
	"github.com/banshee-data/survey.report/internal/survey/report"
	"github.com/banshee-data/survey.report/internal/survey/walls"
)

func writeHTML(w http.ResponseWriter, buf *bytes.Buffer) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) histogramChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc, err := s.store.GetScan(ctx, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if len(sc.ZHistogramJSON) == 0 {
		httputil.NotFound(w, "scan has not been processed")
		return
	}
	var h floors.Histogram
	if err := json.Unmarshal(sc.ZHistogramJSON, &h); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("decode histogram: %v", err))
		return
	}
	rows, err := s.store.ListFloors(ctx, sc.ScanID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	fl := make([]floors.Floor, len(rows))
	for i, f := range rows {
		fl[i] = f.Floor
	}

	var buf bytes.Buffer
	if err := report.WriteHistogram(&buf, sc.Filename, &h, fl); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeHTML(w, &buf)
}

func (s *Server) wallsChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	f, err := s.store.GetFloor(ctx, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	rows, err := s.store.ListWalls(ctx, f.FloorID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	ws := make([]walls.Wall, len(rows))
	for i, row := range rows {
		ws[i] = row.Wall
	}

	var buf bytes.Buffer
	if err := report.WriteWalls(&buf, fmt.Sprintf("%s at %.2f m", f.Label, f.HeightM), ws); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	writeHTML(w, &buf)
}
