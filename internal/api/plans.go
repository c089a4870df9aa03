package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/survey.report/internal/httputil"
	"github.com/banshee-data/survey.report/internal/survey/planexport"
)

const maxPlanRequestBytes = 64 << 10

// PlanRequest is the body of POST /api/floors/{id}/plans. Empty fields
// other than Format take the exporter defaults.
type PlanRequest struct {
	Format      string `json:"format"`
	PaperSize   string `json:"paper_size"`
	Scale       string `json:"scale"`
	Orientation string `json:"orientation"`
	Project     string `json:"project"`
}

func (p PlanRequest) options() (planexport.Options, error) {
	var o planexport.Options
	var err error
	if o.Format, err = planexport.ParseFormat(p.Format); err != nil {
		return o, err
	}
	if p.PaperSize != "" {
		if o.PaperSize, err = planexport.ParsePaperSize(p.PaperSize); err != nil {
			return o, err
		}
	}
	if p.Scale != "" {
		if o.Scale, err = planexport.ParseScale(p.Scale); err != nil {
			return o, err
		}
	}
	if o.Orientation, err = planexport.ParseOrientation(p.Orientation); err != nil {
		return o, err
	}
	o.Project = p.Project
	return o, nil
}

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "plan export is not configured")
		return
	}
	var req PlanRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxPlanRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	opts, err := req.options()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	plan, err := s.exporter.ExportPlan(r.Context(), r.PathValue("id"), opts)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusCreated, plan)
	case errors.Is(err, planexport.ErrEmptyGeometry), errors.Is(err, planexport.ErrDoesNotFit):
		httputil.Unprocessable(w, err.Error())
	case errors.Is(err, planexport.ErrInvalidOption):
		httputil.BadRequest(w, err.Error())
	default:
		writeStoreError(w, err)
	}
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if _, err := s.store.GetFloor(ctx, id); err != nil {
		writeStoreError(w, err)
		return
	}
	plans, err := s.store.ListPlans(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"plans": plans})
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSONOK(w, p)
}

func (s *Server) downloadPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	f := planexport.Format(p.Format)
	s.serveObject(w, r, p.StoragePath, f.ContentType(), p.Reference+f.Extension())
}
