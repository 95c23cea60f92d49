package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/storyweave/karta/internal/chapter"
	"github.com/storyweave/karta/internal/geo"
	"github.com/storyweave/karta/internal/i18n"
	"github.com/storyweave/karta/internal/snapshot"
	"github.com/storyweave/karta/pkg/core"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// maxSnapshotSize limits uploaded snapshot files.
const maxSnapshotSize = 64 << 20

// SaveChaptersRequest is the body of a chapter overview save.
type SaveChaptersRequest struct {
	Chapters []core.Chapter  `json:"chapters"`
	Links    []core.NodeLink `json:"links"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string       `json:"error"`
	Code  chapter.Code `json:"code,omitempty"`
}

// MapExtentResponse is the bounding box of a map. Empty is set for a map
// without markers, whose box is all zero.
type MapExtentResponse struct {
	geo.Extent
	Empty bool `json:"empty"`
}

// MetricValue is one summed counter of /api/metrics.
type MetricValue struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

func (s *Server) handleGetChapters(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	overview, err := s.deps.Chapters.GetChapterOverview(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleSaveChapters(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	var req SaveChaptersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	overview, err := s.deps.Chapters.SaveChapterOverview(r.Context(), projectID, req.Chapters, req.Links)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		jsonError(w, "chapter number must be an integer", http.StatusBadRequest)
		return
	}

	result, err := s.deps.Chapters.RepairSweep(r.Context(), projectID, number)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMapExtent(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	mapID := chi.URLParam(r, "mapID")

	m, err := s.deps.Store.GetMap(r.Context(), projectID, mapID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if m == nil {
		jsonError(w, fmt.Sprintf("map %s not found", mapID), http.StatusNotFound)
		return
	}

	ext, ok := geo.MarkerExtent(m)
	writeJSON(w, http.StatusOK, MapExtentResponse{Extent: ext, Empty: !ok})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	entries, err := s.deps.Store.ListTimeline(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleImportSnapshot imports a snapshot uploaded as multipart field "file".
func (s *Server) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSnapshotSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "missing snapshot file: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	// ReadFile sniffs gzip itself, so spool the upload to disk first.
	tmp, err := os.CreateTemp("", "karta-snapshot-*")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		s.writeServiceError(w, r, err)
		return
	}
	tmp.Close()

	snap, err := snapshot.ReadFile(tmp.Name())
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := snap.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := snapshot.Import(r.Context(), s.deps.Store, snap); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.log.InfoContext(r.Context(), "Imported snapshot", "file", header.Filename, "projects", len(snap.Projects))
	writeJSON(w, http.StatusOK, map[string]int{"projects": len(snap.Projects)})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	rm, err := s.deps.Metrics.Collect(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	values := make([]MetricValue, 0)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			v := MetricValue{Name: m.Name}
			for _, dp := range sum.DataPoints {
				v.Value += dp.Value
			}
			values = append(values, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metrics": values})
}

// writeServiceError maps engine errors to status codes. Validation errors are
// localized from Accept-Language; anything unexpected stays opaque.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if verr := chapter.AsValidation(err); verr != nil {
		tag := i18n.MatchAcceptLanguage(r.Header.Get("Accept-Language"))
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: i18n.Message(tag, verr),
			Code:  verr.Code,
		})
		return
	}
	if errors.Is(err, chapter.ErrOverviewNotFound) {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if errors.Is(err, snapshot.ErrConflict) {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}

	s.log.ErrorContext(r.Context(), "Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err)
	jsonError(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
