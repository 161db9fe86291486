package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/logging"
	"github.com/JonMunkholm/mp3portal/internal/web/templates"
)

// csvField is the form field of the import input.
const csvField = "file"

// CSVImportResponse is the JSON form of an import.
type CSVImportResponse struct {
	FileName string          `json:"fileName"`
	Valid    bool            `json:"valid"`
	Oversize bool            `json:"oversize"`
	Headers  []string        `json:"headers"`
	Rows     [][]string      `json:"rows"`
	Errors   []core.RowError `json:"errors"`
	Missing  []string        `json:"missing,omitempty"`
}

// handleCSVPage renders the empty import form.
func (s *Server) handleCSVPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, templates.CSVImport(templates.CSVImportPage{
		Page: s.page(r, "Import CSV"),
	}))
}

// handleCSVImport parses the posted file and shows it when its headers are
// valid. Every import stands alone; nothing is kept between requests.
func (s *Server) handleCSVImport(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.CSVMaxRequestSize)
	file, header, err := r.FormFile(csvField)
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			s.respondError(w, r, fmt.Errorf("request body too large: %w", err), http.StatusRequestEntityTooLarge)
		case errors.Is(err, http.ErrMissingFile):
			s.csvRejected(w, r, core.ErrNoFile, http.StatusBadRequest)
		default:
			s.respondError(w, r, err, http.StatusBadRequest)
		}
		return
	}
	defer file.Close()

	res, err := s.csv.Parse(file, header.Size)
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	if res.Oversize {
		logger.Info("csv over soft limit", "file", header.Filename, "size", res.Size)
		if !wantsJSON(r) {
			s.notify(r, core.NoticeWarning, core.MsgCSVTooLarge)
		}
	}

	resp := CSVImportResponse{
		FileName: header.Filename,
		Oversize: res.Oversize,
		Headers:  res.Parsed.Headers,
		Rows:     [][]string{},
		Errors:   res.Errors,
	}
	if resp.Errors == nil {
		resp.Errors = []core.RowError{}
	}

	status := http.StatusOK
	if err := core.ValidateHeaders(res.Parsed.Headers); err != nil {
		logger.Info("csv headers rejected", "file", header.Filename, "error", err)
		var he *core.HeaderError
		if errors.As(err, &he) {
			resp.Missing = he.Missing
		}
		if !wantsJSON(r) {
			s.notify(r, core.NoticeError, core.MsgInvalidHeaders)
		}
		status = http.StatusUnprocessableEntity
	} else {
		resp.Valid = true
		resp.Rows = res.Parsed.Rows
		logger.Info("csv imported", "file", header.Filename, "rows", len(resp.Rows), "row_errors", len(res.Errors))
	}

	if wantsJSON(r) {
		writeJSON(w, status, resp)
		return
	}

	page := templates.CSVImportPage{
		Page:     s.page(r, "Import CSV"),
		FileName: resp.FileName,
		Valid:    resp.Valid,
	}
	if resp.Valid {
		page.Headers = resp.Headers
		page.Rows = resp.Rows
		page.RowErrors = resp.Errors
	}
	s.render(w, r, status, templates.CSVImport(page))
}

// csvRejected reports an import that could not be read at all.
func (s *Server) csvRejected(w http.ResponseWriter, r *http.Request, err error, status int) {
	if wantsJSON(r) {
		s.respondError(w, r, err, status)
		return
	}
	s.notify(r, core.NoticeError, core.MapError(err).Message)
	http.Redirect(w, r, "/csv-import", http.StatusSeeOther)
}
