package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/mp3portal/internal/core"
	"github.com/JonMunkholm/mp3portal/internal/logging"
	"github.com/JonMunkholm/mp3portal/internal/web/templates"
)

// multipartMemory is how much of a multipart body is kept in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// audioField is the form field both upload inputs post under.
const audioField = "audio"

// handleUploadPage renders the staged previews of this session.
func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, templates.Upload(templates.UploadPage{
		Page:    s.page(r, "Upload audio"),
		Entries: s.previews.Entries(sessionID(r)),
		Accept:  strings.Join(core.AcceptedAudioExtensions(), ", "),
	}))
}

// handleAudioUpload replaces the session's previews with the posted batch.
// A rejected batch leaves the session with no previews at all.
func (s *Server) handleAudioUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	sid := sessionID(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.AudioMaxRequestSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.previews.Release(sid)
			s.audioRejected(w, r, fmt.Errorf("request body too large: %w", core.ErrAudioTooLarge))
			return
		}
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[audioField]
	files := make([]core.AudioFile, len(headers))
	for i, fh := range headers {
		files[i] = core.AudioFile{Name: filepath.Base(fh.Filename), Size: fh.Size}
	}

	// Only read the bytes of a batch that can be accepted.
	if err := s.previews.CheckBatch(files); err == nil {
		for i, fh := range headers {
			data, err := readPart(fh, s.previews.MaxFileSize())
			if err != nil {
				s.respondError(w, r, err, http.StatusBadRequest)
				return
			}
			files[i].Data = data
		}
	}

	entries, err := s.previews.Stage(sid, files)
	if err != nil {
		s.audioRejected(w, r, err)
		return
	}
	logger.Info("audio batch staged", "files", len(entries))

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, entries)
		return
	}
	http.Redirect(w, r, "/upload", http.StatusSeeOther)
}

// audioRejected reports a rejected batch.
func (s *Server) audioRejected(w http.ResponseWriter, r *http.Request, err error) {
	logging.FromContext(r.Context()).Info("audio batch rejected", "error", err)

	status := http.StatusRequestEntityTooLarge
	if errors.Is(err, core.ErrUnsupportedAudio) {
		status = http.StatusUnsupportedMediaType
	}
	if wantsJSON(r) {
		s.respondError(w, r, err, status)
		return
	}
	s.notify(r, core.NoticeError, core.MapError(err).Message)
	http.Redirect(w, r, "/upload", http.StatusSeeOther)
}

// readPart reads one uploaded file, refusing more than limit bytes.
func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", fh.Filename, err)
	}
	return data, nil
}

// handleAudioClear releases every preview of the session.
func (s *Server) handleAudioClear(w http.ResponseWriter, r *http.Request) {
	n := s.previews.Release(sessionID(r))
	logging.FromContext(r.Context()).Debug("previews cleared", "entries", n)
	http.Redirect(w, r, "/upload", http.StatusSeeOther)
}

// handlePreview serves the staged bytes of one entry. Range requests are
// supported so the audio element can seek.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	e, err := s.previews.Lookup(sessionID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", e.ContentType)
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, e.Name, e.StagedAt, bytes.NewReader(e.Data()))
}

// playbackRequest is the optional body of a playback action.
type playbackRequest struct {
	Position *float64 `json:"position"`
}

// handlePlayback applies a control to an entry and returns its new state.
func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	e, err := s.previews.Lookup(sessionID(r), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	var req playbackRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, r, fmt.Errorf("decode playback request: %w", err), http.StatusBadRequest)
		return
	}

	action := core.PlaybackAction(chi.URLParam(r, "action"))
	pb := e.Playback()
	if req.Position != nil && action != core.ActionStop {
		pb.Seek(*req.Position)
	}
	if err := core.ApplyPlaybackAction(pb, action); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, pb.State())
}
