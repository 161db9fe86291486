package core

// audio.go stages audio files for in-browser preview.
//
// Each session owns at most one batch of entries. Staging a new batch always
// releases the previous one, and a batch with any rejected file stages
// nothing. A released entry's bytes are dropped and its preview URL stops
// resolving.

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultAudioMaxFileSize is the per-file preview limit in bytes.
const DefaultAudioMaxFileSize = 3_000_000

// PreviewPathPrefix is the URL path under which staged bytes are served.
const PreviewPathPrefix = "/preview/"

const (
	MsgAudioTooBig      = "File size is too big"
	MsgUnsupportedAudio = "Only mp3 and wav files are supported"
)

var (
	ErrAudioTooLarge         = errors.New("audio file too big")
	ErrUnsupportedAudio      = errors.New("unsupported audio type")
	ErrPreviewNotFound       = errors.New("preview not found")
	ErrUnknownPlaybackAction = errors.New("unknown playback action")
)

// audioContentTypes maps accepted extensions to the type served for previews.
var audioContentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

// AcceptedAudioExtensions lists the extensions the upload inputs accept.
func AcceptedAudioExtensions() []string {
	exts := make([]string, 0, len(audioContentTypes))
	for ext := range audioContentTypes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// AudioFile is one file of a selection batch.
type AudioFile struct {
	Name string
	Size int64
	Data []byte
}

// AudioPreviewEntry is a staged file with its preview URL.
type AudioPreviewEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	PreviewURL  string    `json:"previewUrl"`
	StagedAt    time.Time `json:"stagedAt"`

	data     []byte
	playback *Playback
}

// Data returns the staged bytes.
func (e *AudioPreviewEntry) Data() []byte {
	return e.data
}

// Playback returns the entry's playback handle.
func (e *AudioPreviewEntry) Playback() *Playback {
	return e.playback
}

// Looping reports whether the entry's player is set to repeat.
func (e *AudioPreviewEntry) Looping() bool {
	return e.playback != nil && e.playback.Looping()
}

// PreviewRegistry holds staged entries for all sessions.
type PreviewRegistry struct {
	mu        sync.Mutex
	maxSize   int64
	entries   map[string]*AudioPreviewEntry
	bySession map[string][]string
	now       func() time.Time
}

// NewPreviewRegistry creates a registry enforcing maxSize bytes per file.
func NewPreviewRegistry(maxSize int64) *PreviewRegistry {
	if maxSize <= 0 {
		maxSize = DefaultAudioMaxFileSize
	}
	return &PreviewRegistry{
		maxSize:   maxSize,
		entries:   make(map[string]*AudioPreviewEntry),
		bySession: make(map[string][]string),
		now:       time.Now,
	}
}

// MaxFileSize returns the per-file limit.
func (r *PreviewRegistry) MaxFileSize() int64 {
	return r.maxSize
}

// CheckBatch validates a selection without staging it.
func (r *PreviewRegistry) CheckBatch(files []AudioFile) error {
	for _, f := range files {
		if f.Size > r.maxSize || int64(len(f.Data)) > r.maxSize {
			return fmt.Errorf("%q: %w", f.Name, ErrAudioTooLarge)
		}
	}
	for _, f := range files {
		if _, ok := audioContentTypes[strings.ToLower(filepath.Ext(f.Name))]; !ok {
			return fmt.Errorf("%q: %w", f.Name, ErrUnsupportedAudio)
		}
	}
	return nil
}

// Stage replaces the session's entries with files. The previous entries are
// released whether or not the new batch is accepted.
func (r *PreviewRegistry) Stage(sessionID string, files []AudioFile) ([]AudioPreviewEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.releaseLocked(sessionID)

	if err := r.CheckBatch(files); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return []AudioPreviewEntry{}, nil
	}

	now := r.now()
	ids := make([]string, 0, len(files))
	out := make([]AudioPreviewEntry, 0, len(files))
	for _, f := range files {
		id := uuid.NewString()
		e := &AudioPreviewEntry{
			ID:          id,
			Name:        f.Name,
			Size:        f.Size,
			ContentType: audioContentTypes[strings.ToLower(filepath.Ext(f.Name))],
			PreviewURL:  PreviewPathPrefix + id,
			StagedAt:    now,
			data:        f.Data,
			playback:    &Playback{},
		}
		r.entries[id] = e
		ids = append(ids, id)
		out = append(out, *e)
	}
	r.bySession[sessionID] = ids

	return out, nil
}

// Entries returns the session's staged entries in selection order.
func (r *PreviewRegistry) Entries(sessionID string) []AudioPreviewEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.bySession[sessionID]
	out := make([]AudioPreviewEntry, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Lookup returns a copy of an entry owned by sessionID.
func (r *PreviewRegistry) Lookup(sessionID, id string) (AudioPreviewEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, owned := range r.bySession[sessionID] {
		if owned == id {
			if e, ok := r.entries[id]; ok {
				return *e, nil
			}
		}
	}
	return AudioPreviewEntry{}, ErrPreviewNotFound
}

// Release drops every entry of the session and returns how many were released.
func (r *PreviewRegistry) Release(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(sessionID)
}

func (r *PreviewRegistry) releaseLocked(sessionID string) int {
	ids := r.bySession[sessionID]
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			e.data = nil
			delete(r.entries, id)
		}
	}
	delete(r.bySession, sessionID)
	return len(ids)
}

// SessionIDs lists the sessions that currently have staged entries.
func (r *PreviewRegistry) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.bySession))
	for id := range r.bySession {
		ids = append(ids, id)
	}
	return ids
}

// ReleaseOrphans releases the entries of sessions the store no longer knows.
// It returns the number of entries released.
func (r *PreviewRegistry) ReleaseOrphans(ctx context.Context, store SessionStore) (int, error) {
	released := 0
	for _, id := range r.SessionIDs() {
		_, err := store.Get(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionNotFound):
			released += r.Release(id)
		default:
			return released, fmt.Errorf("check session: %w", err)
		}
	}
	return released, nil
}

// RegistryStats summarizes what the registry holds.
type RegistryStats struct {
	Sessions int   `json:"sessions"`
	Entries  int   `json:"entries"`
	Bytes    int64 `json:"bytes"`
}

// Stats returns current totals.
func (r *PreviewRegistry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := RegistryStats{Sessions: len(r.bySession), Entries: len(r.entries)}
	for _, e := range r.entries {
		st.Bytes += int64(len(e.data))
	}
	return st
}

// MediaHandle is a controllable media element.
type MediaHandle interface {
	Play()
	Pause()
	Seek(seconds float64)
	Looping() bool
	SetLoop(loop bool)
}

// Play starts playback.
func Play(h MediaHandle) { h.Play() }

// Pause pauses playback, keeping the position.
func Pause(h MediaHandle) { h.Pause() }

// Stop pauses and rewinds to the start.
func Stop(h MediaHandle) {
	h.Pause()
	h.Seek(0)
}

// ToggleLoop flips the loop flag.
func ToggleLoop(h MediaHandle) {
	h.SetLoop(!h.Looping())
}

// PlaybackAction names a control.
type PlaybackAction string

const (
	ActionPlay       PlaybackAction = "play"
	ActionPause      PlaybackAction = "pause"
	ActionStop       PlaybackAction = "stop"
	ActionToggleLoop PlaybackAction = "loop"
)

// ApplyPlaybackAction runs the named control on h.
func ApplyPlaybackAction(h MediaHandle, action PlaybackAction) error {
	switch action {
	case ActionPlay:
		Play(h)
	case ActionPause:
		Pause(h)
	case ActionStop:
		Stop(h)
	case ActionToggleLoop:
		ToggleLoop(h)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPlaybackAction, action)
	}
	return nil
}

// PlaybackState is the observable state of a Playback.
type PlaybackState struct {
	Playing  bool    `json:"playing"`
	Loop     bool    `json:"loop"`
	Position float64 `json:"position"`
}

// Playback tracks the state of one entry's player on the server so the page
// can be re-rendered consistently.
type Playback struct {
	mu    sync.Mutex
	state PlaybackState
}

func (p *Playback) Play() {
	p.mu.Lock()
	p.state.Playing = true
	p.mu.Unlock()
}

func (p *Playback) Pause() {
	p.mu.Lock()
	p.state.Playing = false
	p.mu.Unlock()
}

func (p *Playback) Seek(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	p.mu.Lock()
	p.state.Position = seconds
	p.mu.Unlock()
}

func (p *Playback) Looping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Loop
}

func (p *Playback) SetLoop(loop bool) {
	p.mu.Lock()
	p.state.Loop = loop
	p.mu.Unlock()
}

// State returns a snapshot.
func (p *Playback) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
