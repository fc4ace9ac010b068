// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/util"
)

// =============================================================================
// TRANSCRIPT TYPES
// =============================================================================

// Transcript is a saved copy of one backend session's history.
type Transcript struct {
	SessionID int64         `json:"session_id"`
	Title     string        `json:"title"`
	BaseURL   string        `json:"base_url,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
	SavedAt   time.Time     `json:"saved_at"`
	Messages  []api.Message `json:"messages"`
}

// TranscriptMeta is the listing view of a Transcript.
type TranscriptMeta struct {
	SessionID    int64     `json:"session_id"`
	Title        string    `json:"title"`
	SavedAt      time.Time `json:"saved_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// NewTranscript builds a transcript from a session and its messages.
func NewTranscript(sess api.Session, messages []api.Message) *Transcript {
	return &Transcript{
		SessionID: sess.SessionID,
		Title:     sess.Title,
		UpdatedAt: sess.UpdatedAt.Time,
		Messages:  messages,
	}
}

// Preview returns the first user message, shortened for listings.
func (t *Transcript) Preview() string {
	for _, m := range t.Messages {
		if m.Role == api.RoleUser && m.Content != "" {
			return util.TruncateWidth(util.OneLine(m.Content), previewWidth)
		}
	}
	return ""
}

func (t *Transcript) meta() TranscriptMeta {
	return TranscriptMeta{
		SessionID:    t.SessionID,
		Title:        t.Title,
		SavedAt:      t.SavedAt,
		MessageCount: len(t.Messages),
		Preview:      t.Preview(),
	}
}

// =============================================================================
// TRANSCRIPT STORE
// =============================================================================

const (
	filePrefix   = "session-"
	fileSuffix   = ".json"
	previewWidth = 80
)

// ErrTranscriptNotFound is returned for a session that was never saved.
var ErrTranscriptNotFound = errors.New("transcript not found")

// TranscriptStore keeps transcripts as one JSON file per session.
type TranscriptStore struct {
	// BaseDir holds the transcript files.
	BaseDir string

	// MaxTranscripts caps the number kept; the oldest saves are pruned.
	// 0 means unlimited.
	MaxTranscripts int

	now func() time.Time
}

// NewTranscriptStore creates baseDir if needed.
func NewTranscriptStore(baseDir string, maxTranscripts int) (*TranscriptStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &TranscriptStore{BaseDir: baseDir, MaxTranscripts: maxTranscripts, now: time.Now}, nil
}

// Save writes t, replacing an earlier save of the same session.
func (s *TranscriptStore) Save(t *Transcript) error {
	if t.SessionID <= 0 {
		return fmt.Errorf("invalid session id %d", t.SessionID)
	}
	t.SavedAt = s.now()
	if t.Messages == nil {
		t.Messages = []api.Message{}
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(s.filePath(t.SessionID), data, 0600); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	if s.MaxTranscripts > 0 {
		return s.prune()
	}
	return nil
}

// Load reads the transcript of sessionID.
func (s *TranscriptStore) Load(sessionID int64) (*Transcript, error) {
	data, err := os.ReadFile(s.filePath(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: session %d", ErrTranscriptNotFound, sessionID)
		}
		return nil, err
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("corrupt transcript %d: %w", sessionID, err)
	}
	return &t, nil
}

// List returns every readable transcript, most recently saved first.
// Unreadable files are skipped.
func (s *TranscriptStore) List() ([]TranscriptMeta, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	metas := make([]TranscriptMeta, 0, len(ids))
	for _, id := range ids {
		t, err := s.Load(id)
		if err != nil {
			continue
		}
		metas = append(metas, t.meta())
	}
	slices.SortFunc(metas, func(a, b TranscriptMeta) int {
		if c := b.SavedAt.Compare(a.SavedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.SessionID, a.SessionID)
	})
	return metas, nil
}

// Search returns transcripts whose title or any message contains query,
// ignoring case. An empty query lists everything.
func (s *TranscriptStore) Search(query string) ([]TranscriptMeta, error) {
	all, err := s.List()
	if err != nil || query == "" {
		return all, err
	}
	query = strings.ToLower(query)

	var results []TranscriptMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) {
			results = append(results, meta)
			continue
		}
		t, err := s.Load(meta.SessionID)
		if err != nil {
			continue
		}
		if slices.ContainsFunc(t.Messages, func(m api.Message) bool {
			return strings.Contains(strings.ToLower(m.Content), query)
		}) {
			results = append(results, meta)
		}
	}
	return results, nil
}

// Delete removes the transcript of sessionID.
func (s *TranscriptStore) Delete(sessionID int64) error {
	if err := os.Remove(s.filePath(sessionID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: session %d", ErrTranscriptNotFound, sessionID)
		}
		return err
	}
	return nil
}

// prune deletes the oldest saves beyond MaxTranscripts.
func (s *TranscriptStore) prune() error {
	metas, err := s.List()
	if err != nil {
		return err
	}
	for _, m := range metas[min(len(metas), s.MaxTranscripts):] {
		if err := s.Delete(m.SessionID); err != nil && !errors.Is(err, ErrTranscriptNotFound) {
			return err
		}
	}
	return nil
}

func (s *TranscriptStore) ids() ([]int64, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *TranscriptStore) filePath(sessionID int64) string {
	return filepath.Join(s.BaseDir, filePrefix+strconv.FormatInt(sessionID, 10)+fileSuffix)
}
