// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/coca/internal/api"
)

// =============================================================================
// HELPERS
// =============================================================================

func newTestStore(t *testing.T, max int) *TranscriptStore {
	t.Helper()
	store, err := NewTranscriptStore(t.TempDir(), max)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func transcript(id int64, title string, contents ...string) *Transcript {
	msgs := make([]api.Message, len(contents))
	for i, c := range contents {
		role := api.RoleUser
		if i%2 == 1 {
			role = api.RoleAssistant
		}
		msgs[i] = api.Message{ID: int64(i + 1), Role: role, Content: c}
	}
	return NewTranscript(api.Session{SessionID: id, Title: title}, msgs)
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestTranscriptStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t, 0)

	if err := store.Save(transcript(7, "Greetings", "Hello", "You said: Hello")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.BaseDir, "session-7.json")); err != nil {
		t.Fatalf("transcript file missing: %v", err)
	}

	loaded, err := store.Load(7)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Title != "Greetings" {
		t.Errorf("Title = %q, want Greetings", loaded.Title)
	}
	if len(loaded.Messages) != 2 || loaded.Messages[1].Role != api.RoleAssistant {
		t.Errorf("Messages = %+v", loaded.Messages)
	}
	if loaded.SavedAt.IsZero() {
		t.Error("SavedAt should be set")
	}
}

func TestTranscriptStore_SaveReplaces(t *testing.T) {
	store := newTestStore(t, 0)
	store.Save(transcript(1, "first", "a"))
	store.Save(transcript(1, "second", "a", "b", "c"))

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(metas) != 1 {
		t.Fatalf("List returned %d transcripts, want 1", len(metas))
	}
	if metas[0].Title != "second" || metas[0].MessageCount != 3 {
		t.Errorf("meta = %+v", metas[0])
	}
}

func TestTranscriptStore_SaveRejectsInvalidID(t *testing.T) {
	store := newTestStore(t, 0)
	if err := store.Save(transcript(0, "x")); err == nil {
		t.Error("expected error for session id 0")
	}
}

func TestTranscriptStore_NotFound(t *testing.T) {
	store := newTestStore(t, 0)

	if _, err := store.Load(42); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("Load err = %v, want ErrTranscriptNotFound", err)
	}
	if err := store.Delete(42); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("Delete err = %v, want ErrTranscriptNotFound", err)
	}
}

func TestTranscriptStore_ListNewestFirst(t *testing.T) {
	store := newTestStore(t, 0)
	for _, id := range []int64{3, 1, 2} {
		if err := store.Save(transcript(id, "t", "hi")); err != nil {
			t.Fatalf("Save %d: %v", id, err)
		}
	}
	// Unrelated and corrupt files are ignored.
	os.WriteFile(filepath.Join(store.BaseDir, "notes.txt"), []byte("x"), 0600)
	os.WriteFile(filepath.Join(store.BaseDir, "session-9.json"), []byte("{broken"), 0600)

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var got []int64
	for _, m := range metas {
		got = append(got, m.SessionID)
	}
	if len(got) != 3 || got[0] != 2 || got[1] != 1 || got[2] != 3 {
		t.Errorf("order = %v, want [2 1 3]", got)
	}
}

func TestTranscriptStore_Delete(t *testing.T) {
	store := newTestStore(t, 0)
	store.Save(transcript(5, "t", "hi"))

	if err := store.Delete(5); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(5); !errors.Is(err, ErrTranscriptNotFound) {
		t.Errorf("Load after delete err = %v", err)
	}
}

func TestTranscriptStore_Prune(t *testing.T) {
	store := newTestStore(t, 2)
	for id := int64(1); id <= 4; id++ {
		if err := store.Save(transcript(id, "t", "hi")); err != nil {
			t.Fatalf("Save %d: %v", id, err)
		}
	}

	metas, _ := store.List()
	if len(metas) != 2 {
		t.Fatalf("kept %d transcripts, want 2", len(metas))
	}
	if metas[0].SessionID != 4 || metas[1].SessionID != 3 {
		t.Errorf("kept %+v, want sessions 4 and 3", metas)
	}
}

func TestTranscriptStore_Search(t *testing.T) {
	store := newTestStore(t, 0)
	store.Save(transcript(1, "Go generics", "how do type params work"))
	store.Save(transcript(2, "Dinner", "recipe for RISOTTO please"))
	store.Save(transcript(3, "Misc", "nothing here"))

	tests := []struct {
		query string
		want  []int64
	}{
		{"generics", []int64{1}},
		{"risotto", []int64{2}},
		{"TYPE PARAMS", []int64{1}},
		{"absent", nil},
		{"", []int64{3, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			res, err := store.Search(tt.query)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if len(res) != len(tt.want) {
				t.Fatalf("Search(%q) returned %d results, want %d", tt.query, len(res), len(tt.want))
			}
			for i, id := range tt.want {
				if res[i].SessionID != id {
					t.Errorf("result %d = %d, want %d", i, res[i].SessionID, id)
				}
			}
		})
	}
}

func TestTranscript_Preview(t *testing.T) {
	tr := transcript(1, "t", strings.Repeat("word ", 40))
	p := tr.Preview()
	if !strings.HasSuffix(p, "...") {
		t.Errorf("long preview should be truncated, got %q", p)
	}

	empty := NewTranscript(api.Session{SessionID: 2}, nil)
	if empty.Preview() != "" {
		t.Errorf("Preview of empty transcript = %q", empty.Preview())
	}
}

func TestTranscriptStore_UnicodeContent(t *testing.T) {
	store := newTestStore(t, 0)
	store.Save(transcript(1, "日本語", "こんにちは 🌍", "Привет"))

	loaded, err := store.Load(1)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Messages[0].Content != "こんにちは 🌍" || loaded.Title != "日本語" {
		t.Errorf("unicode round trip failed: %+v", loaded)
	}
}

// =============================================================================
// EXPORT TESTS
// =============================================================================

func TestExportMarkdown(t *testing.T) {
	tr := transcript(3, "Greetings", "Hello", "You said: Hello")
	tr.SavedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	md := ExportMarkdown(tr)
	for _, want := range []string{"# Greetings", "Session: 3", "**User**:\n\nHello", "**Assistant**:\n\nYou said: Hello"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}

	untitled := ExportMarkdown(NewTranscript(api.Session{SessionID: 9}, nil))
	if !strings.HasPrefix(untitled, "# Session 9") {
		t.Errorf("untitled heading = %q", strings.SplitN(untitled, "\n", 2)[0])
	}
}

func TestExportJSON(t *testing.T) {
	data, err := ExportJSON(transcript(3, "Greetings", "Hello"))
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}
	var back Transcript
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if back.SessionID != 3 || len(back.Messages) != 1 {
		t.Errorf("decoded %+v", back)
	}
}

func TestFormatList(t *testing.T) {
	if got := FormatList(nil); got != "No saved transcripts." {
		t.Errorf("empty list = %q", got)
	}
	out := FormatList([]TranscriptMeta{{SessionID: 12, Title: "Go generics", MessageCount: 4}})
	if !strings.Contains(out, "12") || !strings.Contains(out, "Go generics") {
		t.Errorf("FormatList output:\n%s", out)
	}
}
