// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/coca/internal/api"
	"github.com/jeranaias/coca/internal/util"
)

// DefaultSessionTitle names a session until its first message.
const DefaultSessionTitle = "New Chat"

const maxTitleWidth = 50

var (
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrSessionNotFound    = errors.New("session not found")
)

type user struct {
	id    int64
	email string
	hash  []byte
}

type session struct {
	id       int64
	uid      int64
	title    string
	created  time.Time
	updated  time.Time
	messages []api.Message
}

// Store is the in-memory state of the development backend.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*user
	sessions map[int64]*session
	nextUser int64
	nextSess int64
	nextMsg  int64
	cost     int
	now      func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*user),
		sessions: make(map[int64]*session),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
}

// CreateUser registers an account.
func (s *Store) CreateUser(email, password string) (int64, error) {
	email = normalizeEmail(email)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; ok {
		return 0, ErrDuplicateEmail
	}
	s.nextUser++
	s.users[email] = &user{id: s.nextUser, email: email, hash: hash}
	return s.nextUser, nil
}

// Authenticate checks a password and returns the user id.
func (s *Store) Authenticate(email, password string) (int64, error) {
	s.mu.RLock()
	u, ok := s.users[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return 0, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(u.hash, []byte(password)) != nil {
		return 0, ErrInvalidCredentials
	}
	return u.id, nil
}

// CreateSession starts a conversation for uid.
func (s *Store) CreateSession(uid int64) api.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSess++
	now := s.now()
	sess := &session{id: s.nextSess, uid: uid, title: DefaultSessionTitle, created: now, updated: now}
	s.sessions[sess.id] = sess
	return sess.view()
}

// ListSessions returns uid's sessions, most recently updated first.
func (s *Store) ListSessions(uid int64) []api.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owned []*session
	for _, sess := range s.sessions {
		if sess.uid == uid {
			owned = append(owned, sess)
		}
	}
	slices.SortFunc(owned, func(a, b *session) int {
		if c := b.updated.Compare(a.updated); c != 0 {
			return c
		}
		return cmp.Compare(b.id, a.id)
	})
	out := make([]api.Session, len(owned))
	for i, sess := range owned {
		out[i] = sess.view()
	}
	return out
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(uid, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(uid, id); err != nil {
		return err
	}
	delete(s.sessions, id)
	return nil
}

// Messages returns a copy of a session's history, oldest first.
func (s *Store) Messages(uid, id int64) ([]api.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, err := s.owned(uid, id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(sess.messages), nil
}

// AppendMessage stores a message and bumps the session's update time. The
// first user message becomes the session title.
func (s *Store) AppendMessage(uid, id int64, role api.Role, content string) (api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.owned(uid, id)
	if err != nil {
		return api.Message{}, err
	}
	s.nextMsg++
	now := s.now()
	msg := api.Message{ID: s.nextMsg, Role: role, Content: content, CreatedAt: api.Timestamp{Time: now}}
	sess.messages = append(sess.messages, msg)
	sess.updated = now
	if role == api.RoleUser && sess.title == DefaultSessionTitle && countRole(sess.messages, api.RoleUser) == 1 {
		if title := util.TruncateWidth(util.OneLine(content), maxTitleWidth); title != "" {
			sess.title = title
		}
	}
	return msg, nil
}

func (s *Store) owned(uid, id int64) (*session, error) {
	sess, ok := s.sessions[id]
	if !ok || sess.uid != uid {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (sess *session) view() api.Session {
	return api.Session{SessionID: sess.id, Title: sess.title, UpdatedAt: api.Timestamp{Time: sess.updated}}
}

func countRole(msgs []api.Message, role api.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
