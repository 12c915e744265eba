package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aasha-care/aasha-relay/internal/model"
)

// MemoryStore is an in-process Store used for local runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID]model.QueuedMessage
	profiles map[uuid.UUID]model.ElderlyProfile
	logs     []model.DeliveryLogEntry
	calls    map[uuid.UUID]model.Call
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[uuid.UUID]model.QueuedMessage),
		profiles: make(map[uuid.UUID]model.ElderlyProfile),
		calls:    make(map[uuid.UUID]model.Call),
	}
}

// AddMessage enqueues m, assigning an id and defaults where missing.
func (s *MemoryStore) AddMessage(m model.QueuedMessage) model.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = model.Pending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ScheduledFor.IsZero() {
		m.ScheduledFor = m.CreatedAt
	}
	s.messages[m.ID] = m
	return m
}

func (s *MemoryStore) AddProfile(p model.ElderlyProfile) model.ElderlyProfile {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.profiles[p.ID] = p
	return p
}

func (s *MemoryStore) AddCall(c model.Call) model.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.calls[c.ID] = c
	return c
}

func (s *MemoryStore) Calls() []model.Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Call, 0, len(s.calls))
	for _, c := range s.calls {
		out = append(out, c)
	}
	return out
}

// Logs returns a copy of every log entry in insertion order.
func (s *MemoryStore) Logs() []model.DeliveryLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.DeliveryLogEntry(nil), s.logs...)
}

func (s *MemoryStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]model.QueuedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if limit > model.MaxBatchSize {
		limit = model.MaxBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []model.QueuedMessage
	for _, m := range s.messages {
		if m.Status != model.Pending || m.ScheduledFor.After(now) || m.RetryCount >= model.MaxRetries {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id uuid.UUID) (model.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return model.QueuedMessage{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, u model.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !u.Status.Valid() {
		return fmt.Errorf("invalid status %q", u.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.Status != model.Pending {
		return ErrStale
	}
	m.Status = u.Status
	m.RetryCount = u.RetryCount
	if u.DeliveryError != nil {
		m.DeliveryError = u.DeliveryError
	}
	if u.SentAt != nil {
		m.SentAt = u.SentAt
	}
	s.messages[id] = m
	return nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, id uuid.UUID) (model.ElderlyProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[id]
	if !ok {
		return model.ElderlyProfile{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) FindEnabledByChatID(ctx context.Context, chatID string) (model.ElderlyProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.profiles {
		if p.TelegramEnabled && p.TelegramChatID == chatID {
			return p, nil
		}
	}
	return model.ElderlyProfile{}, ErrNotFound
}

func (s *MemoryStore) InsertLog(ctx context.Context, e *model.DeliveryLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, *e)
	return nil
}

func (s *MemoryStore) LatestSent(ctx context.Context, profileID uuid.UUID, messageType, entityType string) (model.DeliveryLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best  model.DeliveryLogEntry
		found bool
	)
	for _, e := range s.logs {
		if e.ElderlyProfileID != profileID || e.Direction != model.DirectionSent || e.MessageType != messageType {
			continue
		}
		if e.RelatedEntityType == nil || *e.RelatedEntityType != entityType {
			continue
		}
		if !found || e.SentAt.After(best.SentAt) {
			best, found = e, true
		}
	}
	if !found {
		return model.DeliveryLogEntry{}, ErrNotFound
	}
	return best, nil
}

func (s *MemoryStore) ListSent(ctx context.Context, limit, offset int) ([]model.DeliveryLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sent []model.DeliveryLogEntry
	for _, e := range s.logs {
		if e.Direction == model.DirectionSent {
			sent = append(sent, e)
		}
	}
	sort.SliceStable(sent, func(i, j int) bool { return sent[i].SentAt.After(sent[j].SentAt) })

	if offset >= len(sent) {
		return nil, nil
	}
	sent = sent[offset:]
	if len(sent) > limit {
		sent = sent[:limit]
	}
	return sent, nil
}

func (s *MemoryStore) ListOrphaned(ctx context.Context) ([]model.Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Call
	for _, c := range s.calls {
		if c.ElderlyProfileID == nil {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteCall(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calls[id]; !ok {
		return ErrNotFound
	}
	delete(s.calls, id)
	return nil
}
