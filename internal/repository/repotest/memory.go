// Package repotest provides in-memory stores for tests of code built on the
// repository package.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/healthmetrix/recontact-service/internal/domain"
	"github.com/healthmetrix/recontact-service/internal/repository"
)

// Store holds requests and messages in memory. Transactions are serialized
// and roll back every change made through the stores when fn fails.
type Store struct {
	// FailOn, when set, is consulted before every store operation. A non-nil
	// return value is returned by the operation.
	FailOn func(op string) error

	txMu     sync.Mutex
	mu       sync.Mutex
	requests map[string]domain.Request
	messages map[uuid.UUID]domain.Message
}

var (
	_ repository.Transactor        = (*Store)(nil)
	_ repository.RequestRepository = requestStore{}
	_ repository.MessageRepository = messageStore{}
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		requests: make(map[string]domain.Request),
		messages: make(map[uuid.UUID]domain.Message),
	}
}

// Stores returns stores operating outside any transaction.
func (s *Store) Stores() repository.Stores {
	return repository.Stores{Requests: requestStore{s}, Messages: messageStore{s}}
}

// Requests returns the request store.
func (s *Store) Requests() repository.RequestRepository { return requestStore{s} }

// Messages returns the message store.
func (s *Store) Messages() repository.MessageRepository { return messageStore{s} }

// InTx implements repository.Transactor.
func (s *Store) InTx(ctx context.Context, fn func(repository.Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	requests := make(map[string]domain.Request, len(s.requests))
	for k, v := range s.requests {
		v.Cohort.Citizens = append([]string(nil), v.Cohort.Citizens...)
		requests[k] = v
	}
	messages := make(map[uuid.UUID]domain.Message, len(s.messages))
	for k, v := range s.messages {
		messages[k] = v
	}
	s.mu.Unlock()

	if err := fn(s.Stores()); err != nil {
		s.mu.Lock()
		s.requests, s.messages = requests, messages
		s.mu.Unlock()
		return err
	}
	return nil
}

// AllMessages returns every stored message ordered by creation time.
func (s *Store) AllMessages() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filterMessages(func(domain.Message) bool { return true })
}

func (s *Store) fail(op string) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op)
}

// filterMessages must be called with mu held.
func (s *Store) filterMessages(keep func(domain.Message) bool) []*domain.Message {
	out := make([]*domain.Message, 0)
	for _, m := range s.messages {
		if keep(m) {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

type requestStore struct{ s *Store }

func (r requestStore) Create(_ context.Context, req *domain.Request) error {
	if err := r.s.fail("requests.Create"); err != nil {
		return err
	}
	if req == nil || req.ID == "" {
		return domain.NewValidationError("id", "request ID is required")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.requests[req.ID]; ok {
		return domain.NewDuplicateError("request", req.ID)
	}
	stored := *req
	stored.Cohort.Citizens = domain.CitizenSet(req.Cohort.Citizens)
	r.s.requests[req.ID] = stored
	return nil
}

func (r requestStore) Upsert(_ context.Context, req *domain.Request) error {
	if err := r.s.fail("requests.Upsert"); err != nil {
		return err
	}
	if req == nil || req.ID == "" {
		return domain.NewValidationError("id", "request ID is required")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *req
	if existing, ok := r.s.requests[req.ID]; ok {
		stored.Cohort.Citizens = domain.CitizenSet(append(existing.Cohort.Citizens, req.Cohort.Citizens...))
	} else {
		stored.Cohort.Citizens = domain.CitizenSet(req.Cohort.Citizens)
	}
	r.s.requests[req.ID] = stored
	return nil
}

func (r requestStore) FindByID(_ context.Context, id string) (*domain.Request, error) {
	if err := r.s.fail("requests.FindByID"); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	req, ok := r.s.requests[id]
	if !ok {
		return nil, domain.NewNotFoundError("request", id)
	}
	req.Cohort.Citizens = append([]string{}, req.Cohort.Citizens...)
	return &req, nil
}

func (r requestStore) FindByIDForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	return r.FindByID(ctx, id)
}

func (r requestStore) FindRecent(_ context.Context, limit int) ([]*domain.Request, error) {
	if err := r.s.fail("requests.FindRecent"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, domain.NewValidationError("limit", "limit must be positive")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*domain.Request, 0, len(r.s.requests))
	for _, req := range r.s.requests {
		req := req
		req.Cohort.Citizens = append([]string{}, req.Cohort.Citizens...)
		out = append(out, &req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type messageStore struct{ s *Store }

func (m messageStore) Upsert(_ context.Context, msg *domain.Message) error {
	if err := m.s.fail("messages.Upsert"); err != nil {
		return err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	for id, existing := range m.s.messages {
		if id != msg.ID && existing.LinkedRequest == msg.LinkedRequest && existing.RecipientID == msg.RecipientID {
			return domain.NewDuplicateError("message", msg.LinkedRequest+"/"+msg.RecipientID)
		}
	}
	m.s.messages[msg.ID] = *msg
	return nil
}

func (m messageStore) UpsertMany(_ context.Context, msgs []*domain.Message) (int, error) {
	if err := m.s.fail("messages.UpsertMany"); err != nil {
		return 0, err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	inserted := 0
	for _, msg := range msgs {
		taken := false
		for _, existing := range m.s.messages {
			if existing.LinkedRequest == msg.LinkedRequest && existing.RecipientID == msg.RecipientID {
				taken = true
				break
			}
		}
		if taken {
			continue
		}
		m.s.messages[msg.ID] = *msg
		inserted++
	}
	return inserted, nil
}

func (m messageStore) Delete(_ context.Context, id uuid.UUID) error {
	if err := m.s.fail("messages.Delete"); err != nil {
		return err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.messages, id)
	return nil
}

func (m messageStore) FindByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	if err := m.s.fail("messages.FindByID"); err != nil {
		return nil, err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	msg, ok := m.s.messages[id]
	if !ok {
		return nil, domain.NewNotFoundError("message", id.String())
	}
	return &msg, nil
}

func (m messageStore) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return m.FindByID(ctx, id)
}

func (m messageStore) FindByRequestAndCitizen(_ context.Context, requestID, citizenID string) (*domain.Message, error) {
	if err := m.s.fail("messages.FindByRequestAndCitizen"); err != nil {
		return nil, err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	found := m.s.filterMessages(func(msg domain.Message) bool {
		return msg.LinkedRequest == requestID && msg.RecipientID == citizenID
	})
	if len(found) == 0 {
		return nil, domain.NewNotFoundError("message", requestID+"/"+citizenID)
	}
	return found[0], nil
}

func (m messageStore) FindAllByCitizenAndState(_ context.Context, citizenID string, state *domain.MessageState) ([]*domain.Message, error) {
	if err := m.s.fail("messages.FindAllByCitizenAndState"); err != nil {
		return nil, err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	return m.s.filterMessages(func(msg domain.Message) bool {
		return msg.RecipientID == citizenID && (state == nil || msg.State == *state)
	}), nil
}

func (m messageStore) FindAllByRequest(_ context.Context, requestID string) ([]*domain.Message, error) {
	if err := m.s.fail("messages.FindAllByRequest"); err != nil {
		return nil, err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	return m.s.filterMessages(func(msg domain.Message) bool {
		return msg.LinkedRequest == requestID
	}), nil
}

func (m messageStore) FindAllUpdatedAfter(_ context.Context, since time.Time) ([]*domain.Message, error) {
	if err := m.s.fail("messages.FindAllUpdatedAfter"); err != nil {
		return nil, err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	return m.s.filterMessages(func(msg domain.Message) bool {
		return msg.UpdatedAt != nil && msg.UpdatedAt.After(since)
	}), nil
}
