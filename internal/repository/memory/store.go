// Package memory keeps the whole data set in process. It enforces the same
// uniqueness rules as the Postgres schema and is used for local runs and as
// the storage double in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/gdugdh24/gowith-backend/internal/repository"
)

type matchKey struct {
	requestID int64
	userID    int64
}

type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	users    map[int64]domain.User
	profiles map[int64]domain.Profile
	events   map[int64]domain.Event
	requests map[int64]domain.BuddyRequest
	tags     map[int64][]string
	matches  map[matchKey]domain.Match
	nextID   int64

	tagWrites   int
	matchWrites int
}

func NewStore() *Store {
	return &Store{
		now:      time.Now,
		users:    make(map[int64]domain.User),
		profiles: make(map[int64]domain.Profile),
		events:   make(map[int64]domain.Event),
		requests: make(map[int64]domain.BuddyRequest),
		tags:     make(map[int64][]string),
		matches:  make(map[matchKey]domain.Match),
	}
}

func (s *Store) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) AddProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *Store) AddEvent(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

// AddRequest stores r, stamping CreatedAt when it is zero.
func (s *Store) AddRequest(r domain.BuddyRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
		r.UpdatedAt = r.CreatedAt
	}
	s.requests[r.ID] = r
}

// SetTags seeds tags directly, bypassing the write counter.
func (s *Store) SetTags(requestID int64, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[requestID] = append([]string(nil), tags...)
}

// Writes reports how many tag replaces and match inserts have been applied.
func (s *Store) Writes() (tags, matches int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tagWrites, s.matchWrites
}

func (s *Store) BuddyRequests() repository.BuddyRequestRepository { return (*requestRepo)(s) }
func (s *Store) Profiles() repository.ProfileRepository { return (*profileRepo)(s) }
func (s *Store) Events() repository.EventRepository { return (*eventRepo)(s) }
func (s *Store) Users() repository.UserRepository { return (*userRepo)(s) }
func (s *Store) Tags() repository.TagRepository { return (*tagRepo)(s) }
func (s *Store) Matches() repository.MatchRepository { return (*matchRepo)(s) }

type requestRepo Store

func (r *requestRepo) GetByID(ctx context.Context, id int64) (*domain.BuddyRequest, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, domain.ErrBuddyRequestNotFound
	}
	return &req, nil
}

func (r *requestRepo) SetTaskHandle(ctx context.Context, id int64, handle string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.ErrBuddyRequestNotFound
	}
	req.TaskHandle = &handle
	req.UpdatedAt = s.now()
	s.requests[id] = req
	return nil
}

func (r *requestRepo) ListCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.Candidate, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool := make([]domain.BuddyRequest, 0)
	for _, req := range s.requests {
		if req.ID == q.RequestID || req.EventID != q.EventID || req.UserID == q.ExcludeUserID {
			continue
		}
		if req.Visibility != domain.VisibilityPublic || req.Status != domain.RequestStatusOpen {
			continue
		}
		if _, matched := s.matches[matchKey{q.RequestID, req.UserID}]; matched {
			continue
		}
		pool = append(pool, req)
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].CreatedAt.Equal(pool[j].CreatedAt) {
			return pool[i].ID < pool[j].ID
		}
		return pool[i].CreatedAt.Before(pool[j].CreatedAt)
	})

	out := make([]domain.Candidate, 0, len(pool))
	for _, req := range pool {
		c := domain.Candidate{
			Request:  req,
			Username: s.users[req.UserID].Username,
			Tags:     append([]string(nil), s.tags[req.ID]...),
			Profile:  s.candidateProfile(req),
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) candidateProfile(req domain.BuddyRequest) *domain.Profile {
	if req.ProfileID != nil {
		if p, ok := s.profiles[*req.ProfileID]; ok {
			return &p
		}
	}
	if p, ok := s.primaryProfile(req.UserID); ok {
		return &p
	}
	return nil
}

func (s *Store) primaryProfile(userID int64) (domain.Profile, bool) {
	for _, p := range s.profiles {
		if p.UserID == userID && p.IsPrimary {
			return p, true
		}
	}
	return domain.Profile{}, false
}

func (r *requestRepo) ExpireOpenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, req := range s.requests {
		if req.Status == domain.RequestStatusOpen && req.CreatedAt.Before(cutoff) {
			req.Status = domain.RequestStatusExpired
			req.UpdatedAt = s.now()
			s.requests[id] = req
			n++
		}
	}
	return n, nil
}

type profileRepo Store

func (r *profileRepo) GetByID(ctx context.Context, id int64) (*domain.Profile, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

func (r *profileRepo) GetPrimaryByUserID(ctx context.Context, userID int64) (*domain.Profile, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.primaryProfile(userID)
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &p, nil
}

type eventRepo Store

func (r *eventRepo) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return &e, nil
}

type userRepo Store

func (r *userRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

type tagRepo Store

// Replace holds the write lock for the whole swap, so the new set is never
// observed merged with the old one.
func (r *tagRepo) Replace(ctx context.Context, requestID int64, tags []string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return domain.ErrBuddyRequestNotFound
	}
	seen := make(map[string]struct{}, len(tags))
	set := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		set = append(set, t)
	}
	s.tags[requestID] = set
	s.tagWrites++
	return nil
}

func (r *tagRepo) ListByRequest(ctx context.Context, requestID int64) ([]string, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string{}, s.tags[requestID]...)
	sort.Strings(out)
	return out, nil
}

type matchRepo Store

func (r *matchRepo) ExistsFor(ctx context.Context, requestID, userID int64) (bool, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.matches[matchKey{requestID, userID}]
	return ok, nil
}

func (r *matchRepo) CreateIfAbsent(ctx context.Context, match *domain.Match) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := matchKey{match.RequestID, match.MatchedUserID}
	if _, ok := s.matches[key]; ok {
		return false, nil
	}
	if match.Status == "" {
		match.Status = domain.MatchStatusPending
	}
	s.nextID++
	match.ID = s.nextID
	match.CreatedAt = s.now()
	match.UpdatedAt = match.CreatedAt
	s.matches[key] = *match
	s.matchWrites++
	return true, nil
}

func (r *matchRepo) ListByRequest(ctx context.Context, requestID int64) ([]*domain.Match, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Match, 0)
	for key, m := range s.matches {
		if key.requestID == requestID {
			m := m
			out = append(out, &m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
