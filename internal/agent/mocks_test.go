package agent_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"mailbrain.app/agent/common/llm"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/store"
)

// mockLLMClient implements llm.Client for testing. Safe for the concurrent
// fan-out in batch execution.
type mockLLMClient struct {
	mu        sync.Mutex
	chatFn    func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	callCount int
}

func (m *mockLLMClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.chatFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, result)
	}
	return nil, errors.New("mock not configured")
}

func (m *mockLLMClient) Model() string {
	return "test-model"
}

// memSkillStore is an in-memory SkillStore with real optimistic-version
// semantics, safe for concurrent use.
type memSkillStore struct {
	mu     sync.Mutex
	skills map[int64]*model.Skill
}

func newMemSkillStore() *memSkillStore {
	return &memSkillStore{skills: make(map[int64]*model.Skill)}
}

func cloneSkill(s *model.Skill) *model.Skill {
	c := *s
	c.TriggerKeywords = append([]string(nil), s.TriggerKeywords...)
	c.Rules = make([]model.Rule, len(s.Rules))
	for i, r := range s.Rules {
		c.Rules[i] = r
		c.Rules[i].TriggerKeywords = append([]string(nil), r.TriggerKeywords...)
		c.Rules[i].Conditions = append([]string(nil), r.Conditions...)
		c.Rules[i].ActionSteps = append([]string(nil), r.ActionSteps...)
	}
	return &c
}

func (m *memSkillStore) GetByID(_ context.Context, id int64) (*model.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSkill(s), nil
}

func (m *memSkillStore) GetByNameEN(_ context.Context, nameEN string) (*model.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.skills {
		if s.NameEN == nameEN {
			return cloneSkill(s), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memSkillStore) List(_ context.Context, activeOnly bool) ([]model.Skill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Skill
	for _, s := range m.skills {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, *cloneSkill(s))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (m *memSkillStore) Create(_ context.Context, skill *model.Skill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[skill.ID] = cloneSkill(skill)
	return nil
}

func (m *memSkillStore) UpdateVersioned(_ context.Context, skill *model.Skill, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.skills[skill.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	committed := cloneSkill(skill)
	committed.Version = expectedVersion + 1
	m.skills[skill.ID] = committed
	skill.Version = committed.Version
	return nil
}

func (m *memSkillStore) Categories(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	var out []string
	for _, s := range m.skills {
		if _, ok := seen[s.Category]; !ok {
			seen[s.Category] = struct{}{}
			out = append(out, s.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memSkillStore) Stats(_ context.Context) (*store.SkillLibraryStats, error) {
	return &store.SkillLibraryStats{}, nil
}

// memEmailStore is an in-memory EmailStore.
type memEmailStore struct {
	mu     sync.Mutex
	emails map[int64]*model.Email
}

func newMemEmailStore(emails ...model.Email) *memEmailStore {
	m := &memEmailStore{emails: make(map[int64]*model.Email)}
	for i := range emails {
		e := emails[i]
		m.emails[e.ID] = &e
	}
	return m
}

func (m *memEmailStore) GetByID(_ context.Context, id int64) (*model.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *memEmailStore) Create(_ context.Context, email *model.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *email
	m.emails[email.ID] = &c
	return nil
}

func (m *memEmailStore) ListCustomerService(_ context.Context, limit int) ([]model.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Email
	for _, e := range m.emails {
		if e.IsCustomerService {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEmailStore) SetClassification(_ context.Context, id int64, isCustomerService bool, category *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return store.ErrNotFound
	}
	e.IsCustomerService = isCustomerService
	e.Category = category
	return nil
}

func (m *memEmailStore) MarkProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return store.ErrNotFound
	}
	e.Processed = true
	return nil
}

// memReplyStore is an in-memory ReplyStore.
type memReplyStore struct {
	mu      sync.Mutex
	replies map[int64]*model.Reply
}

func newMemReplyStore(replies ...model.Reply) *memReplyStore {
	m := &memReplyStore{replies: make(map[int64]*model.Reply)}
	for i := range replies {
		r := replies[i]
		m.replies[r.ID] = &r
	}
	return m
}

func (m *memReplyStore) GetByID(_ context.Context, id int64) (*model.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replies[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (m *memReplyStore) Create(_ context.Context, reply *model.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *reply
	m.replies[reply.ID] = &c
	return nil
}

func (m *memReplyStore) SetHumanEdit(_ context.Context, id int64, edited string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replies[id]
	if !ok {
		return store.ErrNotFound
	}
	r.HumanEdited = &edited
	return nil
}

func (m *memReplyStore) MarkSent(_ context.Context, id int64, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replies[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != model.ReplyStatusPendingReview {
		return fmt.Errorf("reply %d is not pending review", id)
	}
	r.Status = model.ReplyStatusSent
	r.SentAt = &sentAt
	return nil
}

func (m *memReplyStore) Stats(_ context.Context) (*store.ReplyStats, error) {
	return &store.ReplyStats{}, nil
}

// memProvenanceStore dedupes edges by (skill, email, contribution type),
// mirroring the store's upsert.
type memProvenanceStore struct {
	mu    sync.Mutex
	edges map[string]model.SkillSourceEmail
}

func newMemProvenanceStore() *memProvenanceStore {
	return &memProvenanceStore{edges: make(map[string]model.SkillSourceEmail)}
}

func (m *memProvenanceStore) Record(_ context.Context, edge *model.SkillSourceEmail) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d/%d/%s", edge.SkillID, edge.EmailID, edge.ContributionType)
	if _, ok := m.edges[key]; ok {
		return false, nil
	}
	m.edges[key] = *edge
	return true, nil
}

func (m *memProvenanceStore) ListBySkill(_ context.Context, skillID int64) ([]model.SkillSourceEmail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SkillSourceEmail
	for _, e := range m.edges {
		if e.SkillID == skillID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memProvenanceStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges)
}

// memChangeLogStore is an in-memory append-only change log.
type memChangeLogStore struct {
	mu      sync.Mutex
	entries []model.SkillChangeLog
}

func newMemChangeLogStore() *memChangeLogStore {
	return &memChangeLogStore{}
}

func (m *memChangeLogStore) Append(_ context.Context, entry *model.SkillChangeLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memChangeLogStore) ListBySkill(_ context.Context, skillID int64) ([]model.SkillChangeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SkillChangeLog
	for _, e := range m.entries {
		if e.SkillID == skillID {
			out = append(out, e)
		}
	}
	return out, nil
}

func stringPtr(s string) *string {
	return &s
}
