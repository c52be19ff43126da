package handler_test

import (
	"context"
	"time"

	"mailbrain.app/agent/internal/agent"
	"mailbrain.app/agent/internal/model"
	"mailbrain.app/agent/internal/store"
)

type mockScheduler struct {
	enqueueFn     func(ctx context.Context, kind model.JobKind, payload any) (*model.Job, error)
	statusFn      func(ctx context.Context, jobID int64) (*model.Job, error)
	runRecordedFn func(ctx context.Context, kind model.JobKind, payload any, fn func(ctx context.Context) (any, error)) (*model.Job, any, error)
}

func (m *mockScheduler) Enqueue(ctx context.Context, kind model.JobKind, payload any) (*model.Job, error) {
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, kind, payload)
	}
	return &model.Job{ID: 1, Kind: kind, Status: model.JobStatusQueued, CreatedAt: time.Now()}, nil
}

func (m *mockScheduler) Status(ctx context.Context, jobID int64) (*model.Job, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, jobID)
	}
	return nil, store.ErrNotFound
}

func (m *mockScheduler) RunRecorded(ctx context.Context, kind model.JobKind, payload any, fn func(ctx context.Context) (any, error)) (*model.Job, any, error) {
	if m.runRecordedFn != nil {
		return m.runRecordedFn(ctx, kind, payload, fn)
	}
	result, err := fn(ctx)
	job := &model.Job{ID: 1, Kind: kind, Status: model.JobStatusCompleted, CreatedAt: time.Now()}
	if err != nil {
		job.Status = model.JobStatusFailed
		return job, nil, err
	}
	return job, result, nil
}

type mockExecutor struct {
	executeFn func(ctx context.Context, email *model.Email, opts agent.ExecuteOptions) (*agent.ExecuteResult, error)
	batchFn   func(ctx context.Context, emails []model.Email, opts agent.ExecuteOptions, concurrency int) []agent.BatchItem
}

func (m *mockExecutor) Execute(ctx context.Context, email *model.Email, opts agent.ExecuteOptions) (*agent.ExecuteResult, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, email, opts)
	}
	return &agent.ExecuteResult{EmailID: email.ID, Status: agent.StatusEscalate}, nil
}

func (m *mockExecutor) ExecuteBatch(ctx context.Context, emails []model.Email, opts agent.ExecuteOptions, concurrency int) []agent.BatchItem {
	if m.batchFn != nil {
		return m.batchFn(ctx, emails, opts, concurrency)
	}
	items := make([]agent.BatchItem, len(emails))
	for i, e := range emails {
		items[i] = agent.BatchItem{EmailID: e.ID, Result: &agent.ExecuteResult{EmailID: e.ID, Status: agent.StatusEscalate}}
	}
	return items
}

type mockEvolver struct {
	runFn func(ctx context.Context, params agent.EvolveParams) (*agent.EvolveSummary, error)
}

func (m *mockEvolver) Run(ctx context.Context, params agent.EvolveParams) (*agent.EvolveSummary, error) {
	if m.runFn != nil {
		return m.runFn(ctx, params)
	}
	return &agent.EvolveSummary{}, nil
}

type mockEmailStore struct {
	created  []model.Email
	createFn func(ctx context.Context, email *model.Email) error
}

func (m *mockEmailStore) GetByID(ctx context.Context, id int64) (*model.Email, error) {
	return nil, store.ErrNotFound
}

func (m *mockEmailStore) Create(ctx context.Context, email *model.Email) error {
	if m.createFn != nil {
		return m.createFn(ctx, email)
	}
	m.created = append(m.created, *email)
	return nil
}

func (m *mockEmailStore) ListCustomerService(ctx context.Context, limit int) ([]model.Email, error) {
	return nil, nil
}

func (m *mockEmailStore) SetClassification(ctx context.Context, id int64, isCustomerService bool, category *string) error {
	return nil
}

func (m *mockEmailStore) MarkProcessed(ctx context.Context, id int64) error {
	return nil
}

type mockSkillStore struct {
	listFn       func(ctx context.Context, activeOnly bool) ([]model.Skill, error)
	getByIDFn    func(ctx context.Context, id int64) (*model.Skill, error)
	categoriesFn func(ctx context.Context) ([]string, error)
	statsFn      func(ctx context.Context) (*store.SkillLibraryStats, error)
	createFn     func(ctx context.Context, skill *model.Skill) error
}

func (m *mockSkillStore) GetByID(ctx context.Context, id int64) (*model.Skill, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockSkillStore) GetByNameEN(ctx context.Context, nameEN string) (*model.Skill, error) {
	return nil, store.ErrNotFound
}

func (m *mockSkillStore) List(ctx context.Context, activeOnly bool) ([]model.Skill, error) {
	if m.listFn != nil {
		return m.listFn(ctx, activeOnly)
	}
	return nil, nil
}

func (m *mockSkillStore) Create(ctx context.Context, skill *model.Skill) error {
	if m.createFn != nil {
		return m.createFn(ctx, skill)
	}
	return nil
}

func (m *mockSkillStore) UpdateVersioned(ctx context.Context, skill *model.Skill, expectedVersion int64) error {
	return nil
}

func (m *mockSkillStore) Categories(ctx context.Context) ([]string, error) {
	if m.categoriesFn != nil {
		return m.categoriesFn(ctx)
	}
	return nil, nil
}

func (m *mockSkillStore) Stats(ctx context.Context) (*store.SkillLibraryStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &store.SkillLibraryStats{}, nil
}

type mockReplyStore struct {
	statsFn func(ctx context.Context) (*store.ReplyStats, error)
}

func (m *mockReplyStore) GetByID(ctx context.Context, id int64) (*model.Reply, error) {
	return nil, store.ErrNotFound
}

func (m *mockReplyStore) Create(ctx context.Context, reply *model.Reply) error {
	return nil
}

func (m *mockReplyStore) SetHumanEdit(ctx context.Context, id int64, edited string) error {
	return nil
}

func (m *mockReplyStore) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	return nil
}

func (m *mockReplyStore) Stats(ctx context.Context) (*store.ReplyStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx)
	}
	return &store.ReplyStats{}, nil
}

type mockProvenanceStore struct {
	listBySkillFn func(ctx context.Context, skillID int64) ([]model.SkillSourceEmail, error)
}

func (m *mockProvenanceStore) Record(ctx context.Context, edge *model.SkillSourceEmail) (bool, error) {
	return true, nil
}

func (m *mockProvenanceStore) ListBySkill(ctx context.Context, skillID int64) ([]model.SkillSourceEmail, error) {
	if m.listBySkillFn != nil {
		return m.listBySkillFn(ctx, skillID)
	}
	return nil, nil
}

type mockChangeLogStore struct {
	listBySkillFn func(ctx context.Context, skillID int64) ([]model.SkillChangeLog, error)
}

func (m *mockChangeLogStore) Append(ctx context.Context, entry *model.SkillChangeLog) error {
	return nil
}

func (m *mockChangeLogStore) ListBySkill(ctx context.Context, skillID int64) ([]model.SkillChangeLog, error) {
	if m.listBySkillFn != nil {
		return m.listBySkillFn(ctx, skillID)
	}
	return nil, nil
}
