package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/storemirror/internal/errors"
	"github.com/storemirror/internal/models"
	"github.com/storemirror/internal/storage"
	"github.com/storemirror/internal/types"
	"github.com/storemirror/internal/worker"
)

// Mock repositories for testing

type mockStoreRepository struct {
	stores map[string]*models.Store
	order  []string
}

func (m *mockStoreRepository) GetByID(ctx context.Context, id string) (*models.Store, error) {
	return m.stores[id], nil
}

func (m *mockStoreRepository) ListEnabled(ctx context.Context) ([]*models.Store, error) {
	var out []*models.Store
	for _, id := range m.order {
		if store := m.stores[id]; store != nil && store.Enabled {
			out = append(out, store)
		}
	}
	return out, nil
}

func (m *mockStoreRepository) ListAll(ctx context.Context) ([]*models.Store, error) {
	var out []*models.Store
	for _, id := range m.order {
		if store := m.stores[id]; store != nil {
			out = append(out, store)
		}
	}
	return out, nil
}

type mockTaskRepository struct {
	tasks       map[string]*models.SyncTask
	createErr   error
	forceFailed []string
}

func newMockTaskRepository() *mockTaskRepository {
	return &mockTaskRepository{tasks: make(map[string]*models.SyncTask)}
}

// Create persists the task as handed over, like the real INSERT: no
// timestamp is filled in on the repository side.
func (m *mockTaskRepository) Create(ctx context.Context, task *models.SyncTask) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.tasks {
		if existing.StoreID == task.StoreID && !existing.Status.IsTerminal() {
			return storage.ErrLiveTaskExists
		}
	}
	m.tasks[task.ID] = task
	return nil
}

func (m *mockTaskRepository) GetByID(ctx context.Context, id string) (*models.SyncTask, error) {
	return m.tasks[id], nil
}

func (m *mockTaskRepository) GetLiveByStore(ctx context.Context, storeID string) (*models.SyncTask, error) {
	for _, task := range m.tasks {
		if task.StoreID == storeID && !task.Status.IsTerminal() {
			return task, nil
		}
	}
	return nil, nil
}

func (m *mockTaskRepository) GetLastTerminalFull(ctx context.Context, storeID string) (*models.SyncTask, error) {
	var latest *models.SyncTask
	for _, task := range m.tasks {
		if task.StoreID != storeID || task.Mode != types.ModeFull {
			continue
		}
		if task.Status != types.TaskCompleted && task.Status != types.TaskCompletedWithErrors {
			continue
		}
		if latest == nil || (task.CompletedAt != nil && latest.CompletedAt != nil && task.CompletedAt.After(*latest.CompletedAt)) {
			latest = task
		}
	}
	return latest, nil
}

func (m *mockTaskRepository) MarkRunning(ctx context.Context, id string) error {
	task := m.tasks[id]
	if task == nil || task.Status != types.TaskPending {
		return apperrors.NewConflictError("TASK_NOT_PENDING", "task is not pending")
	}
	task.Status = types.TaskRunning
	now := time.Now().UTC()
	task.StartedAt = &now
	return nil
}

func (m *mockTaskRepository) UpdateProgress(ctx context.Context, id string, progress models.TaskProgress) error {
	if task := m.tasks[id]; task != nil {
		task.Progress = progress
	}
	return nil
}

func (m *mockTaskRepository) Complete(ctx context.Context, id string, status types.TaskStatus, progress models.TaskProgress, result *string, taskErr *string) error {
	task := m.tasks[id]
	if task == nil {
		return apperrors.NewNotFoundError("sync task", id)
	}
	task.Status = status
	task.Progress = progress
	task.Result = result
	task.Error = taskErr
	now := time.Now().UTC()
	task.CompletedAt = &now
	return nil
}

func (m *mockTaskRepository) ForceFail(ctx context.Context, id string, reason string) error {
	task := m.tasks[id]
	if task == nil || task.Status.IsTerminal() {
		return nil
	}
	task.Status = types.TaskFailed
	task.Error = &reason
	now := time.Now().UTC()
	task.CompletedAt = &now
	m.forceFailed = append(m.forceFailed, id)
	return nil
}

// mockPuller records pulls and can be told to fail per kind.
type mockPuller struct {
	pulls    []string
	failKind types.EntityKind
	synced   int
}

func (m *mockPuller) Pull(ctx context.Context, store *models.Store, fetcher worker.PageFetcher, kind types.EntityKind, mode types.SyncMode) (*worker.PullResult, error) {
	m.pulls = append(m.pulls, store.ID+"/"+string(kind)+"/"+string(mode))
	if kind == m.failKind {
		return &worker.PullResult{Kind: kind}, errors.New("remote exploded")
	}
	return &worker.PullResult{Kind: kind, Synced: m.synced, Pages: 1}, nil
}

func noopFetcher(store *models.Store) worker.PageFetcher { return nil }

func testTaskService(stores *mockStoreRepository, tasks *mockTaskRepository, puller *mockPuller) *TaskService {
	return NewTaskService(tasks, stores, puller, noopFetcher, TaskServiceConfig{
		TaskLiveness:     30 * time.Minute,
		FullSyncCooldown: 10 * time.Minute,
	})
}

func enabledStore(id string) *models.Store {
	return &models.Store{ID: id, Name: id, Enabled: true, Type: types.StoreRetail, PackageUnits: 10}
}

func TestCreateTask_DefaultsToAllKinds(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	svc := testTaskService(stores, tasks, &mockPuller{})

	task, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	require.NoError(t, err)

	assert.Equal(t, types.TaskPending, task.Status)
	assert.False(t, task.CreatedAt.IsZero(), "creation must stamp CreatedAt; the repository stores it verbatim")
	assert.Equal(t, types.AllEntityKinds(), task.Kinds)
	require.NotNil(t, task.Progress.ForKind(types.KindOrders))
	assert.Equal(t, models.KindProgressPending, task.Progress.ForKind(types.KindOrders).Status)
}

func TestCreateTask_UnknownStore(t *testing.T) {
	svc := testTaskService(&mockStoreRepository{stores: map[string]*models.Store{}}, newMockTaskRepository(), &mockPuller{})

	_, err := svc.CreateTask(context.Background(), "nope", types.ModeIncremental, nil, false)
	require.Error(t, err)

	var catErr *apperrors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, apperrors.CategoryNotFound, catErr.Category)
}

func TestCreateTask_DisabledStore(t *testing.T) {
	store := enabledStore("s1")
	store.Enabled = false
	svc := testTaskService(&mockStoreRepository{stores: map[string]*models.Store{"s1": store}}, newMockTaskRepository(), &mockPuller{})

	_, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	assert.Error(t, err)
}

func TestCreateTask_LiveTaskConflicts(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	svc := testTaskService(stores, tasks, &mockPuller{})

	_, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	require.NoError(t, err)

	_, err = svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))

	// The seconds-old live task is inside the liveness window: it must not
	// be force-failed to make room.
	assert.Empty(t, tasks.forceFailed)
}

func TestCreateTask_AbandonedLiveTaskIsReplaced(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	svc := testTaskService(stores, tasks, &mockPuller{})

	stale, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	require.NoError(t, err)
	tasks.tasks[stale.ID].CreatedAt = time.Now().Add(-time.Hour)

	replacement, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	require.NoError(t, err)

	assert.Contains(t, tasks.forceFailed, stale.ID)
	assert.Equal(t, types.TaskFailed, tasks.tasks[stale.ID].Status)
	assert.Equal(t, types.TaskPending, replacement.Status)
}

func TestCreateTask_ForceSupersedesLiveTask(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	svc := testTaskService(stores, tasks, &mockPuller{})

	live, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	require.NoError(t, err)

	_, err = svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, true)
	require.NoError(t, err)
	assert.Contains(t, tasks.forceFailed, live.ID)
}

func TestCreateTask_FullSyncCooldown(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	svc := testTaskService(stores, tasks, &mockPuller{})

	done := time.Now().UTC().Add(-2 * time.Minute)
	tasks.tasks["old"] = &models.SyncTask{
		ID: "old", StoreID: "s1", Mode: types.ModeFull,
		Status: types.TaskCompleted, CompletedAt: &done,
	}

	_, err := svc.CreateTask(context.Background(), "s1", types.ModeFull, nil, false)
	require.Error(t, err)

	var catErr *apperrors.CategorizedError
	require.ErrorAs(t, err, &catErr)
	assert.Equal(t, "SYNC_COOLDOWN", catErr.Code)

	// force bypasses the cooldown
	_, err = svc.CreateTask(context.Background(), "s1", types.ModeFull, nil, true)
	assert.NoError(t, err)
}

func TestCreateTask_FailedFullSyncDoesNotStartCooldown(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	svc := testTaskService(stores, tasks, &mockPuller{})

	done := time.Now().UTC().Add(-2 * time.Minute)
	tasks.tasks["old"] = &models.SyncTask{
		ID: "old", StoreID: "s1", Mode: types.ModeFull,
		Status: types.TaskFailed, CompletedAt: &done,
	}

	// The cooldown guards against rerunning a successful full sync, so a
	// failed one must not block an immediate retry.
	_, err := svc.CreateTask(context.Background(), "s1", types.ModeFull, nil, false)
	assert.NoError(t, err)
}

func TestRun_AllKindsSucceed(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	puller := &mockPuller{synced: 5}
	svc := testTaskService(stores, tasks, puller)

	task, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	require.NoError(t, err)

	done, err := svc.Run(context.Background(), task.ID)
	require.NoError(t, err)

	assert.Equal(t, types.TaskCompleted, done.Status)
	assert.Equal(t, models.KindProgressCompleted, done.Progress.ForKind(types.KindOrders).Status)
	assert.Equal(t, 5, done.Progress.ForKind(types.KindOrders).Synced)
	require.NotNil(t, done.Result)
}

func TestRun_PartialFailureCompletesWithErrors(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	puller := &mockPuller{synced: 5, failKind: types.KindOrders}
	svc := testTaskService(stores, tasks, puller)

	task, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, nil, false)
	require.NoError(t, err)

	done, err := svc.Run(context.Background(), task.ID)
	require.NoError(t, err)

	assert.Equal(t, types.TaskCompletedWithErrors, done.Status)
	assert.Equal(t, models.KindProgressFailed, done.Progress.ForKind(types.KindOrders).Status)
	assert.Equal(t, models.KindProgressCompleted, done.Progress.ForKind(types.KindProducts).Status)
	require.NotNil(t, done.Error)
}

func TestRun_AllKindsFail(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	puller := &mockPuller{failKind: types.KindOrders}
	svc := testTaskService(stores, tasks, puller)

	task, err := svc.CreateTask(context.Background(), "s1", types.ModeIncremental, []types.EntityKind{types.KindOrders}, false)
	require.NoError(t, err)

	done, err := svc.Run(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, done.Status)
}

func TestRun_FullSyncTriggersFollowUpIncremental(t *testing.T) {
	stores := &mockStoreRepository{stores: map[string]*models.Store{"s1": enabledStore("s1")}, order: []string{"s1"}}
	tasks := newMockTaskRepository()
	puller := &mockPuller{synced: 1}
	svc := testTaskService(stores, tasks, puller)

	task, err := svc.CreateTask(context.Background(), "s1", types.ModeFull, []types.EntityKind{types.KindOrders}, false)
	require.NoError(t, err)

	_, err = svc.Run(context.Background(), task.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"s1/orders/full", "s1/orders/incremental"}, puller.pulls)
}
