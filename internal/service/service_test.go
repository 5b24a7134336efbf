package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	rmodel "taskReminder/internal/models/reminder"
	"taskReminder/internal/models/task"
	"taskReminder/internal/notify"
	"taskReminder/internal/reminder"
	"taskReminder/internal/repository"
	"taskReminder/internal/repository/live"
	"taskReminder/internal/repository/task/inmemory"
	"taskReminder/internal/service"
	"taskReminder/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = time.Second

// MockReminders - мок планировщика
type MockReminders struct {
	mock.Mock
}

func (m *MockReminders) Sync(ctx context.Context, t task.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockReminders) Disarm(ctx context.Context, taskID int64) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}

func (m *MockReminders) Restore(ctx context.Context, tasks []task.Task) (int, error) {
	args := m.Called(ctx, tasks)
	return args.Int(0), args.Error(1)
}

var _ service.Reminders = (*MockReminders)(nil)

// MockStore - мок хранилища для путей с ошибками движка
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Insert(ctx context.Context, t *task.Task) (int64, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, t *task.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, t *task.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockStore) GetByID(ctx context.Context, id int64) (*task.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Task), args.Error(1)
}

func (m *MockStore) List(ctx context.Context, q repository.Query) ([]task.Task, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]task.Task), args.Error(1)
}

func (m *MockStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Watch(ctx context.Context, view repository.View) (*live.Subscription, error) {
	args := m.Called(ctx, view)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*live.Subscription), args.Error(1)
}

var _ service.Store = (*MockStore)(nil)

type fixture struct {
	svc       *service.TaskService
	store     *live.Store
	queue     *worker.MutationQueue
	reminders *MockReminders
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := live.New(inmemory.NewTaskStorage())
	queue := worker.NewMutationQueue(16)
	go queue.Start(context.Background())

	reminders := &MockReminders{}
	reminders.On("Sync", mock.Anything, mock.Anything).Return(nil).Maybe()
	reminders.On("Disarm", mock.Anything, mock.Anything).Return(nil).Maybe()

	t.Cleanup(func() {
		queue.Shutdown()
		store.Close()
	})
	return &fixture{
		svc:       service.NewTaskService(store, queue, reminders),
		store:     store,
		queue:     queue,
		reminders: reminders,
	}
}

// await(t)(svc.Insert(...)) ждёт успешный результат мутации
func await(t *testing.T) func(<-chan service.Result, error) task.Task {
	return func(res <-chan service.Result, err error) task.Task {
		t.Helper()
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		got, err := service.Wait(ctx, res)
		require.NoError(t, err)
		return got
	}
}

func next(t *testing.T, sub *live.Subscription) []task.Task {
	t.Helper()
	select {
	case snap, ok := <-sub.Updates():
		require.True(t, ok)
		return snap
	case <-time.After(waitFor):
		t.Fatalf("нет снимка для вида %s", sub.View())
		return nil
	}
}

func ids(tasks []task.Task) []int64 {
	res := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, t.ID)
	}
	return res
}

func newTask(t *testing.T, title string, priority task.Priority, due time.Time) task.Task {
	t.Helper()
	tk, err := task.New(title, "", priority, due)
	require.NoError(t, err)
	return tk
}

// TestTaskService_PayRentScenario тестирует сценарий целиком через сервис
func TestTaskService_PayRentScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending, err := f.svc.Pending(ctx)
	require.NoError(t, err)
	defer pending.Close()
	completed, err := f.svc.Completed(ctx)
	require.NoError(t, err)
	defer completed.Close()
	assert.Empty(t, next(t, pending))
	assert.Empty(t, next(t, completed))

	rent := newTask(t, "Pay rent", task.PriorityHigh, time.Date(2024, time.December, 31, 0, 0, 0, 0, time.Local))
	res, err := f.svc.Insert(ctx, rent)
	created := await(t)(res, err)

	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, time.Date(2024, time.December, 31, 23, 59, 59, 0, time.Local), created.DueAt)
	assert.Equal(t, []int64{1}, ids(next(t, pending)))

	res, err = f.svc.Update(ctx, created.Apply(task.WithCompleted(true)))
	await(t)(res, err)

	assert.Equal(t, []int64{1}, ids(next(t, completed)))
	assert.Empty(t, next(t, pending))

	f.reminders.AssertCalled(t, "Sync", mock.Anything, created)
	f.reminders.AssertCalled(t, "Sync", mock.Anything, mock.MatchedBy(func(tk task.Task) bool {
		return tk.ID == 1 && tk.Completed
	}))
}

// TestTaskService_Insert_Validation тестирует синхронный отказ без постановки в очередь
func TestTaskService_Insert_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		task  task.Task
		field string
	}{
		{"empty title", task.Task{Title: "   ", Priority: task.PriorityLow, DueAt: time.Now()}, "title"},
		{"bad priority", task.Task{Title: "x", Priority: 7, DueAt: time.Now()}, "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Insert(ctx, tt.task)
			assert.Nil(t, res)

			var busErr *service.BusinessError
			require.True(t, errors.As(err, &busErr))
			assert.Equal(t, service.CodeValidation, busErr.Code)
			assert.Equal(t, tt.field, busErr.Details["field"])

			var verr *task.ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}

	tasks, err := f.svc.Snapshot(ctx, repository.ViewAll)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	f.reminders.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

// TestTaskService_InsertVisibleInEveryView тестирует свежий id в каждом виде
func TestTaskService_InsertVisibleInEveryView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := await(t)(f.svc.Insert(ctx, newTask(t, "first", task.PriorityLow, time.Now())))
	second := await(t)(f.svc.Insert(ctx, newTask(t, "second", task.PriorityMedium, time.Now())))
	assert.Greater(t, second.ID, first.ID)

	for _, v := range []repository.View{repository.ViewAll, repository.ViewByDate, repository.ViewByPriority, repository.ViewPending} {
		tasks, err := f.svc.Snapshot(ctx, v)
		require.NoError(t, err)

		matches := 0
		for _, tk := range tasks {
			if tk.Equal(second) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, v.String())
	}
}

// TestTaskService_Update тестирует правку только приоритета и полную перезапись
func TestTaskService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original := await(t)(f.svc.Insert(ctx, task.Task{
		Title: "Original", Description: "keep me", Priority: task.PriorityLow, DueAt: task.EndOfDay(time.Now()),
	}))

	t.Run("priority only via Edit", func(t *testing.T) {
		edited := await(t)(f.svc.Edit(ctx, original.ID, task.WithPriority(task.PriorityHigh)))
		assert.Equal(t, task.PriorityHigh, edited.Priority)
		assert.Equal(t, "keep me", edited.Description)

		got, err := f.svc.Get(ctx, original.ID)
		require.NoError(t, err)
		assert.True(t, edited.Equal(got))
	})

	t.Run("full record overwrites omitted fields", func(t *testing.T) {
		full := task.Task{ID: original.ID, Title: "Rewritten", Priority: task.PriorityMedium, DueAt: task.EndOfDay(time.Now().AddDate(0, 0, 1))}
		await(t)(f.svc.Update(ctx, full))

		got, err := f.svc.Get(ctx, original.ID)
		require.NoError(t, err)
		assert.Equal(t, "", got.Description)
		assert.True(t, full.Equal(got))
	})

	t.Run("edit rejects empty title synchronously", func(t *testing.T) {
		_, err := f.svc.Edit(ctx, original.ID, task.WithTitle(""))
		var busErr *service.BusinessError
		require.True(t, errors.As(err, &busErr))
		assert.Equal(t, service.CodeValidation, busErr.Code)
	})

	t.Run("not found", func(t *testing.T) {
		res, err := f.svc.Update(ctx, task.Task{ID: 404, Title: "ghost", Priority: task.PriorityLow, DueAt: time.Now()})
		require.NoError(t, err)
		_, err = service.Wait(ctx, res)
		assert.ErrorIs(t, err, repository.ErrNotFound)

		var busErr *service.BusinessError
		require.True(t, errors.As(err, &busErr))
		assert.Equal(t, service.CodeNotFound, busErr.Code)

		_, err = f.svc.Edit(ctx, 404, task.WithCompleted(true))
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

// TestTaskService_Delete тестирует удаление из всех пяти видов и снятие напоминания
func TestTaskService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doomed := await(t)(f.svc.Insert(ctx, newTask(t, "doomed", task.PriorityHigh, time.Now())))
	other := await(t)(f.svc.Insert(ctx, newTask(t, "other", task.PriorityLow, time.Now())))
	done := await(t)(f.svc.Edit(ctx, other.ID, task.WithCompleted(true)))

	subs := make([]*live.Subscription, 0, len(repository.Views))
	for _, v := range repository.Views {
		sub, err := f.svc.Watch(ctx, v)
		require.NoError(t, err)
		defer sub.Close()
		next(t, sub)
		subs = append(subs, sub)
	}

	await(t)(f.svc.Delete(ctx, doomed))
	f.reminders.AssertCalled(t, "Disarm", mock.Anything, doomed.ID)

	for _, sub := range subs {
		require.Eventually(t, func() bool {
			for _, id := range ids(sub.Latest()) {
				if id == doomed.ID {
					return false
				}
			}
			return true
		}, waitFor, 5*time.Millisecond, sub.View().String())
	}
	assert.Contains(t, ids(subs[len(subs)-1].Latest()), done.ID)

	// повторное удаление: NOT_FOUND, напоминание всё равно снимается
	res, err := f.svc.Delete(ctx, doomed)
	require.NoError(t, err)
	_, err = service.Wait(ctx, res)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	f.reminders.AssertNumberOfCalls(t, "Disarm", 2)
}

// TestTaskService_ReminderFailureKeepsTask тестирует, что сбой планировщика не откатывает мутацию
func TestTaskService_ReminderFailureKeepsTask(t *testing.T) {
	store := live.New(inmemory.NewTaskStorage())
	defer store.Close()
	queue := worker.NewMutationQueue(4)
	go queue.Start(context.Background())
	defer queue.Shutdown()

	reminders := &MockReminders{}
	reminders.On("Sync", mock.Anything, mock.Anything).Return(errors.New("служба уведомлений недоступна"))
	svc := service.NewTaskService(store, queue, reminders)

	ctx := context.Background()
	created := await(t)(svc.Insert(ctx, newTask(t, "kept", task.PriorityLow, time.Now())))

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Title)
	reminders.AssertExpectations(t)
}

// TestTaskService_StoreUnavailable тестирует классификацию отказа движка
func TestTaskService_StoreUnavailable(t *testing.T) {
	queue := worker.NewMutationQueue(4)
	go queue.Start(context.Background())
	defer queue.Shutdown()

	engineErr := repository.Unavailable("добавление задачи", errors.New("disk I/O error"))
	store := &MockStore{}
	store.On("Insert", mock.Anything, mock.Anything).Return(int64(0), engineErr)
	store.On("HealthCheck", mock.Anything).Return(engineErr)
	store.On("List", mock.Anything, mock.Anything).Return(nil, engineErr)

	reminders := &MockReminders{}
	svc := service.NewTaskService(store, queue, reminders)
	ctx := context.Background()

	res, err := svc.Insert(ctx, newTask(t, "x", task.PriorityLow, time.Now()))
	require.NoError(t, err)
	_, err = service.Wait(ctx, res)

	var busErr *service.BusinessError
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, service.CodeStoreUnavailable, busErr.Code)
	assert.ErrorIs(t, err, repository.ErrUnavailable)

	assert.ErrorIs(t, svc.HealthCheck(ctx), repository.ErrUnavailable)
	_, err = svc.Snapshot(ctx, repository.ViewAll)
	assert.ErrorIs(t, err, repository.ErrUnavailable)

	reminders.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

// TestTaskService_QueueClosed тестирует отказ после остановки очереди
func TestTaskService_QueueClosed(t *testing.T) {
	f := newFixture(t)
	f.queue.Shutdown()

	_, err := f.svc.Insert(context.Background(), newTask(t, "late", task.PriorityLow, time.Now()))
	var busErr *service.BusinessError
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, service.CodeQueueClosed, busErr.Code)
	assert.ErrorIs(t, err, worker.ErrQueueClosed)
}

// TestTaskService_DueDateNormalized тестирует приведение срока из другой зоны к концу местного дня
func TestTaskService_DueDateNormalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := time.Date(2024, time.December, 31, 10, 0, 0, 0, time.UTC)
	localDay := due.In(time.Local)
	want := time.Date(localDay.Year(), localDay.Month(), localDay.Day(), 23, 59, 59, 0, time.Local)

	created := await(t)(f.svc.Insert(ctx, task.Task{Title: "Pay rent", Priority: task.PriorityHigh, DueAt: due}))
	assert.Equal(t, want, created.DueAt)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, want.Equal(got.DueAt))

	moved := due.AddDate(0, 0, 1)
	updated := await(t)(f.svc.Update(ctx, task.Task{ID: created.ID, Title: "Pay rent", Priority: task.PriorityHigh, DueAt: moved}))
	assert.Equal(t, want.AddDate(0, 0, 1), updated.DueAt)
	assert.Equal(t, time.Local, updated.DueAt.Location())
}

// TestTaskService_PanicInMutation тестирует, что паника в мутации даёт INTERNAL_ERROR, а не зависание
func TestTaskService_PanicInMutation(t *testing.T) {
	queue := worker.NewMutationQueue(4)
	go queue.Start(context.Background())
	defer queue.Shutdown()

	store := &MockStore{}
	store.On("Insert", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("сломанный драйвер") }).
		Return(int64(0), nil)
	svc := service.NewTaskService(store, queue, &MockReminders{})

	res, err := svc.Insert(context.Background(), newTask(t, "boom", task.PriorityLow, time.Now()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = service.Wait(ctx, res)

	var busErr *service.BusinessError
	require.True(t, errors.As(err, &busErr))
	assert.Equal(t, service.CodeInternal, busErr.Code)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)

	// очередь пережила панику и принимает следующую мутацию
	healthy := &MockStore{}
	healthy.On("Insert", mock.Anything, mock.Anything).Return(int64(7), nil)
	reminders := &MockReminders{}
	reminders.On("Sync", mock.Anything, mock.Anything).Return(nil)
	svc = service.NewTaskService(healthy, queue, reminders)
	created := await(t)(svc.Insert(context.Background(), newTask(t, "next", task.PriorityLow, time.Now())))
	assert.Equal(t, "next", created.Title)
}

// TestTaskService_MutationsSerialized тестирует порядок мутаций, поставленных подряд
func TestTaskService_MutationsSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var results []<-chan service.Result
	for _, title := range []string{"A", "B", "C"} {
		res, err := f.svc.Insert(ctx, newTask(t, title, task.PriorityMedium, time.Now()))
		require.NoError(t, err)
		results = append(results, res)
	}

	var got []int64
	for _, res := range results {
		created, err := service.Wait(ctx, res)
		require.NoError(t, err)
		got = append(got, created.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, got)
}

// TestSelector_SwapsSubscription тестирует, что у точки выбора одна активная подписка
func TestSelector_SwapsSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	selector := service.NewSelector(f.svc)

	first, err := selector.Select(ctx, repository.ViewPending)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Active())

	second, err := selector.Select(ctx, repository.ViewByPriority)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.Active())
	assert.Same(t, second, selector.Current())

	_, ok := <-first.Updates()
	assert.False(t, ok, "старая подписка должна быть закрыта")

	selector.Close()
	assert.Equal(t, 0, f.store.Active())
	assert.Nil(t, selector.Current())
}

// TestTaskService_RemindersEndToEnd тестирует перевзведение на настоящем планировщике
func TestTaskService_RemindersEndToEnd(t *testing.T) {
	ctx := context.Background()
	backing := inmemory.NewTaskStorage()
	store := live.New(backing)
	defer store.Close()
	queue := worker.NewMutationQueue(4)
	go queue.Start(ctx)
	defer queue.Shutdown()

	notifier := notify.New(nil)
	defer notifier.Close()
	scheduler := reminder.NewScheduler(notifier, store, nil)
	notifier.SetDeliver(func(h rmodel.Handle, p rmodel.Payload) { scheduler.Deliver(ctx, h, p) })

	svc := service.NewTaskService(store, queue, scheduler)

	created := await(t)(svc.Insert(ctx, newTask(t, "future", task.PriorityLow, time.Now().AddDate(0, 0, 3))))
	assert.Equal(t, rmodel.StateArmed, scheduler.State(created.ID))

	moved := await(t)(svc.Edit(ctx, created.ID, task.WithDueDate(time.Now().AddDate(0, 0, 5))))
	fireAt, ok := scheduler.FireAt(created.ID)
	require.True(t, ok)
	assert.True(t, fireAt.Equal(moved.DueAt))
	assert.Equal(t, 1, notifier.Pending())

	await(t)(svc.Edit(ctx, created.ID, task.WithCompleted(true)))
	assert.Equal(t, rmodel.StateUnarmed, scheduler.State(created.ID))
	assert.Equal(t, 0, notifier.Pending())

	reopened := await(t)(svc.Edit(ctx, created.ID, task.WithCompleted(false)))
	assert.Equal(t, rmodel.StateArmed, scheduler.State(reopened.ID))

	// перезапуск: новый планировщик поднимает напоминание из журнала
	restartNotifier := notify.New(nil)
	defer restartNotifier.Close()
	restarted := service.NewTaskService(store, queue, reminder.NewScheduler(restartNotifier, store, nil))
	restored, err := restarted.RestoreReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, 1, restartNotifier.Pending())

	await(t)(svc.Delete(ctx, reopened))
	assert.Equal(t, rmodel.StateUnarmed, scheduler.State(created.ID))
	_, err = backing.GetReminder(ctx, created.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
