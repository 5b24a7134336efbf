package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"taskReminder/internal/models/reminder"
	"taskReminder/internal/models/task"
	"taskReminder/internal/repository"
	"taskReminder/internal/repository/task/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// SQLiteTestSuite гоняет контракт хранилища на файле во временном каталоге
type SQLiteTestSuite struct {
	suite.Suite
	ctx     context.Context
	path    string
	storage *sqlite.Storage
}

func TestSQLiteTestSuite(t *testing.T) {
	suite.Run(t, new(SQLiteTestSuite))
}

func (s *SQLiteTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.path = filepath.Join(s.T().TempDir(), "tasks.db")

	var err error
	s.storage, err = sqlite.New(s.ctx, s.path)
	s.Require().NoError(err)
}

func (s *SQLiteTestSuite) TearDownTest() {
	s.storage.Close()
}

func (s *SQLiteTestSuite) insert(title string, priority task.Priority, due time.Time) task.Task {
	created, err := task.New(title, "описание", priority, due)
	s.Require().NoError(err)
	_, err = s.storage.Insert(s.ctx, &created)
	s.Require().NoError(err)
	return created
}

// TestInsert_Scenario тестирует вставку "Pay rent" и выдачу id=1
func (s *SQLiteTestSuite) TestInsert_Scenario() {
	due := time.Date(2024, time.December, 31, 10, 0, 0, 0, time.Local)
	rent := s.insert("Pay rent", task.PriorityHigh, due)
	s.Equal(int64(1), rent.ID)

	got, err := s.storage.GetByID(s.ctx, rent.ID)
	s.Require().NoError(err)
	s.True(rent.Equal(*got))
	s.Equal(time.Date(2024, time.December, 31, 23, 59, 59, 0, time.Local).UnixMilli(), got.DueAt.UnixMilli())
	s.False(got.Completed)
}

// TestInsert_Validation тестирует, что пустое название не доходит до базы
func (s *SQLiteTestSuite) TestInsert_Validation() {
	_, err := s.storage.Insert(s.ctx, &task.Task{Title: " ", Priority: task.PriorityLow, DueAt: time.Now()})
	var verr *task.ValidationError
	s.True(errors.As(err, &verr))
}

// TestIdsNeverReused тестирует AUTOINCREMENT после удаления последней строки
func (s *SQLiteTestSuite) TestIdsNeverReused() {
	first := s.insert("first", task.PriorityLow, time.Now())
	s.Require().NoError(s.storage.Delete(s.ctx, &first))

	second := s.insert("second", task.PriorityLow, time.Now())
	s.Greater(second.ID, first.ID)
}

// TestUpdate тестирует полную перезапись и NotFound
func (s *SQLiteTestSuite) TestUpdate() {
	original := s.insert("Original", task.PriorityLow, time.Now())

	edited := original.Apply(task.WithTitle("Edited"), task.WithCompleted(true), task.WithPriority(task.PriorityMedium))
	s.Require().NoError(s.storage.Update(s.ctx, &edited))

	got, err := s.storage.GetByID(s.ctx, original.ID)
	s.Require().NoError(err)
	s.True(edited.Equal(*got))

	missing := edited
	missing.ID = 4242
	s.ErrorIs(s.storage.Update(s.ctx, &missing), repository.ErrNotFound)
}

// TestDelete тестирует жёсткое удаление и каскад на напоминание
func (s *SQLiteTestSuite) TestDelete() {
	tk := s.insert("Delete", task.PriorityLow, time.Now())
	s.Require().NoError(s.storage.SaveReminder(s.ctx, reminder.Record{TaskID: tk.ID, FireAt: tk.DueAt, ArmedAt: time.Now()}))

	s.Require().NoError(s.storage.Delete(s.ctx, &tk))

	_, err := s.storage.GetByID(s.ctx, tk.ID)
	s.ErrorIs(err, repository.ErrNotFound)
	_, err = s.storage.GetReminder(s.ctx, tk.ID)
	s.ErrorIs(err, repository.ErrNotFound)
	s.ErrorIs(s.storage.Delete(s.ctx, &tk), repository.ErrNotFound)
}

// TestList_PriorityStability тестирует стабильность: A(2), B(2), C(3) -> C, A, B
func (s *SQLiteTestSuite) TestList_PriorityStability() {
	day := time.Now()
	s.insert("A", task.PriorityMedium, day.AddDate(0, 0, 3))
	s.insert("B", task.PriorityMedium, day)
	s.insert("C", task.PriorityHigh, day.AddDate(0, 0, 1))

	tasks, err := s.storage.List(s.ctx, repository.ViewByPriority.Query())
	s.Require().NoError(err)
	s.Equal([]string{"C", "A", "B"}, titlesOf(tasks))

	tasks, err = s.storage.List(s.ctx, repository.ViewAll.Query())
	s.Require().NoError(err)
	s.Equal([]string{"C", "B", "A"}, titlesOf(tasks))
}

// TestList_Filters тестирует pending/completed
func (s *SQLiteTestSuite) TestList_Filters() {
	day := time.Now()
	later := s.insert("later", task.PriorityLow, day.AddDate(0, 0, 2))
	s.insert("sooner", task.PriorityLow, day)

	done := later.Apply(task.WithCompleted(true))
	s.Require().NoError(s.storage.Update(s.ctx, &done))

	pending, err := s.storage.List(s.ctx, repository.ViewPending.Query())
	s.Require().NoError(err)
	s.Equal([]string{"sooner"}, titlesOf(pending))

	completed, err := s.storage.List(s.ctx, repository.ViewCompleted.Query())
	s.Require().NoError(err)
	s.Equal([]string{"later"}, titlesOf(completed))

	byDate, err := s.storage.List(s.ctx, repository.ViewByDate.Query())
	s.Require().NoError(err)
	s.Equal([]string{"sooner", "later"}, titlesOf(byDate))
}

// TestReminders тестирует журнал напоминаний и переоружение
func (s *SQLiteTestSuite) TestReminders() {
	tk := s.insert("Remind", task.PriorityLow, time.Now())

	s.ErrorIs(s.storage.SaveReminder(s.ctx, reminder.Record{TaskID: 999, FireAt: time.Now(), ArmedAt: time.Now()}), repository.ErrNotFound)
	s.ErrorIs(s.storage.MarkReminderFired(s.ctx, tk.ID, time.Now()), repository.ErrNotFound)

	s.Require().NoError(s.storage.SaveReminder(s.ctx, reminder.Record{TaskID: tk.ID, FireAt: tk.DueAt, ArmedAt: time.Now()}))
	s.Require().NoError(s.storage.MarkReminderFired(s.ctx, tk.ID, time.Now()))

	rec, err := s.storage.GetReminder(s.ctx, tk.ID)
	s.Require().NoError(err)
	s.True(rec.Fired(tk.DueAt))

	// повторное взведение сбрасывает отметку
	s.Require().NoError(s.storage.SaveReminder(s.ctx, reminder.Record{TaskID: tk.ID, FireAt: tk.DueAt, ArmedAt: time.Now()}))
	rec, err = s.storage.GetReminder(s.ctx, tk.ID)
	s.Require().NoError(err)
	s.Nil(rec.FiredAt)
}

// TestReopen тестирует, что данные переживают перезапуск процесса
func (s *SQLiteTestSuite) TestReopen() {
	tk := s.insert("Persisted", task.PriorityHigh, time.Now())
	s.Require().NoError(s.storage.SaveReminder(s.ctx, reminder.Record{TaskID: tk.ID, FireAt: tk.DueAt, ArmedAt: time.Now()}))
	s.storage.Close()

	reopened, err := sqlite.New(s.ctx, s.path)
	s.Require().NoError(err)
	s.storage = reopened

	got, err := reopened.GetByID(s.ctx, tk.ID)
	s.Require().NoError(err)
	s.True(tk.Equal(*got))

	rec, err := reopened.GetReminder(s.ctx, tk.ID)
	s.Require().NoError(err)
	s.True(rec.FireAt.Equal(tk.DueAt))
}

func (s *SQLiteTestSuite) TestHealthCheck() {
	s.NoError(s.storage.HealthCheck(s.ctx))
}

// TestClosedStoreIsUnavailable тестирует классификацию ошибок движка
func TestClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	storage, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "closed.db"))
	require.NoError(t, err)
	storage.Close()

	_, err = storage.List(ctx, repository.ViewAll.Query())
	assert.ErrorIs(t, err, repository.ErrUnavailable)
	assert.ErrorIs(t, storage.HealthCheck(ctx), repository.ErrUnavailable)
}

func titlesOf(tasks []task.Task) []string {
	res := make([]string, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, t.Title)
	}
	return res
}
