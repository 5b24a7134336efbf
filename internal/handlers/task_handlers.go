package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"taskReminder/internal/handlers/dto"
	"taskReminder/internal/logger"
	"taskReminder/internal/models/task"
	"taskReminder/internal/repository"
	"taskReminder/internal/service"

	"go.uber.org/zap"
)

// пустой комментарий в потоке, чтобы прокси не рвали простаивающее соединение
const streamKeepAlive = 15 * time.Second

type TaskHandler struct {
	TaskService Service
	Preferences Preferences
}

func NewTaskHandler(taskService Service, prefs Preferences) *TaskHandler {
	return &TaskHandler{
		TaskService: taskService,
		Preferences: prefs,
	}
}

func (h *TaskHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.TaskService.HealthCheck(r.Context()); err != nil {
		logger.Error("HTTP: Проверка здоровья не пройдена", err)
		responseWithJSON(w, http.StatusServiceUnavailable,
			toPayload("status", "unavailable"),
			toPayload("service", "task-reminder"),
			toPayload("error", err.Error()),
		)
		return
	}
	responseWithJSON(w, http.StatusOK,
		toPayload("status", "ok"),
		toPayload("service", "task-reminder"),
		toPayload("time", time.Now().Format(time.RFC3339)),
	)
}

func (h *TaskHandler) PostTask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	var request dto.CreateTaskRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	newTask, err := task.New(request.Title, request.Description, task.Priority(request.Priority), request.DueDate.Time)
	if err != nil {
		logger.Warn("HTTP: Ошибка валидации",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP: Вызов сервиса создания задачи")
	created, err := awaitResult(r.Context())(h.TaskService.Insert(r.Context(), newTask))
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: Задача создана",
		zap.Int64("task_id", created.ID),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusCreated))

	writeJSON(w, http.StatusCreated, dto.FromTask(created))
}

// GetTasks отдаёт текущий снимок вида из ?view= (по умолчанию all)
func (h *TaskHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	view, err := repository.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		logger.Warn("HTTP: Неверное значение параметра",
			zap.String("query", "view"),
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))
		handleBusinessError(w, r, err)
		return
	}

	tasks, err := h.TaskService.Snapshot(r.Context(), view)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: Задачи получены",
		zap.Stringer("view", view),
		zap.Int("count", len(tasks)),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	writeJSON(w, http.StatusOK, dto.FromTaskList(tasks))
}

// StreamTasks держит живой вид открытым как Server-Sent Events: первое
// событие — текущий снимок, дальше по одному на каждое изменение вида.
func (h *TaskHandler) StreamTasks(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	view, err := repository.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	selector := service.NewSelector(h.TaskService)
	defer selector.Close()

	sub, err := selector.Select(r.Context(), view)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// поток живёт дольше любого WriteTimeout сервера
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	events := 0
	for {
		select {
		case <-r.Context().Done():
			logger.Info("HTTP_OUT: Клиент отключился от потока",
				zap.Stringer("view", view),
				zap.Int("events", events),
				zap.Duration("ms", time.Since(start)))
			return

		case snapshot, ok := <-sub.Updates():
			if !ok {
				logger.Info("HTTP_OUT: Поток закрыт хранилищем", zap.Stringer("view", view))
				return
			}
			if err := writeEvent(w, view, snapshot); err != nil {
				logger.Warn("HTTP: Не удалось отправить событие", zap.Error(err), zap.String("client_ip", r.RemoteAddr))
				return
			}
			if err := rc.Flush(); err != nil {
				logger.Warn("HTTP: Поток не поддерживается", zap.Error(err))
				return
			}
			events++

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

type streamEvent struct {
	View  string             `json:"view"`
	Tasks []dto.TaskResponse `json:"tasks"`
}

func writeEvent(w http.ResponseWriter, view repository.View, snapshot []task.Task) error {
	data, err := json.Marshal(streamEvent{View: view.String(), Tasks: dto.FromTaskList(snapshot)})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}

func (h *TaskHandler) GetTaskByID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	id, err := taskID(r)
	if err != nil {
		logger.Warn("HTTP: Неверный идентификатор",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))
		handleBusinessError(w, r, err)
		return
	}

	found, err := h.TaskService.Get(r.Context(), id)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: Задача получена",
		zap.Int64("task_id", id),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	writeJSON(w, http.StatusOK, dto.FromTask(found))
}

// UpdateTaskByID — PUT: запись перезаписывается целиком
func (h *TaskHandler) UpdateTaskByID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	id, err := taskID(r)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	var request dto.UpdateTaskRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	replacement := task.Task{ID: id}.Apply(
		task.WithTitle(request.Title),
		task.WithDescription(request.Description),
		task.WithPriority(task.Priority(request.Priority)),
		task.WithDueDate(request.DueDate.Time),
		task.WithCompleted(request.Completed),
	)

	logger.Info("HTTP: Вызов сервиса обновления задачи", zap.Int64("task_id", id))
	updated, err := awaitResult(r.Context())(h.TaskService.Update(r.Context(), replacement))
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: Задача обновлена",
		zap.Int64("task_id", id),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	writeJSON(w, http.StatusOK, dto.FromTask(updated))
}

// PatchTaskByID — PATCH: переданные поля накладываются на текущую запись
func (h *TaskHandler) PatchTaskByID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	id, err := taskID(r)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	var request dto.PatchTaskRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	opts := request.Options()
	if len(opts) == 0 {
		logger.Warn("HTTP: Пустое обновление",
			zap.Int64("task_id", id),
			zap.String("client_ip", r.RemoteAddr))
		responseWithError(w, http.StatusBadRequest, "нет полей для обновления")
		return
	}

	edited, err := awaitResult(r.Context())(h.TaskService.Edit(r.Context(), id, opts...))
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: Задача изменена",
		zap.Int64("task_id", id),
		zap.Int("fields", len(opts)),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	writeJSON(w, http.StatusOK, dto.FromTask(edited))
}

func (h *TaskHandler) DeleteTaskByID(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	id, err := taskID(r)
	if err != nil {
		handleBusinessError(w, r, err)
		return
	}

	if _, err := awaitResult(r.Context())(h.TaskService.Delete(r.Context(), task.Task{ID: id})); err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: Задача удалена",
		zap.Int64("task_id", id),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusNoContent))

	w.WriteHeader(http.StatusNoContent)
}

func (h *TaskHandler) GetLocale(w http.ResponseWriter, r *http.Request) {
	logger.HttpRequestInfo(r, "HTTP_IN:")
	writeJSON(w, http.StatusOK, dto.LocaleResponse{Locale: h.Preferences.Locale()})
}

func (h *TaskHandler) SetLocale(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger.HttpRequestInfo(r, "HTTP_IN:")

	var request dto.LocaleRequest
	if !decodeJSON(w, r, &request) {
		return
	}

	if err := h.Preferences.SetLocale(request.Locale); err != nil {
		handleBusinessError(w, r, err)
		return
	}

	logger.Info("HTTP_OUT: Локаль сохранена",
		zap.String("locale", h.Preferences.Locale()),
		zap.Duration("ms", time.Since(start)),
		zap.Int("http_status", http.StatusOK))

	writeJSON(w, http.StatusOK, dto.LocaleResponse{Locale: h.Preferences.Locale()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !checkContentType(r, "application/json") {
		logger.Warn("HTTP: Неверный тип контента",
			zap.String("expected", "application/json"),
			zap.String("received", r.Header.Get("Content-Type")),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusUnsupportedMediaType, "Content-Type должен быть application/json")
		return false
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Warn("HTTP: ошибка чтения JSON",
			zap.Error(err),
			zap.String("client_ip", r.RemoteAddr))

		responseWithError(w, http.StatusBadRequest, "неверное тело запроса: "+err.Error())
		return false
	}
	return true
}

// awaitResult дожидается мутации из очереди; вызывается как
// awaitResult(ctx)(svc.Insert(ctx, t))
func awaitResult(ctx context.Context) func(<-chan service.Result, error) (task.Task, error) {
	return func(res <-chan service.Result, err error) (task.Task, error) {
		if err != nil {
			return task.Task{}, err
		}
		return service.Wait(ctx, res)
	}
}
