package handlers

import (
	"time"

	"taskReminder/internal/middleware"

	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	RateLimit      int // мутаций в минуту на весь сервер, 0 выключает
}

func NewRouter(h *TaskHandler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	if cfg.RateLimit > 0 {
		r.Use(middleware.RateLimit(cfg.RateLimit))
	}

	timeout := func(r chi.Router) {
		if cfg.RequestTimeout > 0 {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
		}
	}

	r.Route("/tasks", func(r chi.Router) {
		// поток живёт, пока клиент не отключится, поэтому без таймаута
		r.Get("/stream", h.StreamTasks) // GET /tasks/stream?view=

		r.Group(func(r chi.Router) {
			timeout(r)

			r.Get("/", h.GetTasks)  // GET /tasks?view=
			r.Post("/", h.PostTask) // POST /tasks

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTaskByID)       // GET /tasks/{id}
				r.Put("/", h.UpdateTaskByID)    // PUT /tasks/{id}
				r.Patch("/", h.PatchTaskByID)   // PATCH /tasks/{id}
				r.Delete("/", h.DeleteTaskByID) // DELETE /tasks/{id}
			})
		})
	})

	r.Group(func(r chi.Router) {
		timeout(r)

		r.Route("/preferences", func(r chi.Router) {
			r.Get("/locale", h.GetLocale) // GET /preferences/locale
			r.Put("/locale", h.SetLocale) // PUT /preferences/locale
		})

		r.Get("/health", h.HealthCheck)
	})

	return r
}
