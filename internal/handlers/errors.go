package handlers

import (
	"context"
	"errors"
	"net/http"

	"taskReminder/internal/logger"
	"taskReminder/internal/service"

	"go.uber.org/zap"
)

// handleBusinessError отвечает клиенту по коду бизнес-ошибки; прочие ошибки
// сначала приводятся через service.FromError
func handleBusinessError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("HTTP: Истекло время ожидания",
			zap.String("path", r.URL.Path),
			zap.String("client_ip", r.RemoteAddr))
		responseWithError(w, http.StatusGatewayTimeout, "операция не завершилась вовремя")
		return
	}

	var businessErr *service.BusinessError
	if !errors.As(err, &businessErr) {
		errors.As(service.FromError(err), &businessErr)
	}

	statusCode := mapBusinessErrorToHTTP(businessErr.Code)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("HTTP: Ошибка Service", err,
			zap.String("error_code", businessErr.Code),
			zap.Int("http_status", statusCode))
	} else {
		logger.Warn("HTTP: Бизнес-ошибка",
			zap.String("error_code", businessErr.Code),
			zap.Int("http_status", statusCode),
			zap.String("client_ip", r.RemoteAddr))
	}

	responseWithJSON(w, statusCode,
		toPayload("error", businessErr.Code),
		toPayload("message", businessErr.Message),
		toPayload("details", businessErr.Details),
	)
}

func mapBusinessErrorToHTTP(code string) int {
	switch code {
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeValidation:
		return http.StatusBadRequest
	case service.CodeStoreUnavailable, service.CodeQueueClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
