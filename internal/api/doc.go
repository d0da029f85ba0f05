// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (репозитории, publisher, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - request_handler.go  — обработчики для /requests
//   - proposal_handler.go — обработчики для /proposals
//   - schedule_handler.go — обработчики для /schedules
//
// Tenant передаётся в заголовке X-Tenant-ID; списки фильтруются
// по нему. Submit идемпотентен по idempotency_key.
package api
