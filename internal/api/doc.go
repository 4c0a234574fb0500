// Package api — HTTP API процесса harvest-orchestrator.
//
//   - handler.go             — Handler и его зависимости
//   - routes.go              — регистрация маршрутов
//   - middleware.go          — logging, recovery
//   - response.go            — JSON-конверты и отображение ошибок в статусы
//   - dto.go                 — request/response
//   - decision_handler.go    — приём решений
//   - execution_handler.go   — история выполнений
//   - reliability_handler.go — breakers, блокировки, healthz
package api
