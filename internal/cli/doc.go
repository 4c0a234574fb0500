// Package cli реализует инструмент командной строки Harvest.
//
// CLI работает только через HTTP API оркестратора и не импортирует
// внутренние пакеты. Типы ответов продублированы в client.go.
//
// # Client
//
// HTTP-клиент: конверты {"data": ...}, {"data": [...], "total": N}
// и {"error": {"code", "message"}}. Ошибка API возвращается как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	execs, err := client.ListExecutions("daily", cli.ListExecutionsOpts{Limit: 10})
//
// # Output
//
// Таблицы через text/tabwriter по умолчанию, JSON с флагом --json.
// Данные пишутся в stdout, сообщения в stderr:
//
//	harvest execution list daily --json | jq .
//
// # Commands
//
//   - decision: submit
//   - execution: list, show
//   - breaker: list, reset
//   - lock: release
//
// Фабрики команд принимают clientFn и outputFn, которые вызываются
// после разбора PersistentFlags.
package cli
