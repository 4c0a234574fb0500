// Package orchestrator принимает решения workflow и выполняет их.
//
// Orchestrator отвечает за:
//   - приём решений из очереди workflows.decisions (или напрямую через Submit)
//   - распределённую блокировку решения, чтобы его выполнял один процесс
//   - вызов Executor и отметку обработанной бизнес-даты
//   - публикацию workflow.completed
//   - повторную запись агрегатов из executions.unpersisted
package orchestrator
