package executor

import "errors"

// Ошибки executor'а.
var (
	// ErrPersistFailed — агрегат не удалось сохранить (после retry).
	// Агрегат отправлен на повторную запись, если настроен UnpersistedSink.
	ErrPersistFailed = errors.New("persist workflow execution failed")

	// ErrDedupLookup — не удалось прочитать прошлые выполнения решения.
	ErrDedupLookup = errors.New("lookup previous executions failed")
)

// Ошибки шаблонов параметров.
var (
	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")

	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")
)
