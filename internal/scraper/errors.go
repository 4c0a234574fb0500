package scraper

import "errors"

// Ошибки клиента scrapers.
var (
	// ErrInvalidRequest — запрос нельзя отправить (нет имени, не сериализуются параметры).
	ErrInvalidRequest = errors.New("invalid scraper request")

	// ErrInvalidResponse — 2xx-ответ не удалось разобрать.
	ErrInvalidResponse = errors.New("invalid scraper response")
)
