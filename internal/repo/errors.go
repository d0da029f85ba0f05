package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — условный переход статуса не прошёл: запись
	// не в ожидаемом состоянии (CAS проиграл или статус уже другой).
	ErrInvalidState = errors.New("invalid state")

	// ErrTerminal — запись уже в терминальном статусе, write-back
	// отброшен (поздний результат отменённого request и т.п.).
	ErrTerminal = errors.New("already terminal")
)
