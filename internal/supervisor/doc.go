// Package supervisor реализует tier-2 уровень иерархии — управляющего
// одного department.
//
// Supervisor потребляет задачи из очереди своего department, забирает
// их через CAS на статусе (дубликаты доставки — no-op), вызывает
// capability с таймаутом и ведёт retry с exponential backoff до
// потолка попыток. Терминальный статус сначала персистится в БД,
// затем публикуется task.result, и только после этого сообщение
// подтверждается — at-least-once без потери результатов.
//
// Классификация ошибок (пакет faults) определяет исход попытки:
// временные ошибки повторяются, постоянные сразу проваливают задачу,
// отмена request'а отбрасывает результат попытки.
package supervisor
