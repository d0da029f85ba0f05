// Package orchestrator управляет обработкой requests (tier 1).
//
// Orchestrator отвечает за:
//   - Получение новых requests из очереди RabbitMQ
//   - Построение плана декомпозиции по departments
//   - Write-ahead checkpoint: план и диспетчеризации персистятся
//     до публикации задач
//   - Диспетчеризацию задач по мере завершения зависимостей
//   - Детерминированное слияние результатов (порядок назначения)
//   - All-or-nothing отказ и кооперативную отмену
//   - Создание proposals и выполнение одобренных действий
//
// Каждым request владеет ровно один экземпляр: захват через CAS
// с lease, осиротевшие requests (lease истёк) перехватываются
// и продолжаются с последней фазы checkpoint.
package orchestrator
