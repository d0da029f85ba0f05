// Package cli реализует инструмент командной строки Hivemind.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с Hivemind API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
// CLI используется для управления requests, proposals и schedules.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Hivemind API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок. Tenant передаётся в заголовке X-Tenant-ID.
//
//	client := cli.NewClient("http://localhost:8080", tenantID)
//	requests, err := client.ListRequests(cli.ListRequestsOpts{})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: hivemind request list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - request: list, submit, show, cancel, tasks, proposals
//   - proposal: list, show, approve, reject
//   - schedule: list, create, show, update, delete, enable, disable
//
// Каждая группа создаётся через фабричную функцию (NewRequestCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
