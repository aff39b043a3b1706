// Package cli реализует инструмент командной строки Praxis.
//
// # Обзор
//
// CLI — операторская утилита для инспекции и управления задачами.
// Работает in-process со store (прямое подключение к Postgres), а
// решения по checkpoint'ам публикует в RabbitMQ: единственным writer'ом
// жизненного цикла task остаётся движок.
//
// # Ключевые компоненты
//
// ## Client
//
// Обёртка над store, Machine и Graph. Инкапсулирует операции CLI:
// отправку задач, cancel/retry, решения по checkpoint'ам.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (с флагом --json)
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: praxis task list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - task: submit, list, show, cancel, retry
//   - checkpoint: list, show, approve, reject
//   - preference: list
//
// Каждая группа создаётся через фабричную функцию (NewTaskCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
