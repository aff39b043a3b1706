// Package engine содержит ядро исполнения task.
//
// Включает:
//   - statemachine.go — конечный автомат статусов task
//   - graph.go        — граф зависимостей шагов и вычисление ready-set
//   - plan.go         — валидация плана от planner'а (дубликаты, циклы)
//   - errors.go       — типизированные ошибки ядра
//
// Пакет не знает про Postgres, RabbitMQ и кэш: всё I/O идёт через
// узкие интерфейсы TaskStore и StepStore, которые реализует
// internal/store. Чистые функции (CanTransition, AllowedTransitions,
// ValidatePlan) не делают I/O вообще.
package engine
