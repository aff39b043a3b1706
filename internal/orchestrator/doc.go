// Package orchestrator — событийный цикл движка задач.
//
// Оркестратор потребляет события из RabbitMQ (новые tasks от planner'а,
// результаты шагов от агентов, решения по checkpoint'ам) и продвигает
// задачи через конечный автомат: валидирует план, диспетчеризует
// готовые шаги, удерживает рискованные шаги на checkpoint'ах и
// финализирует задачи.
//
// Состояния в памяти нет: вся картина читается из store при каждом
// событии, поэтому инстансов оркестратора может быть несколько, а
// потерянные сообщения подстраховывает polling-цикл по PLANNING-tasks.
package orchestrator
