// Package preference обучается на решениях пользователя по checkpoint'ам
// и сопоставляет новые checkpoint'ы с выученными паттернами.
//
// Паттерн — проекция контекста решения на узкий фиксированный словарь
// полей; совпадение требует точного равенства каждого поля. Узость
// словаря намеренная: несвязанные контексты не должны совпадать
// случайно.
//
// Уверенность растёт по формуле min(0.99, 1 − 0.1^usage): одно
// наблюдение даёт 0.9, и уверенность никогда не достигает 1.0 —
// канал наблюдения и переопределения остаётся открытым навсегда.
package preference
