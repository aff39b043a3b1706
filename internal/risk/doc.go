// Package risk классифицирует шаги перед отправкой worker'ам.
//
// Detector прогоняет шаг через декларативный список независимых
// правил (предикат + severity). Итоговая severity — максимум по
// находкам; checkpoint требуется при high или critical.
//
// Allowlist хостов, порог стоимости и переключатель сканирования
// чувствительных данных — runtime-конфигурация, не константы:
// их можно менять на живой системе без пересборки.
package risk
