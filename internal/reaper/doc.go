// Package reaper реализует фоновую уборку подсистемы checkpoint'ов.
//
// Reaper периодически находит PENDING checkpoint'ы с истекшим
// timeout_at, переводит их в TIMEOUT и проваливает удержанный шаг
// вместе с task. Timeout — это не одобрение: молчание пользователя
// трактуется как отказ.
//
// Отдельно, по cron-расписанию, reaper чистит давно не используемые
// preferences — выученное поведение не должно жить вечно.
//
// Структура:
//   - reaper.go — основная логика (Tick, PrunePreferences)
//   - cron.go   — вычисление времени следующего prune по cron-выражению
//
// Использование:
//
//	r := reaper.New(reaper.Config{
//	    Machine:     machine,
//	    Graph:       graph,
//	    Checkpoints: checkpoints,
//	    Preferences: matcher,
//	    Logger:      logger,
//	})
//
//	// Вызывается каждый тик (обычно раз в 30 секунд)
//	if err := r.Tick(ctx); err != nil {
//	    logger.Error("reaper tick failed", "error", err)
//	}
//
// Leader Election:
//
// Reaper не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером.
package reaper
