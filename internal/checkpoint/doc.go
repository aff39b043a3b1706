// Package checkpoint управляет точками ожидания решения человека.
//
// Checkpoint — запрос решения, привязанный к шагу задачи: одобрение
// рискованного действия, ввод данных, выбор варианта. На пару
// (task, step) одновременно существует не больше одного pending
// checkpoint'а; повторный запрос возвращает существующий.
//
// Разрешение — compare-and-swap по версии записи: два конкурирующих
// решения по одному checkpoint'у не могут пройти оба, проигравший
// получает ErrCheckpointConflict.
package checkpoint
