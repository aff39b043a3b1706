package reaper

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений (стандартные 5 полей).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DefaultPruneSpec — prune preferences раз в сутки, ночью.
const DefaultPruneSpec = "0 3 * * *"

// NextPruneAfter вычисляет следующее время prune по cron-выражению.
func NextPruneAfter(spec string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return schedule.Next(from).UTC(), nil
}

// ValidatePruneSpec проверяет валидность cron-выражения.
func ValidatePruneSpec(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}
