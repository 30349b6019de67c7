package utils

import (
	"fmt"
	"math"
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Разбор unix-таймстемпов из API ботов (секунды, дробные секунды,
// миллисекунды) и компактное форматирование возраста heartbeat.

// unixMillisCutoff - значения больше считаются миллисекундами
// (1e11 секунд - это 5138 год)
const unixMillisCutoff = 1e11

// FromUnixSeconds конвертирует unix-время в секундах (возможно дробных) в time.Time UTC
//
// Значения выше unixMillisCutoff трактуются как миллисекунды: часть ботов
// отдает last_process_ts в ms.
func FromUnixSeconds(ts float64) (time.Time, error) {
	if math.IsNaN(ts) || math.IsInf(ts, 0) || ts <= 0 {
		return time.Time{}, fmt.Errorf("invalid unix timestamp: %v", ts)
	}
	if ts > unixMillisCutoff {
		return time.UnixMilli(int64(ts)).UTC(), nil
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
//   - "3d5h"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		if hours > 0 {
			return fmt.Sprintf("%dd%dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	case hours > 0:
		if minutes > 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	case minutes > 0:
		if seconds > 0 {
			return fmt.Sprintf("%dm%ds", minutes, seconds)
		}
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// ToUTC конвертирует время в UTC
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}
