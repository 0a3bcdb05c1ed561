package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Используются для привязки дневных лимитов риск-менеджера и
// агрегации статистики к границам суток UTC: торговый день бота
// всегда начинается в 00:00:00 UTC независимо от локальной timezone.

// ============================================================
// Границы периодов
// ============================================================

// DayStart возвращает начало текущего дня (00:00:00) в UTC
func DayStart() time.Time {
	return DayStartFrom(time.Now().UTC())
}

// DayStartFrom возвращает начало дня для указанного времени в UTC
func DayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDayStart возвращает начало следующего дня в UTC
func NextDayStart() time.Time {
	return NextDayStartFrom(time.Now().UTC())
}

// NextDayStartFrom возвращает начало дня, следующего за указанным временем
func NextDayStartFrom(t time.Time) time.Time {
	return DayStartFrom(t).AddDate(0, 0, 1)
}

// UntilNextDay возвращает время до начала следующего дня UTC.
// Используется планировщиком сброса дневных счётчиков.
func UntilNextDay(now time.Time) time.Duration {
	return NextDayStartFrom(now).Sub(now.UTC())
}

// WeekStartFrom возвращает начало недели (понедельник 00:00:00 UTC,
// ISO 8601) для указанного времени
func WeekStartFrom(t time.Time) time.Time {
	t = t.UTC()

	// time.Weekday: 0=Sunday ... 6=Saturday, приводим к ISO (понедельник первый)
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}

	monday := t.AddDate(0, 0, -(weekday - 1))
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStartFrom возвращает начало месяца (1-е число 00:00:00 UTC)
// для указанного времени
func MonthStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ============================================================
// Форматирование и timestamp
// ============================================================

// FormatDuration форматирует продолжительность без дробных секунд:
// "45s", "5m30s", "2h15m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	return d.Truncate(time.Second).String()
}

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time (UTC)
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
