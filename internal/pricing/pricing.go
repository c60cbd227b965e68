package pricing

import (
	"errors"
	"strings"
)

// Tariff is resolved from a grade key at request time; it is never persisted.
// Price is in whole currency units.
type Tariff struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description"`
}

var ErrTariffNotFound = errors.New("tariff_not_found")

type entry struct {
	tariff   Tariff
	keywords []string
}

// The table is an ordered slice, not a map: keyword lookup must resolve
// ambiguous keys to the first entry deterministically.
var table = []entry{
	{Tariff{"5", "5 класс", 2950, "1 час / 1 раз в нед"}, []string{"5", "5 класс"}},
	{Tariff{"6", "6 класс", 2950, "1 час / 1 раз в нед"}, []string{"6", "6 класс"}},
	{Tariff{"7", "7 класс", 5650, "2 часа / 1 раз в нед"}, []string{"7", "7 класс"}},
	{Tariff{"8", "8 класс (Алгебра + Геометрия)", 5650, "2 часа / 1 раз в нед"}, []string{"8", "8 класс"}},
	{Tariff{"9", "ОГЭ (9 класс)", 5650, "4 раза по 2 часа"}, []string{"9", "9 класс"}},
	{Tariff{"10", "10 класс (База)", 5650, "4 раза по 2 часа"}, []string{"10", "10 класс"}},
	{Tariff{"10_profile", "10 класс (Профиль)", 7000, "3 часа в нед"}, []string{"10_profile"}},
	{Tariff{"11", "11 класс (База)", 5650, "4 раза по 2 часа"}, []string{"11", "11 класс"}},
	{Tariff{"11_profile", "11 класс (Профиль)", 7900, "4 часа в нед + дом.зад + возможно Зум онлайн занятие 1 раз/нед"}, []string{"11_profile"}},
}

// Resolve maps a grade key to its tariff: exact key match first, then a
// case-insensitive keyword scan in table order.
func Resolve(gradeKey string) (Tariff, error) {
	gradeKey = strings.TrimSpace(gradeKey)
	if gradeKey == "" {
		return Tariff{}, ErrTariffNotFound
	}

	for _, e := range table {
		if e.tariff.Key == gradeKey {
			return e.tariff, nil
		}
	}

	lowered := strings.ToLower(gradeKey)
	for _, e := range table {
		for _, kw := range e.keywords {
			if strings.Contains(lowered, kw) {
				return e.tariff, nil
			}
		}
	}
	return Tariff{}, ErrTariffNotFound
}

// List returns every tariff in table order, for menus and backfills.
func List() []Tariff {
	out := make([]Tariff, 0, len(table))
	for _, e := range table {
		out = append(out, e.tariff)
	}
	return out
}
