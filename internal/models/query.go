package models

// PlaceStats — агрегаты по одному месту.
type PlaceStats struct {
	Count             int     `json:"count"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// QueryResult — ответ сводки: строки таблицы, статистика для графика и
// полный список мест для фильтра.
type QueryResult struct {
	Rows         []Report              `json:"rows"`
	StatsByPlace map[string]PlaceStats `json:"statsByPlace"`
	Places       []string              `json:"places"`
	PlaceList    []string              `json:"placeList"`
}

// DashboardView — нерешённые обращения для главной страницы.
type DashboardView struct {
	Unresolved []Report `json:"unresolved"`
	Count      int      `json:"count"`
}
