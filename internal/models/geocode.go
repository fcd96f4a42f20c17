package models

// GeocodeEntry — значение в документе geocodeCache.
type GeocodeEntry struct {
	Place    string `json:"place"`
	CachedAt int64  `json:"cachedAt"`
}

// Resolution — результат определения места по координатам.
type Resolution struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Place  string  `json:"place"`
	Source string  `json:"source"`
}

// Found сообщает, что место получено из кэша или геокодера, а не оценено.
func (r Resolution) Found() bool {
	return r.Source == PlaceSourceCache || r.Source == PlaceSourceReverse
}
