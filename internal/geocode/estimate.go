package geocode

// EstimatePlace грубо угадывает район Белена по координатам, когда геокодер
// ничего не вернул.
func EstimatePlace(lat, lon float64) string {
	switch {
	case lat < -1.45 && lon < -48.48:
		return "Umarizal"
	case lat < -1.44 && lon > -48.47:
		return "Marco"
	case lon > -48.40:
		return "Ananindeua"
	default:
		return "Centro / Outros"
	}
}
