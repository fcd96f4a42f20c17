package validation

import (
	"encoding/base64"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/h2non/filetype"
)

// Константы валидации
const (
	MinDisplayNameLength = 1
	MaxDisplayNameLength = 60
	MaxPlaceLength       = 120
	MaxOccurredAtLength  = 64
	MinConfidence        = 0.0
	MaxConfidence        = 100.0
)

var displayNameRegex = regexp.MustCompile(`^[\p{L}\p{N}\s\-_.']+$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s deve ter pelo menos %d caracteres", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s deve ter no máximo %d caracteres", fieldName, max)
	}
	return nil
}

// ValidateDisplayName проверяет имя, под которым человек отправляет обращения.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("nome é obrigatório")
	}

	if err := ValidateLength("nome", name, MinDisplayNameLength, MaxDisplayNameLength); err != nil {
		return err
	}

	if !displayNameRegex.MatchString(name) {
		return fmt.Errorf("nome contém caracteres inválidos")
	}

	return nil
}

// ValidateCoordinates проверяет диапазоны широты и долготы.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude fora do intervalo [-90, 90]: %v", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude fora do intervalo [-180, 180]: %v", lon)
	}
	return nil
}

// ValidateConfidence проверяет, что уверенность — процент от 0 до 100.
func ValidateConfidence(c float64) error {
	if math.IsNaN(c) || c < MinConfidence || c > MaxConfidence {
		return fmt.Errorf("confiança deve estar entre %.0f e %.0f: %v", MinConfidence, MaxConfidence, c)
	}
	return nil
}

// ValidatePlace проверяет название места.
func ValidatePlace(place string) error {
	return ValidateLength("local", strings.TrimSpace(place), 0, MaxPlaceLength)
}

// ValidateOccurredAt ограничивает длину сырой строки времени.
func ValidateOccurredAt(raw string) error {
	return ValidateLength("horário", raw, 0, MaxOccurredAtLength)
}

// ValidateThumbnail проверяет миниатюру: data URL с base64-изображением не
// больше maxBytes после декодирования. Пустая строка допустима.
func ValidateThumbnail(dataURL string, maxBytes int64) error {
	if dataURL == "" {
		return nil
	}

	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return fmt.Errorf("miniatura deve ser um data URL de imagem em base64")
	}

	if maxBytes > 0 && int64(base64.StdEncoding.DecodedLen(len(payload))) > maxBytes+2 {
		return fmt.Errorf("miniatura excede o limite de %d bytes", maxBytes)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("miniatura com base64 inválido")
	}
	if maxBytes > 0 && int64(len(raw)) > maxBytes {
		return fmt.Errorf("miniatura excede o limite de %d bytes", maxBytes)
	}

	// Сверяем сигнатуру, а не заявленный MIME.
	if !filetype.IsImage(raw) {
		return fmt.Errorf("miniatura não é uma imagem reconhecida")
	}

	return nil
}
