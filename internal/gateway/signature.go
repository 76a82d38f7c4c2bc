package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Canonicalize сериализует payload в детерминированный JSON:
// ключи отсортированы лексикографически на каждом уровне вложенности.
// Одинаковое логическое содержимое всегда дает одинаковые байты —
// без этого подпись невоспроизводима между продьюсерами.
func Canonicalize(payload map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		// Скаляры (string, float64, bool, nil) кодирует стандартный маршалер
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonicalize: %w", err)
		}
		buf.Write(b)
		return nil
	}
}

// SignatureVerifier аутентифицирует входящие вебхуки по HMAC-SHA256
// над канонической сериализацией payload.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify проверяет отсоединенную подпись payload.
// Fail closed: без настроенного секрета проверка всегда отрицательная,
// «открытого» режима нет. Сравнение — только constant-time.
// Ни секрет, ни вычисленный дайджест не логируются и не возвращаются.
func (s *SignatureVerifier) Verify(payload map[string]any, signature string) bool {
	if len(s.secret) == 0 || signature == "" {
		return false
	}

	canonical, err := Canonicalize(payload)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	expected := mac.Sum(nil)

	supplied, err := parseSignature(signature)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(expected, supplied) == 1
}

// Sign возвращает hex-подпись payload. Используется тестами и
// доверенными продьюсерами внутри периметра.
func (s *SignatureVerifier) Sign(payload map[string]any) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// parseSignature принимает «sha256=<hex>» (стиль GitHub) или голый hex.
func parseSignature(signature string) ([]byte, error) {
	if strings.HasPrefix(signature, "sha256=") {
		return hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	}
	return hex.DecodeString(signature)
}
