package gateway

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// denyTokens — структурные и управляющие токены, которым нечего делать
// в идентификаторе записи: кавычки, разделители, комментарии и глаголы
// запросов (case-insensitive).
//
// Это эвристика и только второй эшелон защиты (defense-in-depth):
// авторитетная гарантия — параметризованный запрос в DataGateway,
// идентификатор никогда не конкатенируется в текст запроса.
var denyTokens = []string{
	"'", `"`, ";", "--", "/*", "*/",
	"union", "select", "drop", "delete", "insert", "update",
}

// InputValidator отсекает битые и подозрительные идентификаторы
// до того, как они дойдут до слоя запросов.
type InputValidator struct {
	logger *zap.Logger
}

func NewInputValidator(logger *zap.Logger) *InputValidator {
	return &InputValidator{logger: logger.Named("validator")}
}

// Validate принимает только числовые и строковые идентификаторы.
// JSON-числа приходят из декодера как float64, поэтому они в списке.
// Любой другой тип (bool, срез, мапа, nil) отклоняется сразу.
func (v *InputValidator) Validate(identifier any) bool {
	var s string
	switch id := identifier.(type) {
	case int:
		s = fmt.Sprintf("%d", id)
	case int64:
		s = fmt.Sprintf("%d", id)
	case float64:
		s = fmt.Sprintf("%v", id)
	case string:
		s = id
	default:
		v.logger.Warn("identifier rejected: unsupported type",
			zap.String("type", fmt.Sprintf("%T", identifier)),
		)
		return false
	}

	lowered := strings.ToLower(s)
	for _, token := range denyTokens {
		if strings.Contains(lowered, token) {
			// Сырое значение в лог не пишем — только длину (redacted)
			v.logger.Warn("potential injection detected",
				zap.String("token", token),
				zap.Int("value_len", len(s)),
			)
			return false
		}
	}

	return true
}
