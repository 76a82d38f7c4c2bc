package domain

import "time"

// UserRecord — строка таблицы secure_user_data.
// PasswordHash и EmailEncrypted никогда не сериализуются наружу:
// шлюз отдает только безопасную проекцию записи.
type UserRecord struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"-"` // Никогда не отправляем на фронт
	EmailEncrypted string    `json:"-"` // Расшифровка — зона ответственности внешнего KMS
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
