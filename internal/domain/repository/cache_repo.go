package repository

import "time"

// CacheRepository определяет методы для работы с кешем
type CacheRepository interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string) (string, error)
	Delete(key string) error
	// SetJSON сохраняет структуру в кеше в формате JSON
	SetJSON(key string, value interface{}, expiration time.Duration) error
	// GetJSON читает структуру из кеша; ErrNotFound при отсутствии ключа
	GetJSON(key string, dest interface{}) error
}
