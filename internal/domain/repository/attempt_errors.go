package repository

import "errors"

var (
	// ErrDuplicateAttempt означает, что попытка с таким attempt_number уже
	// создана конкурирующим запросом. Вызывающий должен перечитать список
	// попыток, а не повторять вставку с тем же номером.
	ErrDuplicateAttempt = errors.New("attempt with this number already exists")
)
