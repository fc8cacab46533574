package models

import "github.com/google/uuid"

// Role - роль вызывающего, поставляется внешним слоем аутентификации
type Role string

const (
	RoleCitizen   Role = "citizen"
	RoleAdmin     Role = "admin"
	RoleResponder Role = "responder"
)

// Actor - аутентифицированный инициатор операции.
// Ядро доверяет этим данным и само аутентификацию не выполняет.
type Actor struct {
	Role        Role
	ResponderID uuid.UUID
}
