package dto

// CreateUserRequest represents payload for creating users.
type CreateUserRequest struct {
	Identification string `json:"identification" validate:"required,numeric,min=5,max=20"`
	GivenName      string `json:"givenName" validate:"required,max=100"`
	FamilyName     string `json:"familyName" validate:"required,max=100"`
	Email          string `json:"email" validate:"required,email,max=200"`
	Role           string `json:"role" validate:"required"`
	Active         *bool  `json:"active"`
}

// UpdateUserRequest payload for updating users. Role stays technically mutable.
type UpdateUserRequest struct {
	GivenName  string `json:"givenName" validate:"required,max=100"`
	FamilyName string `json:"familyName" validate:"required,max=100"`
	Role       string `json:"role" validate:"required"`
}

// UserQuery mirrors supported user listing filters.
type UserQuery struct {
	Role     string `form:"role"`
	Active   *bool  `form:"active"`
	Search   string `form:"q"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
