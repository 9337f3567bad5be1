package domain

import (
	"errors"
	"time"
)

var (
	// ErrUsernameAlreadyExists indicates that the user with the given username already exists.
	ErrUsernameAlreadyExists = errors.New("username already exists")
	// ErrEmailAlreadyExists indicates that the user with the given email already exists.
	ErrEmailAlreadyExists = errors.New("email already exists")
	// ErrUserNotFound indicates that the user is not found.
	ErrUserNotFound = errors.New("user not found")
	// ErrWrongPassword indicates the wrong password for the given user.
	ErrWrongPassword = errors.New("wrong password")
)

// User holds user data.
type User struct {
	Username       string    `json:"username"`
	HashedPassword string    `json:"hashed_password"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	CreatedAt      time.Time `json:"created_at"`
}

// CreateUserParams is the input data to create a user.
type CreateUserParams struct {
	Username       string `json:"username"`
	HashedPassword string `json:"hashed_password"`
	FullName       string `json:"full_name"`
	Email          string `json:"email"`
}

// UserWithoutPassword is User data excluding password data.
type UserWithoutPassword struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
