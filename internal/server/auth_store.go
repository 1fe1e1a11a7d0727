package server

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User представляет учетную запись в системе.
type User struct {
	ID         string
	Identifier string // нормализованный (в нижнем регистре) идентификатор входа
	SecretHash string
	Screenname string // каноническое написание, как ввел пользователь
	CreatedAt  time.Time
}

// Ошибки, специфичные для хранилища/аутентификации
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrIdentifierTaken = errors.New("identifier is already taken")
	ErrInvalidSecret   = errors.New("invalid secret")
	ErrSecretHashing   = errors.New("failed to hash secret")
)

// AuthStore хранит учетные записи. Ключ - нормализованный идентификатор.
type AuthStore struct {
	mu    sync.RWMutex
	users map[string]*User
	byID  map[string]*User
}

func NewAuthStore() *AuthStore {
	return &AuthStore{
		users: make(map[string]*User),
		byID:  make(map[string]*User),
	}
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// SignUp создает и сохраняет новую учетную запись.
func (s *AuthStore) SignUp(identifier, secret, screenname string) (*User, error) {
	key := normalizeIdentifier(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[key]; exists {
		return nil, ErrIdentifierTaken
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("Error hashing secret for %s: %v", key, err)
		return nil, ErrSecretHashing
	}

	if screenname == "" {
		// Запасной вариант как в исходном клиенте: локальная часть идентификатора
		screenname = identifier
		if i := strings.IndexByte(screenname, '@'); i > 0 {
			screenname = screenname[:i]
		}
	}

	newUser := &User{
		ID:         uuid.NewString(),
		Identifier: key,
		SecretHash: string(hashed),
		Screenname: screenname,
		CreatedAt:  time.Now().UTC(),
	}

	s.users[key] = newUser
	s.byID[newUser.ID] = newUser
	log.Printf("User registered: %s (ID: %s)", newUser.Screenname, newUser.ID)
	return newUser, nil
}

// SignIn проверяет учетные данные.
func (s *AuthStore) SignIn(identifier, secret string) (*User, error) {
	key := normalizeIdentifier(identifier)

	s.mu.RLock()
	user, exists := s.users[key]
	s.mu.RUnlock() // Разблокируем сразу после чтения из map

	if !exists {
		return nil, ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.SecretHash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, ErrInvalidSecret
		}
		log.Printf("Error comparing secret for %s: %v", key, err)
		return nil, err
	}

	log.Printf("User authenticated: %s (ID: %s)", user.Screenname, user.ID)
	return user, nil
}

func (s *AuthStore) GetUserByID(userID string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[userID]
	return u, ok
}
