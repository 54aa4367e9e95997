package repository

import (
	"context"
	"storefront-auth/internal/domain"
	"sync"
	"time"
)

// In-memory stores back STORE_DRIVER=memory and the service tests. A single
// mutex per store gives the same serialization the postgres queries rely on.

type memoryOTPRepository struct {
	mu     sync.Mutex
	nextID int
	codes  []*domain.OTPCode
}

func NewMemoryOTPRepository() OTPRepository {
	return &memoryOTPRepository{}
}

func (r *memoryOTPRepository) Issue(_ context.Context, otp *domain.OTPCode) (*domain.OTPCode, error) {
	if err := otp.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.codes {
		if c.Email == otp.Email && c.Purpose == otp.Purpose && !c.Consumed {
			c.Superseded = true
		}
	}

	r.nextID++
	stored := *otp
	stored.ID = r.nextID
	stored.Consumed = false
	stored.Superseded = false
	stored.AttemptCount = 0
	r.codes = append(r.codes, &stored)

	issued := stored
	return &issued, nil
}

func (r *memoryOTPRepository) GetLatestUnconsumed(_ context.Context, email string, purpose domain.Purpose) (*domain.OTPCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *domain.OTPCode
	for _, c := range r.codes {
		if c.Email != email || c.Purpose != purpose || c.Consumed || c.Superseded {
			continue
		}
		if latest == nil || !c.CreatedAt.Before(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, domain.ErrOTPNotFound
	}

	found := *latest
	return &found, nil
}

func (r *memoryOTPRepository) ClaimAttempt(_ context.Context, id int, maxAttempts int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.find(id)
	if c == nil || c.Consumed || c.Superseded {
		return 0, domain.ErrOTPExhausted
	}
	if maxAttempts > 0 && c.AttemptCount >= maxAttempts {
		return 0, domain.ErrOTPExhausted
	}
	c.AttemptCount++
	return c.AttemptCount, nil
}

func (r *memoryOTPRepository) ReleaseAttempt(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c := r.find(id); c != nil && c.AttemptCount > 0 {
		c.AttemptCount--
	}
	return nil
}

func (r *memoryOTPRepository) Consume(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.find(id)
	if c == nil || c.Consumed || c.Superseded {
		return domain.ErrOTPConsumed
	}
	c.Consumed = true
	return nil
}

func (r *memoryOTPRepository) find(id int) *domain.OTPCode {
	for _, c := range r.codes {
		if c.ID == id {
			return c
		}
	}
	return nil
}

type memoryUserRepository struct {
	mu      sync.RWMutex
	nextID  int
	byID    map[int]*domain.User
	byEmail map[string]int
	now     func() time.Time
}

func NewMemoryUserRepository() UserRepository {
	return &memoryUserRepository{
		byID:    make(map[int]*domain.User),
		byEmail: make(map[string]int),
		now:     time.Now,
	}
}

func (r *memoryUserRepository) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	if err := user.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return nil, domain.ErrUserAlreadyExists
	}

	r.nextID++
	stored := *user
	stored.ID = r.nextID
	stored.CreatedAt = r.now()
	stored.UpdatedAt = stored.CreatedAt
	r.byID[stored.ID] = &stored
	r.byEmail[stored.Email] = stored.ID

	created := stored
	return &created, nil
}

func (r *memoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	user := *r.byID[id]
	return &user, nil
}

func (r *memoryUserRepository) GetByID(_ context.Context, id int) (*domain.User, error) {
	if id <= 0 {
		return nil, domain.ErrInvalidUserID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	user := *u
	return &user, nil
}

func (r *memoryUserRepository) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byEmail[email]
	return ok, nil
}

func (r *memoryUserRepository) UpdatePassword(_ context.Context, id int, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = r.now()
	return nil
}
