package service

import (
	"context"

	"github.com/stemsi/proktor-backend/internal/model"
	"github.com/stemsi/proktor-backend/internal/repository"
)

// InstructorService handles instructor account business logic.
type InstructorService struct {
	instructorRepo *repository.InstructorRepository
	authService    *AuthService
}

// NewInstructorService creates a new InstructorService.
func NewInstructorService(instructorRepo *repository.InstructorRepository, authService *AuthService) *InstructorService {
	return &InstructorService{instructorRepo: instructorRepo, authService: authService}
}

// GetByEmail retrieves an instructor by their email.
func (s *InstructorService) GetByEmail(ctx context.Context, email string) (*model.Instructor, error) {
	return s.instructorRepo.GetByEmail(ctx, email)
}

// GetByID retrieves an instructor by ID.
func (s *InstructorService) GetByID(ctx context.Context, id int) (*model.Instructor, error) {
	return s.instructorRepo.GetByID(ctx, id)
}

// Create inserts a new instructor with a hashed password.
func (s *InstructorService) Create(ctx context.Context, instructor *model.Instructor, password string) error {
	hashed, err := s.authService.HashPassword(password)
	if err != nil {
		return err
	}
	instructor.PasswordHash = hashed
	return s.instructorRepo.Create(ctx, instructor)
}
