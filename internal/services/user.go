package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/libraryd/apiserver/internal/store"
	"github.com/libraryd/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	Delete(ctx context.Context, id int) error
}

// RoleRepository defines persistence operations for roles.
type RoleRepository interface {
	EnsureRoles(ctx context.Context, names []types.RoleName) (int, error)
	List(ctx context.Context) ([]types.Role, error)
	GetByName(ctx context.Context, name types.RoleName) (types.Role, error)
}

// NewUser holds the fields of an account to be created.
type NewUser struct {
	Username string
	Email    string
	Password string
	Role     types.RoleName
}

// UserUpdate holds the editable fields of an account.
type UserUpdate struct {
	Username string
	Email    string
	Role     types.RoleName
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo       UserRepository
	roles      RoleRepository
	logger     *zap.Logger
	bcryptCost int
}

// UserServiceOption configures a UserService.
type UserServiceOption func(*UserService)

// WithBcryptCost sets the cost used to hash new passwords.
func WithBcryptCost(cost int) UserServiceOption {
	return func(s *UserService) {
		s.bcryptCost = cost
	}
}

func NewUserService(repo UserRepository, roles RoleRepository, logger *zap.Logger, opts ...UserServiceOption) *UserService {
	s := &UserService{
		repo:       repo,
		roles:      roles,
		logger:     logger,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedRoles creates the built-in roles that do not exist yet.
func (s *UserService) SeedRoles(ctx context.Context) error {
	added, err := s.roles.EnsureRoles(ctx, types.DefaultRoles)
	if err != nil {
		return err
	}
	if added > 0 {
		s.logger.Info("seeded roles", zap.Int("added", added))
	}
	return nil
}

func (s *UserService) ListRoles(ctx context.Context) ([]types.Role, error) {
	return s.roles.List(ctx)
}

// Register creates a self-service account. Only an Administrator caller may
// register another Administrator; an empty role means Student.
func (s *UserService) Register(ctx context.Context, in NewUser, callerRole types.RoleName) (types.User, error) {
	if in.Role == "" {
		in.Role = types.RoleStudent
	}
	if in.Role == types.RoleAdministrator && callerRole != types.RoleAdministrator {
		return types.User{}, ErrAdminRoleSelection
	}
	return s.create(ctx, in)
}

// CreateUser creates an account with any role on behalf of an Administrator.
func (s *UserService) CreateUser(ctx context.Context, in NewUser) (types.User, error) {
	if in.Role == "" {
		in.Role = types.RoleStudent
	}
	return s.create(ctx, in)
}

func (s *UserService) create(ctx context.Context, in NewUser) (types.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	for _, err := range []error{
		required("username", in.Username),
		required("email", in.Email),
		required("password", in.Password),
	} {
		if err != nil {
			return types.User{}, err
		}
	}

	role, err := s.resolveRole(ctx, in.Role)
	if err != nil {
		return types.User{}, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Username:     in.Username,
		Email:        in.Email,
		RoleID:       role.ID,
		Role:         role.Name,
		PasswordHash: string(hashed),
	})
	if err != nil {
		return types.User{}, translateDuplicate(err)
	}
	return user, nil
}

// Authenticate checks an email and password pair.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) List(ctx context.Context) ([]types.User, error) {
	return s.repo.List(ctx)
}

// Update changes a user's username, email and role. Empty fields keep their
// current value.
func (s *UserService) Update(ctx context.Context, id int, in UserUpdate) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}

	if v := strings.TrimSpace(in.Username); v != "" {
		user.Username = v
	}
	if v := strings.TrimSpace(in.Email); v != "" {
		user.Email = v
	}
	if in.Role != "" && in.Role != user.Role {
		role, err := s.resolveRole(ctx, in.Role)
		if err != nil {
			return types.User{}, err
		}
		user.RoleID = role.ID
		user.Role = role.Name
	}

	updated, err := s.repo.Update(ctx, user)
	if err != nil {
		return types.User{}, translateDuplicate(err)
	}
	return updated, nil
}

// Delete removes a user who has no book on loan.
func (s *UserService) Delete(ctx context.Context, id int) error {
	err := s.repo.Delete(ctx, id)
	if errors.Is(err, store.ErrConflict) {
		return ErrUserHasLoans
	}
	return err
}

func (s *UserService) resolveRole(ctx context.Context, name types.RoleName) (types.Role, error) {
	if !name.Valid() {
		return types.Role{}, ErrRoleNotFound
	}
	role, err := s.roles.GetByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return types.Role{}, ErrRoleNotFound
	}
	return role, err
}

func translateDuplicate(err error) error {
	var dup *store.DuplicateError
	if !errors.As(err, &dup) {
		return err
	}
	switch dup.Field {
	case "email":
		return ErrEmailInUse
	case "username":
		return ErrUsernameInUse
	}
	return err
}
