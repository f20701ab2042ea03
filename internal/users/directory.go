package users

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/realbeatz/backend/internal/logging"
	"github.com/realbeatz/backend/internal/models"
	"github.com/realbeatz/backend/internal/repositories"
)

var (
	// ErrUserNotFound indicates no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken indicates another account already uses the username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidCredentials indicates the username or password did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownField indicates an update named a field that cannot be changed.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidField indicates a field value failed validation.
	ErrInvalidField = errors.New("invalid field")
	// ErrAssetsUnavailable indicates no asset storage is configured.
	ErrAssetsUnavailable = errors.New("asset storage unavailable")
)

var pictureExtensions = []string{".gif", ".jpeg", ".jpg", ".png", ".webp"}

// Repository is the persistence the Directory needs. It reports
// repositories.ErrNotFound and repositories.ErrConflict.
type Repository interface {
	Create(ctx context.Context, user models.User) error
	FindByID(ctx context.Context, id string) (models.User, error)
	FindByUsername(ctx context.Context, username string) (models.User, error)
	Update(ctx context.Context, user models.User) error
}

// AssetStorage persists uploaded files and returns their public location.
type AssetStorage interface {
	Save(ctx context.Context, key string, r io.Reader) (string, error)
}

type fieldSetter func(user *models.User, value string) error

// Directory owns user accounts and profiles.
type Directory struct {
	repo     Repository
	rules    Rules
	assets   AssetStorage
	hashCost int
	now      func() time.Time
	newID    func() string

	accountFields map[string]fieldSetter
	profileFields map[string]fieldSetter
}

// Option customises a Directory.
type Option func(*Directory)

// WithAssetStorage enables profile picture uploads.
func WithAssetStorage(assets AssetStorage) Option {
	return func(d *Directory) { d.assets = assets }
}

// WithHashCost overrides the bcrypt cost used for new passwords.
func WithHashCost(cost int) Option {
	return func(d *Directory) { d.hashCost = cost }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// NewDirectory constructs a Directory over repo validated with rules.
func NewDirectory(repo Repository, rules Rules, opts ...Option) *Directory {
	if repo == nil {
		panic("users: repository must not be nil")
	}
	d := &Directory{
		repo:     repo,
		rules:    rules,
		hashCost: bcrypt.DefaultCost,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.accountFields = map[string]fieldSetter{
		"username": d.setUsername,
		"password": d.setPassword,
	}
	d.profileFields = map[string]fieldSetter{
		"firstName": d.setFirstName,
		"lastName":  d.setLastName,
		"bio":       d.setBio,
		"dob":       d.setDateOfBirth,
	}
	return d
}

// Register creates an account. profile may carry any profile field accepted by UpdateProfile.
func (d *Directory) Register(ctx context.Context, username, password string, profile map[string]string) (models.User, error) {
	now := d.now()
	user := models.User{ID: d.newID(), CreatedAt: now, UpdatedAt: now}

	if err := d.setUsername(&user, username); err != nil {
		return models.User{}, err
	}
	if err := d.setPassword(&user, password); err != nil {
		return models.User{}, err
	}
	if err := apply(&user, d.profileFields, profile); err != nil {
		return models.User{}, err
	}

	if err := d.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return models.User{}, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
		}
		return models.User{}, fmt.Errorf("create user: %w", err)
	}

	logging.FromContext(ctx).Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// Authenticate returns the user whose username and password match.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (models.User, error) {
	user, err := d.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Get returns the user with the given id.
func (d *Directory) Get(ctx context.Context, id string) (models.User, error) {
	user, err := d.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, fmt.Errorf("%w: id %s", ErrUserNotFound, id)
		}
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// GetByUsername returns the user with the given username.
func (d *Directory) GetByUsername(ctx context.Context, username string) (models.User, error) {
	user, err := d.repo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, fmt.Errorf("%w: username %q", ErrUserNotFound, username)
		}
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

// UpdateAccount changes username and/or password. Nothing is written when
// any key is unknown or any value is invalid.
func (d *Directory) UpdateAccount(ctx context.Context, id string, updates map[string]string) (models.User, error) {
	return d.update(ctx, id, d.accountFields, updates)
}

// UpdateProfile changes firstName, lastName, bio and dob (YYYY-MM-DD).
func (d *Directory) UpdateProfile(ctx context.Context, id string, updates map[string]string) (models.User, error) {
	return d.update(ctx, id, d.profileFields, updates)
}

// SetProfilePicture uploads the picture and records its location on the profile.
func (d *Directory) SetProfilePicture(ctx context.Context, id, filename string, r io.Reader) (models.User, error) {
	if d.assets == nil {
		return models.User{}, ErrAssetsUnavailable
	}

	ext := strings.ToLower(path.Ext(filename))
	if !slices.Contains(pictureExtensions, ext) {
		return models.User{}, fmt.Errorf("%w: picture: unsupported file type %q", ErrInvalidField, ext)
	}

	user, err := d.Get(ctx, id)
	if err != nil {
		return models.User{}, err
	}

	key := fmt.Sprintf("profile-pictures/%s/%s%s", user.ID, d.newID(), ext)
	location, err := d.assets.Save(ctx, key, r)
	if err != nil {
		return models.User{}, fmt.Errorf("store picture: %w", err)
	}

	user.Profile.ProfilePicture = location
	user.UpdatedAt = d.now()
	if err := d.repo.Update(ctx, user); err != nil {
		return models.User{}, d.updateErr(err, user.ID)
	}
	return user, nil
}

func (d *Directory) update(ctx context.Context, id string, fields map[string]fieldSetter, updates map[string]string) (models.User, error) {
	if len(updates) == 0 {
		return models.User{}, fmt.Errorf("%w: no fields to update", ErrInvalidField)
	}
	for key := range updates {
		if _, ok := fields[key]; !ok {
			return models.User{}, fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
	}

	user, err := d.Get(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	if err := apply(&user, fields, updates); err != nil {
		return models.User{}, err
	}

	user.UpdatedAt = d.now()
	if err := d.repo.Update(ctx, user); err != nil {
		return models.User{}, d.updateErr(err, user.ID)
	}

	logging.FromContext(ctx).Info("user updated", "user_id", user.ID, "fields", sortedKeys(updates))
	return user, nil
}

func (d *Directory) updateErr(err error, id string) error {
	switch {
	case errors.Is(err, repositories.ErrConflict):
		return ErrUsernameTaken
	case errors.Is(err, repositories.ErrNotFound):
		return fmt.Errorf("%w: id %s", ErrUserNotFound, id)
	}
	return fmt.Errorf("update user: %w", err)
}

// apply runs the setters in key order so failures are reported deterministically.
func apply(user *models.User, fields map[string]fieldSetter, values map[string]string) error {
	for _, key := range sortedKeys(values) {
		set, ok := fields[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
		if err := set(user, values[key]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func invalid(field string) error {
	return fmt.Errorf("%w: %s", ErrInvalidField, field)
}

func (d *Directory) setUsername(user *models.User, value string) error {
	if !d.rules.validUsername(value) {
		return invalid("username")
	}
	user.Username = value
	return nil
}

func (d *Directory) setPassword(user *models.User, value string) error {
	if !d.rules.validPassword(value) {
		return invalid("password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(value), d.hashCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.Password = string(hash)
	return nil
}

func (d *Directory) setFirstName(user *models.User, value string) error {
	if !d.rules.validName(value) {
		return invalid("firstName")
	}
	user.Profile.FirstName = value
	return nil
}

func (d *Directory) setLastName(user *models.User, value string) error {
	if !d.rules.validName(value) {
		return invalid("lastName")
	}
	user.Profile.LastName = value
	return nil
}

func (d *Directory) setBio(user *models.User, value string) error {
	if !d.rules.validBio(value) {
		return invalid("bio")
	}
	user.Profile.Bio = value
	return nil
}

func (d *Directory) setDateOfBirth(user *models.User, value string) error {
	dob, ok := d.rules.parseDateOfBirth(value, d.now())
	if !ok {
		return invalid("dob")
	}
	user.Profile.DateOfBirth = &dob
	return nil
}
