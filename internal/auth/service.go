// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/profilespaces/profilespaces/pkg/errutil"
)

var tracer = otel.Tracer("profilespaces/auth")

// DefaultMinPasswordLength is the shortest password accepted.
const DefaultMinPasswordLength = 8

// DeleteConfirmation must be typed to delete an account.
const DeleteConfirmation = "DELETE"

// dummyPasswordHash is verified when a login names no account so the
// response time does not reveal whether the account exists. It never matches.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Stores groups the repositories a Service needs.
type Stores struct {
	Users    UserRepository
	Sessions SessionTokenRepository
	Resets   PasswordResetTokenRepository
	Tx       Transactor
}

// Principal is an authenticated request's identity.
type Principal struct {
	User    *User
	Session *SessionToken
}

// Service coordinates account and session operations.
type Service struct {
	users    UserRepository
	sessions SessionTokenRepository
	resets   PasswordResetTokenRepository
	tx       Transactor
	hasher   PasswordHasher

	keys              KeyGenerator
	policy            SessionPolicy
	resetTTL          time.Duration
	minPasswordLength int
	now               func() time.Time
	logger            *slog.Logger
	recorder          Recorder
	profiles          ProfileInitializer // optional
	delivery          ResetDelivery
}

// Option configures a Service during construction.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithKeyGenerator replaces the crypto/rand key generator.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(s *Service) {
		if gen != nil {
			s.keys = gen
		}
	}
}

// WithSessionPolicy sets session lifetimes.
func WithSessionPolicy(p SessionPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithResetTTL sets how long reset keys stay redeemable.
func WithResetTTL(ttl time.Duration) Option {
	return func(s *Service) { s.resetTTL = ttl }
}

// WithMinPasswordLength sets the password length policy.
func WithMinPasswordLength(n int) Option {
	return func(s *Service) { s.minPasswordLength = n }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithProfileInitializer creates profiles during signup.
func WithProfileInitializer(p ProfileInitializer) Option {
	return func(s *Service) { s.profiles = p }
}

// WithResetDelivery sets how reset keys reach their owners. Defaults to
// LogDelivery, which records the event without the key.
func WithResetDelivery(d ResetDelivery) Option {
	return func(s *Service) {
		if d != nil {
			s.delivery = d
		}
	}
}

// NewService creates a Service. Every store and the hasher are required.
func NewService(stores Stores, hasher PasswordHasher, opts ...Option) (*Service, error) {
	switch {
	case stores.Users == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("users repository is required")
	case stores.Sessions == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("sessions repository is required")
	case stores.Resets == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("reset tokens repository is required")
	case stores.Tx == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("transactor is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}

	s := &Service{
		users:             stores.Users,
		sessions:          stores.Sessions,
		resets:            stores.Resets,
		tx:                stores.Tx,
		hasher:            hasher,
		keys:              RandomKeyGenerator{},
		policy:            DefaultSessionPolicy(),
		resetTTL:          DefaultResetTTL,
		minPasswordLength: DefaultMinPasswordLength,
		now:               time.Now,
		logger:            slog.Default(),
		recorder:          nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.delivery == nil {
		s.delivery = LogDelivery{Logger: s.logger}
	}

	if err := s.policy.Validate(); err != nil {
		return nil, err
	}
	if s.resetTTL <= 0 {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("reset TTL must be positive")
	}
	if s.minPasswordLength < 1 {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("minimum password length must be positive")
	}
	return s, nil
}

// Policy returns the session policy in effect.
func (s *Service) Policy() SessionPolicy {
	return s.policy
}

// IssueSession creates a session for user and returns its key.
func (s *Service) IssueSession(ctx context.Context, user *User, remember bool) (*IssuedSession, error) {
	return s.issueSession(ctx, user, remember, "issue")
}

func (s *Service) issueSession(ctx context.Context, user *User, remember bool, reason string) (*IssuedSession, error) {
	for {
		key, hash, err := newUniqueKey(ctx, s.keys, s.sessions.KeyHashExists)
		if err != nil {
			return nil, oops.Code("SESSION_ISSUE_FAILED").With("user_id", user.ID.String()).Wrap(err)
		}

		now := s.now()
		token, err := NewSessionToken(user.ID, hash, s.policy.ExpiryAt(now, remember), now)
		if err != nil {
			return nil, oops.Code("SESSION_ISSUE_FAILED").Wrap(err)
		}

		err = s.sessions.Create(ctx, token)
		if errors.Is(err, ErrConflict) {
			// Another writer took the key between the check and the insert.
			continue
		}
		if err != nil {
			return nil, oops.Code("SESSION_ISSUE_FAILED").
				With("operation", "persist session").
				With("user_id", user.ID.String()).
				Wrap(err)
		}

		token.Owner = user
		s.recorder.SessionIssued(reason)
		return &IssuedSession{Key: key, ExpiresAt: token.ExpiresAt, Session: token, User: user}, nil
	}
}

// AuthenticateKey resolves a bearer key to a Principal. Expired sessions are
// deleted on sight. With refresh the session expiry slides forward, keeping
// its remembered or short lifetime.
func (s *Service) AuthenticateKey(ctx context.Context, key string, refresh bool) (principal *Principal, err error) {
	ctx, span := tracer.Start(ctx, "auth.authenticate", trace.WithAttributes(attribute.Bool("auth.refresh", refresh)))
	defer func() { endSpan(span, err) }()

	key = strings.TrimSpace(key)
	if key == "" {
		s.recorder.AuthAttempt("session", "missing")
		return nil, oops.Code(CodeMissingToken).Errorf("session token required")
	}

	token, err := s.sessions.GetByKeyHash(ctx, HashKey(key))
	if errors.Is(err, ErrNotFound) {
		s.recorder.AuthAttempt("session", "invalid")
		return nil, oops.Code(CodeInvalidToken).Errorf("invalid session token")
	}
	if err != nil {
		return nil, oops.Code("SESSION_LOOKUP_FAILED").With("operation", "get session by key hash").Wrap(err)
	}

	now := s.now()
	if token.IsExpiredAt(now) {
		if delErr := s.sessions.Delete(ctx, token.ID); delErr != nil {
			errutil.LogError(s.logger, "delete expired session", delErr)
		} else {
			s.recorder.SessionsRevoked("expired", 1)
		}
		s.recorder.AuthAttempt("session", "expired")
		return nil, oops.Code(CodeTokenExpired).
			With("session_id", token.ID.String()).
			Errorf("session expired")
	}

	if refresh {
		refreshErr := s.refresh(ctx, token, nil, now)
		if errors.Is(refreshErr, ErrNotFound) {
			// Revoked between lookup and refresh.
			s.recorder.AuthAttempt("session", "invalid")
			return nil, oops.Code(CodeInvalidToken).
				With("session_id", token.ID.String()).
				Errorf("invalid session token")
		}
		if refreshErr != nil {
			errutil.LogError(s.logger, "refresh session expiry", refreshErr)
		}
	}

	owner := token.Owner
	if owner == nil {
		owner, err = s.users.GetByID(ctx, token.UserID)
		if err != nil {
			return nil, oops.Code("SESSION_LOOKUP_FAILED").With("operation", "load session owner").Wrap(err)
		}
		token.Owner = owner
	}

	s.recorder.AuthAttempt("session", "success")
	span.SetAttributes(attribute.String("user.id", owner.ID.String()))
	return &Principal{User: owner, Session: token}, nil
}

// RefreshSession slides the expiry of token forward from now. A nil remember
// keeps the lifetime class the token already has.
func (s *Service) RefreshSession(ctx context.Context, token *SessionToken, remember *bool) error {
	return s.refresh(ctx, token, remember, s.now())
}

func (s *Service) refresh(ctx context.Context, token *SessionToken, remember *bool, now time.Time) error {
	keep := s.policy.InferRemember(token, now)
	if remember != nil {
		keep = *remember
	}
	exp := s.policy.ExpiryAt(now, keep)
	if err := s.sessions.UpdateExpiry(ctx, token.ID, exp); err != nil {
		return oops.Code("SESSION_REFRESH_FAILED").With("session_id", token.ID.String()).Wrap(err)
	}
	token.ExpiresAt = exp
	return nil
}

// Logout ends the principal's current session.
func (s *Service) Logout(ctx context.Context, p *Principal) error {
	if err := s.sessions.Delete(ctx, p.Session.ID); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("session_id", p.Session.ID.String()).
			Wrap(err)
	}
	s.recorder.SessionsRevoked("logout", 1)
	return nil
}

// LogoutAll ends every session of the principal's user and returns how many
// were removed.
func (s *Service) LogoutAll(ctx context.Context, p *Principal) (int64, error) {
	n, err := s.sessions.DeleteByUser(ctx, p.User.ID)
	if err != nil {
		return 0, oops.Code("AUTH_LOGOUT_FAILED").
			With("user_id", p.User.ID.String()).
			Wrap(err)
	}
	s.recorder.SessionsRevoked("logout_all", n)
	return n, nil
}

// SignupInput is the data collected by the signup form.
type SignupInput struct {
	Name      string
	Username  string
	Email     string
	Password  string
	Confirm   string
	Status    string
	Bio       string
	Location  string
	Interests []string
	Agree     bool
	Remember  bool
}

// Signup validates input, creates the user and profile, and starts a session,
// all in one transaction. Input problems come back as *ValidationError.
func (s *Service) Signup(ctx context.Context, in SignupInput) (issued *IssuedSession, err error) {
	ctx, span := tracer.Start(ctx, "auth.signup")
	defer func() { endSpan(span, err) }()

	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.TrimSpace(in.Username)
	in.Email = NormalizeEmail(in.Email)
	in.Status = strings.TrimSpace(in.Status)
	in.Bio = strings.TrimSpace(in.Bio)
	in.Location = strings.TrimSpace(in.Location)

	var v ValidationError
	switch {
	case in.Name == "":
		v.Add("name", "Name is required.")
	case utf8.RuneCountInString(in.Name) < MinNameLength:
		v.Add("name", fmt.Sprintf("Name must be at least %d characters.", MinNameLength))
	}

	if msg := ValidateHandle(in.Username, "Username"); msg != "" {
		v.Add("username", msg)
	} else if taken, err := s.users.UsernameTaken(ctx, in.Username, zeroID); err != nil {
		return nil, oops.Code("SIGNUP_FAILED").With("operation", "check username").Wrap(err)
	} else if taken {
		v.Add("username", "Username is already taken.")
	}

	switch {
	case in.Email == "":
		v.Add("email", "Email is required.")
	case !ValidEmail(in.Email):
		v.Add("email", "Enter a valid email address.")
	default:
		taken, err := s.users.EmailTaken(ctx, in.Email, zeroID)
		if err != nil {
			return nil, oops.Code("SIGNUP_FAILED").With("operation", "check email").Wrap(err)
		}
		if taken {
			v.Add("email", "Email is already in use.")
		}
	}

	if in.Password == "" {
		v.Add("password", "Password is required.")
	} else if msg := s.PasswordPolicyMessage(in.Password); msg != "" {
		v.Add("password", msg)
	}
	if in.Password != in.Confirm {
		v.Add("confirm", "Passwords do not match.")
	}
	if !in.Agree {
		v.Add("agree", "You must accept the terms to create an account.")
	}
	ValidateProfileText(&v, in.Status, in.Bio, in.Location, in.Interests)
	if err := v.Err(); err != nil {
		s.recorder.AuthAttempt("signup", "invalid")
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("SIGNUP_FAILED").With("operation", "hash password").Wrap(err)
	}
	user, err := NewUser(in.Username, in.Email, in.Name, hash)
	if err != nil {
		return nil, oops.Code("SIGNUP_FAILED").Wrap(err)
	}

	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, ErrConflict) {
				return oops.Code(CodeConflict).Errorf("username or email already registered")
			}
			return oops.Code("SIGNUP_FAILED").With("operation", "create user").Wrap(err)
		}
		if s.profiles != nil {
			pi := ProfileInit{
				DisplayName: in.Name,
				Status:      in.Status,
				Bio:         in.Bio,
				Location:    in.Location,
				Interests:   CleanInterests(in.Interests),
				AgreedAt:    &now,
			}
			if err := s.profiles.InitProfile(ctx, user, pi); err != nil {
				return oops.Code("SIGNUP_FAILED").With("operation", "create profile").Wrap(err)
			}
		}
		var issueErr error
		issued, issueErr = s.issueSession(ctx, user, in.Remember, "signup")
		return issueErr
	})
	if err != nil {
		return nil, err
	}

	s.recorder.AuthAttempt("signup", "success")
	s.logger.InfoContext(ctx, "account created", "user_id", user.ID.String())
	return issued, nil
}

// Login checks credentials and starts a session. identifier is a username or
// email. Failure never says which of the two was wrong.
func (s *Service) Login(ctx context.Context, identifier, password string, remember bool) (issued *IssuedSession, err error) {
	ctx, span := tracer.Start(ctx, "auth.login")
	defer func() { endSpan(span, err) }()

	identifier = strings.TrimSpace(identifier)
	var v ValidationError
	if identifier == "" {
		v.Add("identifier", "Username or email is required.")
	}
	if password == "" {
		v.Add("password", "Password is required.")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	user, lookupErr := s.users.GetByIdentifier(ctx, identifier)
	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
	case errors.Is(lookupErr, ErrNotFound):
		user = nil
	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get user by identifier").Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if user == nil || verifyErr != nil || !valid {
		if user != nil && verifyErr != nil {
			errutil.LogError(s.logger, "verify stored password hash", verifyErr)
		}
		s.recorder.AuthAttempt("login", "failure")
		return nil, oops.Code(CodeInvalidCredentials).Errorf("invalid credentials")
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if updErr := s.users.UpdatePassword(ctx, user.ID, newHash); updErr != nil {
				errutil.LogError(s.logger, "upgrade password hash", updErr)
			} else {
				user.PasswordHash = newHash
			}
		}
	}

	issued, err = s.issueSession(ctx, user, remember, "login")
	if err != nil {
		return nil, err
	}
	s.recorder.AuthAttempt("login", "success")
	return issued, nil
}

// RequestReset issues a reset key for the account matching identifier,
// replacing any unused key the account had. An unknown identifier yields the
// zero ResetRequest and no error.
func (s *Service) RequestReset(ctx context.Context, identifier string) (req ResetRequest, err error) {
	ctx, span := tracer.Start(ctx, "auth.request_reset")
	defer func() { endSpan(span, err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ResetRequest{}, &ValidationError{Fields: map[string]string{"identifier": "Username or email is required."}}
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		s.recorder.AuthAttempt("reset_request", "unknown")
		return ResetRequest{}, nil
	}
	if err != nil {
		return ResetRequest{}, oops.Code("RESET_REQUEST_FAILED").With("operation", "get user by identifier").Wrap(err)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.resets.DeleteUnusedByUser(ctx, user.ID); err != nil {
			return oops.Code("RESET_REQUEST_FAILED").With("operation", "delete unused tokens").Wrap(err)
		}
		for {
			key, hash, err := newUniqueKey(ctx, s.keys, s.resets.KeyHashExists)
			if err != nil {
				return oops.Code("RESET_REQUEST_FAILED").Wrap(err)
			}
			now := s.now()
			token, err := NewPasswordResetToken(user.ID, hash, now.Add(s.resetTTL), now)
			if err != nil {
				return oops.Code("RESET_REQUEST_FAILED").Wrap(err)
			}
			err = s.resets.Create(ctx, token)
			if errors.Is(err, ErrConflict) {
				continue
			}
			if err != nil {
				return oops.Code("RESET_REQUEST_FAILED").With("operation", "persist reset token").Wrap(err)
			}
			req = ResetRequest{Key: key, ExpiresAt: token.ExpiresAt}
			return nil
		}
	})
	if err != nil {
		return ResetRequest{}, err
	}

	if err := s.delivery.DeliverReset(ctx, user, req); err != nil {
		errutil.LogError(s.logger, "deliver password reset", err)
	}
	s.recorder.AuthAttempt("reset_request", "issued")
	return req, nil
}

// ChangeEmail sets a new email after confirming the password.
func (s *Service) ChangeEmail(ctx context.Context, p *Principal, email, password string) (*User, error) {
	email = NormalizeEmail(email)

	var v ValidationError
	switch {
	case email == "":
		v.Add("email", "Email is required.")
	case !ValidEmail(email):
		v.Add("email", "Enter a valid email address.")
	default:
		taken, err := s.users.EmailTaken(ctx, email, p.User.ID)
		if err != nil {
			return nil, oops.Code("EMAIL_CHANGE_FAILED").With("operation", "check email").Wrap(err)
		}
		if taken {
			v.Add("email", "Email is already in use.")
		}
	}
	if password == "" {
		v.Add("password", "Password confirmation is required.")
	} else if ok, err := s.hasher.Verify(password, p.User.PasswordHash); err != nil || !ok {
		v.Add("password", "Incorrect password.")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.users.UpdateEmail(ctx, p.User.ID, email); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, &ValidationError{Fields: map[string]string{"email": "Email is already in use."}}
		}
		return nil, oops.Code("EMAIL_CHANGE_FAILED").With("user_id", p.User.ID.String()).Wrap(err)
	}
	updated := *p.User
	updated.Email = email
	updated.UpdatedAt = s.now()
	return &updated, nil
}

// DeleteAccount removes the principal's user with every session and reset
// token. confirmation must equal DeleteConfirmation; a non-empty password must
// match.
func (s *Service) DeleteAccount(ctx context.Context, p *Principal, confirmation, password string) (err error) {
	ctx, span := tracer.Start(ctx, "auth.delete_account")
	defer func() { endSpan(span, err) }()

	var v ValidationError
	if strings.TrimSpace(confirmation) != DeleteConfirmation {
		v.Add("confirm", `Type "DELETE" to confirm.`)
	}
	if password != "" {
		if ok, verifyErr := s.hasher.Verify(password, p.User.PasswordHash); verifyErr != nil || !ok {
			v.Add("password", "Incorrect password.")
		}
	}
	if err := v.Err(); err != nil {
		return err
	}

	var revoked int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		if revoked, err = s.sessions.DeleteByUser(ctx, p.User.ID); err != nil {
			return oops.Code("ACCOUNT_DELETE_FAILED").With("operation", "delete sessions").Wrap(err)
		}
		if _, err = s.resets.DeleteByUser(ctx, p.User.ID); err != nil {
			return oops.Code("ACCOUNT_DELETE_FAILED").With("operation", "delete reset tokens").Wrap(err)
		}
		if err = s.users.Delete(ctx, p.User.ID); err != nil {
			return oops.Code("ACCOUNT_DELETE_FAILED").With("operation", "delete user").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recorder.SessionsRevoked("account_deleted", revoked)
	s.logger.InfoContext(ctx, "account deleted", "user_id", p.User.ID.String())
	return nil
}

// UsernameTaken reports whether another account uses username.
func (s *Service) UsernameTaken(ctx context.Context, username string, exclude *User) (bool, error) {
	id := zeroID
	if exclude != nil {
		id = exclude.ID
	}
	taken, err := s.users.UsernameTaken(ctx, strings.TrimSpace(username), id)
	if err != nil {
		return false, oops.Code("USERNAME_CHECK_FAILED").Wrap(err)
	}
	return taken, nil
}

// CheckPassword reports whether password matches user's stored hash.
func (s *Service) CheckPassword(user *User, password string) bool {
	if user == nil || password == "" {
		return false
	}
	ok, err := s.hasher.Verify(password, user.PasswordHash)
	return err == nil && ok
}

// PasswordPolicyMessage returns why password is too weak, or "".
func (s *Service) PasswordPolicyMessage(password string) string {
	if utf8.RuneCountInString(password) < s.minPasswordLength {
		return fmt.Sprintf("Password must be at least %d characters.", s.minPasswordLength)
	}
	return ""
}

func (s *Service) checkPasswordPolicy(password string) error {
	if msg := s.PasswordPolicyMessage(password); msg != "" {
		return oops.Code(CodeWeakSecret).With("min_length", s.minPasswordLength).Errorf("%s", msg)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
