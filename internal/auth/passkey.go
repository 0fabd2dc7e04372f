package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/users"
)

// NewWebAuthn configures the relying party.
func NewWebAuthn(rpID, rpName string, origins []string) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPID:          rpID,
		RPDisplayName: rpName,
		RPOrigins:     origins,
	})
}

type passkeyUser struct {
	user  users.User
	creds []webauthn.Credential
}

func (u passkeyUser) WebAuthnID() []byte {
	handle := u.user.WebAuthnHandle
	return handle[:]
}
func (u passkeyUser) WebAuthnName() string                       { return u.user.Email }
func (u passkeyUser) WebAuthnDisplayName() string                { return u.user.Name }
func (u passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }
func (u passkeyUser) WebAuthnIcon() string                       { return "" }

func (s *Service) loadPasskeyUser(ctx context.Context, user users.User) (passkeyUser, error) {
	keys, err := s.Repo.ListPasskeys(ctx, user.ID)
	if err != nil {
		return passkeyUser{}, err
	}
	creds := make([]webauthn.Credential, 0, len(keys))
	for _, k := range keys {
		creds = append(creds, k.Credential)
	}
	return passkeyUser{user: user, creds: creds}, nil
}

// BeginPasskeyRegistration returns creation options and the ceremony state to keep in the session.
func (s *Service) BeginPasskeyRegistration(ctx context.Context, userID int64) (*protocol.CredentialCreation, string, error) {
	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	pu, err := s.loadPasskeyUser(ctx, user)
	if err != nil {
		return nil, "", err
	}
	exclude := make([]protocol.CredentialDescriptor, 0, len(pu.creds))
	for _, c := range pu.creds {
		exclude = append(exclude, c.Descriptor())
	}
	creation, session, err := s.WebAuthn.BeginRegistration(pu,
		webauthn.WithExclusions(exclude),
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	)
	if err != nil {
		return nil, "", err
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, "", err
	}
	return creation, string(raw), nil
}

// FinishPasskeyRegistration verifies the attestation in r and stores the credential.
func (s *Service) FinishPasskeyRegistration(ctx context.Context, userID int64, name, state string, r *http.Request) (Passkey, error) {
	var session webauthn.SessionData
	if state == "" || json.Unmarshal([]byte(state), &session) != nil {
		return Passkey{}, ErrPasskeyFailed
	}
	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return Passkey{}, err
	}
	pu, err := s.loadPasskeyUser(ctx, user)
	if err != nil {
		return Passkey{}, err
	}
	cred, err := s.WebAuthn.FinishRegistration(pu, session, r)
	if err != nil {
		s.Logger.Warn("passkey registration rejected", slog.Int64("user_id", userID), slog.Any("error", err))
		return Passkey{}, ErrPasskeyFailed
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "패스키 " + strconv.Itoa(len(pu.creds)+1)
	}
	if len([]rune(name)) > 50 {
		name = string([]rune(name)[:50])
	}
	saved, err := s.Repo.SavePasskey(ctx, Passkey{UserID: userID, Name: name, Credential: *cred})
	if err != nil {
		return Passkey{}, err
	}
	_ = s.Audit.Record(ctx, shared.AuditLog{ActorID: userID, Action: "PASSKEY_REGISTER", Entity: "user", EntityID: strconv.FormatInt(userID, 10), Meta: map[string]any{"passkey_id": saved.ID}})
	return saved, nil
}

// BeginPasskeyLogin starts a discoverable-credential assertion.
func (s *Service) BeginPasskeyLogin() (*protocol.CredentialAssertion, string, error) {
	assertion, session, err := s.WebAuthn.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, "", err
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, "", err
	}
	return assertion, string(raw), nil
}

// FinishPasskeyLogin verifies the assertion in r and returns the owner.
func (s *Service) FinishPasskeyLogin(ctx context.Context, state string, r *http.Request) (users.User, error) {
	var session webauthn.SessionData
	if state == "" || json.Unmarshal([]byte(state), &session) != nil {
		return users.User{}, ErrPasskeyFailed
	}
	var owner users.User
	cred, err := s.WebAuthn.FinishDiscoverableLogin(func(rawID, userHandle []byte) (webauthn.User, error) {
		handle, err := uuid.FromBytes(userHandle)
		if err != nil {
			return nil, err
		}
		u, err := s.Users.GetByWebAuthnHandle(ctx, handle)
		if err != nil {
			return nil, err
		}
		pu, err := s.loadPasskeyUser(ctx, u)
		if err != nil {
			return nil, err
		}
		for _, c := range pu.creds {
			if bytes.Equal(c.ID, rawID) {
				owner = u
				return pu, nil
			}
		}
		return nil, errors.New("credential not registered to user")
	}, session, r)
	if err != nil {
		s.Events.RecordAuth(MethodPasskey, "failure")
		s.Logger.Warn("passkey login rejected", slog.Any("error", err))
		return users.User{}, ErrPasskeyFailed
	}
	if !owner.IsActive {
		return users.User{}, ErrInactiveAccount
	}
	if err := s.Repo.TouchPasskey(ctx, cred.ID, cred.Authenticator.SignCount, s.now()); err != nil {
		s.Logger.Warn("touch passkey", slog.Any("error", err))
	}
	s.Events.RecordAuth(MethodPasskey, "success")
	return owner, nil
}

// Passkeys lists the credentials of a user.
func (s *Service) Passkeys(ctx context.Context, userID int64) ([]Passkey, error) {
	return s.Repo.ListPasskeys(ctx, userID)
}

// DeletePasskey removes one of the caller's credentials.
func (s *Service) DeletePasskey(ctx context.Context, userID, id int64) error {
	if err := s.Repo.DeletePasskey(ctx, userID, id); err != nil {
		return err
	}
	_ = s.Audit.Record(ctx, shared.AuditLog{ActorID: userID, Action: "PASSKEY_DELETE", Entity: "user", EntityID: strconv.FormatInt(userID, 10), Meta: map[string]any{"passkey_id": id}})
	return nil
}
