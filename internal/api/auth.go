package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/hangout-app/hangout-server/internal/database"
	"github.com/hangout-app/hangout-server/internal/types"
	"golang.org/x/crypto/bcrypt"
)

var (
	defaultJwtExpiration = time.Hour * 24
	tokenCookieKey       = "token"
)

const (
	userKindClaim  = "user-kind"
	accountIdClaim = "account-id"
	guestIdClaim   = "guest-id"
	expClaim       = "exp"
)

// Caller identifies the authenticated principal behind a request,
// either a registered account or an ephemeral guest.
type Caller struct {
	Kind      types.UserKind
	AccountId int
	GuestId   string
}

type contextKey string

const callerKey contextKey = "caller"

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)

	return c, ok
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func createJwtForSession(c Caller, signingKey []byte, exp time.Duration) (string, error) {
	claims := jwt.MapClaims{
		userKindClaim: string(c.Kind),
		expClaim:      time.Now().Add(exp).Unix(),
	}

	switch c.Kind {
	case types.UserKindAccount:
		claims[accountIdClaim] = c.AccountId
	case types.UserKindGuest:
		claims[guestIdClaim] = c.GuestId
	default:
		return "", fmt.Errorf("unknown user kind %q", c.Kind)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(signingKey)
}

func callerFromToken(tokenString string, signingKey []byte) (Caller, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return signingKey, nil
	})
	if err != nil {
		return Caller{}, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return Caller{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Caller{}, errors.New("invalid token claims")
	}

	kind, ok := claims[userKindClaim].(string)
	if !ok {
		return Caller{}, errors.New("missing user kind claim")
	}

	switch types.UserKind(kind) {
	case types.UserKindAccount:
		accountId, ok := claims[accountIdClaim].(float64)
		if !ok {
			return Caller{}, errors.New("invalid account id claim")
		}
		return Caller{Kind: types.UserKindAccount, AccountId: int(accountId)}, nil
	case types.UserKindGuest:
		guestId, ok := claims[guestIdClaim].(string)
		if !ok {
			return Caller{}, errors.New("invalid guest id claim")
		}
		return Caller{Kind: types.UserKindGuest, GuestId: guestId}, nil
	}

	return Caller{}, fmt.Errorf("unknown user kind claim %q", kind)
}

// callerOwnsMember reports whether the member row belongs to the caller.
func callerOwnsMember(c Caller, member database.Member) bool {
	switch c.Kind {
	case types.UserKindAccount:
		return member.AccountId.Valid && int(member.AccountId.Int64) == c.AccountId
	case types.UserKindGuest:
		return member.GuestId.Valid && member.GuestId.String == c.GuestId
	}

	return false
}

// UpgradeAuthorizer validates websocket upgrade credentials against the
// membership table. It is consulted by the realtime gateway before any
// connection is admitted.
type UpgradeAuthorizer struct {
	log        *log.Logger
	db         database.HangoutRepository
	signingKey []byte
}

func NewUpgradeAuthorizer(logger *log.Logger, db database.HangoutRepository, signingKey []byte) *UpgradeAuthorizer {
	return &UpgradeAuthorizer{
		log:        logger,
		db:         db,
		signingKey: signingKey,
	}
}

// ResolveUpgrade reports whether credential proves the caller owns memberId
// and that the member belongs to hangoutId. A failed proof is a clean
// rejection, not an error; errors are reserved for backend failures.
func (ua *UpgradeAuthorizer) ResolveUpgrade(ctx context.Context, credential, memberId, hangoutId string) (bool, error) {
	caller, err := callerFromToken(credential, ua.signingKey)
	if err != nil {
		ua.log.Printf("resolve upgrade: %v", err)
		return false, nil
	}

	type memberResult struct {
		member database.Member
		err    error
	}

	// The repository has no context-aware lookup, so the query runs in its
	// own goroutine and the caller's deadline is enforced here.
	resCh := make(chan memberResult, 1)
	go func() {
		m, err := ua.db.GetMemberById(memberId)
		resCh <- memberResult{member: m, err: err}
	}()

	var member database.Member
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			if errors.Is(res.err, sql.ErrNoRows) {
				return false, nil
			}
			return false, fmt.Errorf("get member: %w", res.err)
		}
		member = res.member
	}

	if member.HangoutId != hangoutId {
		ua.log.Printf("member %s presented for hangout %s but belongs to %s", memberId, hangoutId, member.HangoutId)
		return false, nil
	}

	return callerOwnsMember(caller, member), nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
