package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core/session"
)

const (
	AccessCookie  = "accToken"
	RefreshCookie = "refToken"

	tokenAccess  = "access"
	tokenRefresh = "refresh"

	contextClaimsKey = "claims"
)

var errInvalidToken = errors.New("invalid token")

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Kind  string   `json:"kind"`
	Name  string   `json:"name,omitempty"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

func (c Claims) memberID() int64 {
	id, _ := strconv.ParseInt(c.Subject, 10, 64)
	return id
}

func (c Claims) identity() session.Identity {
	return session.Identity{ID: c.memberID(), Name: c.Name, Email: c.Email, Roles: c.Roles}
}

func (s *server) claimsFor(mbr memberRecord, kind string, ttl time.Duration) *Claims {
	now := s.opts.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    s.opts.AppName,
			Subject:   strconv.FormatInt(mbr.ID, 10),
			ExpiresAt: now.Add(ttl).Unix(),
			IssuedAt:  now.Unix(),
		},
		Kind:  kind,
		Name:  mbr.Name,
		Email: mbr.Email,
		Roles: mbr.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the Claims.
func (s *server) GenerateToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(s.opts.Secret)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// parseToken verifies the signature, kind and expiry of a token, against Options.Now.
func (s *server) parseToken(raw, kind string) (*Claims, error) {
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	claims := new(Claims)
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return s.opts.Secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(errInvalidToken, err.Error())
	}
	if claims.Kind != kind || !claims.VerifyExpiresAt(s.opts.Now().Unix(), true) {
		return nil, errInvalidToken
	}
	return claims, nil
}

func (s *server) setTokenCookies(ctx echo.Context, mbr memberRecord, withRefresh bool) error {
	access, err := s.GenerateToken(s.claimsFor(mbr, tokenAccess, s.opts.AccessTTL))
	if err != nil {
		return err
	}
	ctx.SetCookie(tokenCookie(AccessCookie, access, s.opts.AccessTTL))
	if withRefresh {
		refresh, err := s.GenerateToken(s.claimsFor(mbr, tokenRefresh, s.opts.RefreshTTL))
		if err != nil {
			return err
		}
		ctx.SetCookie(tokenCookie(RefreshCookie, refresh, s.opts.RefreshTTL))
	}
	return nil
}

func tokenCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// authMiddleware authenticates requests with the access token cookie. Any invalid token is
// reported as expired, so that clients try to renew it.
func (s *server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		cookie, err := ctx.Cookie(AccessCookie)
		if err != nil || cookie.Value == "" {
			return errTokenMissing
		}
		claims, err := s.parseToken(cookie.Value, tokenAccess)
		if err != nil {
			return errTokenExpired
		}
		ctx.Set(contextClaimsKey, claims)
		return next(ctx)
	}
}

// ownerMiddleware only lets a member (or an admin) reach the resources of :memberId.
func ownerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return err
		}
		id, err := strconv.ParseInt(ctx.Param("memberId"), 10, 64)
		if err != nil {
			return errHttpNotFound
		}
		if id != claims.memberID() && !claims.identity().IsAdmin() {
			return errHttpForbidden
		}
		return next(ctx)
	}
}

func getContextClaims(ctx echo.Context) (*Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*Claims); ok {
		return claims, nil
	}
	return nil, errTokenMissing
}

type loginResponse struct {
	ID      int64    `json:"id,omitempty"`
	Name    string   `json:"name,omitempty"`
	Email   string   `json:"email,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
}

func (s *server) login(ctx echo.Context) error {
	mbr, ok := s.store.authenticate(ctx.FormValue("username"), ctx.FormValue("password"))
	if !ok {
		msg, _ := errAuthenticationFailed.Message.(string)
		return ctx.JSON(errAuthenticationFailed.Code, loginResponse{Status: "failed", Message: msg})
	}
	if err := s.setTokenCookies(ctx, mbr, true); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, loginResponse{
		ID:     mbr.ID,
		Name:   mbr.Name,
		Email:  mbr.Email,
		Roles:  mbr.Roles,
		Status: "success",
	})
}

func (s *server) logout(ctx echo.Context) error {
	for _, name := range []string{AccessCookie, RefreshCookie} {
		ctx.SetCookie(&http.Cookie{Name: name, Path: "/", MaxAge: -1, HttpOnly: true})
	}
	return ctx.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (s *server) refreshToken(ctx echo.Context) error {
	cookie, err := ctx.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		return errRefreshInvalid
	}
	claims, err := s.parseToken(cookie.Value, tokenRefresh)
	if err != nil {
		return errRefreshInvalid
	}
	mbr, ok := s.store.member(claims.memberID())
	if !ok {
		return errRefreshInvalid
	}
	if err = s.setTokenCookies(ctx, mbr, false); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"message": "access token renewed"})
}
