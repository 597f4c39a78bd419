package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/auth"
	obscontext "github.com/smallbiznis/yardcraft/internal/observability/context"
)

const (
	contextIdentityKey = "identity"
	contextAccountKey  = "account"
)

// AuthRequired verifies the bearer token and stores the caller identity.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.verifier.Verify(token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := auth.WithIdentity(c.Request.Context(), identity)
		ctx = obscontext.WithActor(ctx, identity.Role, identity.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextIdentityKey, identity)
		c.Next()
	}
}

// authorize gates a route on the caller's role.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), identity.Subject, identity.Role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// AccountRequired loads the account owned by the caller.
func (s *Server) AccountRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := identityFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		account, err := s.accountSvc.GetByExternalID(c.Request.Context(), identity.Subject)
		if err != nil {
			if errors.Is(err, accountdomain.ErrNotFound) {
				AbortWithError(c, ErrNotFound)
				return
			}
			AbortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(obscontext.WithAccountID(c.Request.Context(), account.ID.String()))
		c.Set(contextAccountKey, account)
		c.Next()
	}
}

func identityFromContext(c *gin.Context) (auth.Identity, bool) {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := value.(auth.Identity)
	return identity, ok && identity.Subject != ""
}

func accountFromContext(c *gin.Context) (accountdomain.Account, bool) {
	value, ok := c.Get(contextAccountKey)
	if !ok {
		return accountdomain.Account{}, false
	}
	account, ok := value.(accountdomain.Account)
	return account, ok
}
