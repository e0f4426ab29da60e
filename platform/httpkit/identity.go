package httpkit

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the caller resolved by AuthRequired.
type Identity interface {
	UserID() uuid.UUID
	// Email is the lower-cased email claim, empty when the token carries none.
	Email() string
	HasRole(role string) bool
}

type caller struct {
	userID uuid.UUID
	email  string
	roles  []string
}

func (c caller) UserID() uuid.UUID        { return c.userID }
func (c caller) Email() string            { return c.email }
func (c caller) HasRole(role string) bool { return slices.Contains(c.roles, role) }

// GetIdentity returns the caller, or nil when the request is unauthenticated.
func GetIdentity(c *gin.Context) Identity {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return nil
	}
	userID, ok := raw.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return nil
	}
	id := caller{userID: userID, email: c.GetString(ContextEmailKey)}
	if roles, ok := c.Get(ContextRolesKey); ok {
		id.roles, _ = roles.([]string)
	}
	return id
}

// MustGetIdentity aborts with 401 and returns nil when there is no caller.
func MustGetIdentity(c *gin.Context) Identity {
	id := GetIdentity(c)
	if id == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return nil
	}
	return id
}
