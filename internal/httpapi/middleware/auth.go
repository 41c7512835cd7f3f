package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studytree-ai/internal/auth"
	"github.com/suPer8Hu/studytree-ai/internal/common"
	"github.com/suPer8Hu/studytree-ai/internal/generation"
	"go.uber.org/zap"
)

const (
	UserIDKey   = "user_id"
	identityKey = "identity"
)

// AuthRequired verifies the bearer token and stores the caller's identity on
// the context. Nothing downstream runs for an unauthenticated request.
func AuthRequired(v *auth.Verifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := v.Verify(auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			log.Debug("pipeline",
				zap.String("state", string(generation.StateAuthenticating)),
				zap.String("path", c.FullPath()),
				zap.Error(err))
			common.FailErr(c, err, nil)
			return
		}
		c.Set(UserIDKey, id.UserID)
		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity set by AuthRequired.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
