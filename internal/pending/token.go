// Package pending holds operations that await user confirmation: an opaque
// token issuer and a TTL-keyed in-memory store.
package pending

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenPrefix is the fixed leading marker of every confirmation token.
const TokenPrefix = "CONFIRM-"

// NowFunc supplies the clock; injectable so tests control time.
type NowFunc func() time.Time

// TokenFunc mints confirmation tokens; injectable so tests control token
// values.
type TokenFunc func(now time.Time) string

// NewToken mints an opaque uppercase ASCII token from a time component and a
// random component. Tokens need to be unique only within the process
// lifetime and the store's TTL window, not globally.
func NewToken(now time.Time) string {
	stamp := strconv.FormatInt(now.UnixNano(), 36)
	random := uuid.NewString()[:8]
	return strings.ToUpper(TokenPrefix + stamp + "-" + random)
}
