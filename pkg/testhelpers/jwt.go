package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestJWT creates an unsigned test JWT (alg: none) for use when verification is disabled.
// The token carries aud: "riskgraph", which the auth service requires.
func GenerateTestJWT(sub, orgID, email string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":"%s","aud":"riskgraph"`, sub)
	if orgID != "" {
		payload += fmt.Sprintf(`,"oid":"%s"`, orgID)
	}
	if email != "" {
		payload += fmt.Sprintf(`,"email":"%s"`, email)
	}
	payload += "}"

	return fmt.Sprintf("%s.%s.", header, base64.RawURLEncoding.EncodeToString([]byte(payload)))
}

// GenerateTestJWTWithBearer returns the token with a "Bearer " prefix for the Authorization header.
func GenerateTestJWTWithBearer(sub, orgID, email string) string {
	return "Bearer " + GenerateTestJWT(sub, orgID, email)
}
