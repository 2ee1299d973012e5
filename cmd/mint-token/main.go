package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/troikatech/pbx-voice-bridge/pkg/auth"
	"github.com/troikatech/pbx-voice-bridge/pkg/env"
)

// Issues an access token for the outbound control API. Operator identities
// live in the external identity service; this is for ops and local testing.
func main() {
	subject := flag.String("sub", "", "operator identity (email or id)")
	role := flag.String("role", auth.RoleOperator, "admin, operator or viewer")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	if *subject == "" {
		log.Fatalf("-sub is required")
	}
	switch *role {
	case auth.RoleAdmin, auth.RoleOperator, auth.RoleViewer:
	default:
		log.Fatalf("unknown role %q", *role)
	}

	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	token, expiresAt, err := auth.GenerateAccessToken(*subject, *role, cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, *ttl)
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}

	fmt.Printf("✅ Token for %s (%s), expires %s\n", *subject, *role, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
