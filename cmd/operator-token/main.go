package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/iliyamo/parkqr/internal/config"
	"github.com/iliyamo/parkqr/internal/utils"
)

// operator-token prints a signed operator JWT for the status and listing
// endpoints.  It signs with JWT_SECRET from the environment or .env.
func main() {
	subject := flag.String("sub", "operator", "operator identifier stored in the sub claim")
	ttl := flag.Int("ttl", 0, "lifetime in minutes (default OPERATOR_TOKEN_TTL_MIN)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is not set")
		os.Exit(1)
	}
	minutes := cfg.OperatorTokenTTL
	if *ttl > 0 {
		minutes = *ttl
	}
	tok, err := utils.NewOperatorToken(cfg.JWTSecret, *subject, minutes)
	if err != nil {
		slog.Error("sign operator token", "err", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
