// cmd/devtoken/main.go: prints a signed access token for local testing.
// Uso: go run ./cmd/devtoken -profile 2 -role HEAD_ATTENDANT -branches 1,3
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bencidata/internal/authz"
	"bencidata/internal/config"
	"bencidata/internal/middleware"
)

func main() {
	profile := flag.Uint("profile", 1, "profile id")
	role := flag.String("role", authz.RoleOwner, "role code")
	branches := flag.String("branches", "", "comma separated branch ids")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var scope []uint
	for _, b := range strings.Split(*branches, ",") {
		if b = strings.TrimSpace(b); b == "" {
			continue
		}
		id, err := strconv.ParseUint(b, 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "branch id invalido: %q\n", b)
			os.Exit(2)
		}
		scope = append(scope, uint(id))
	}

	token, err := middleware.IssueToken(cfg.JWTSecret, *profile, *role, scope, cfg.JWTExpiration())
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
