// Command smoke-client signs in against a real backend, resolves the
// account's workspace, and checks that the derived balances conserve to
// zero. It exercises the whole stack end to end: auth, session storage,
// the document client, context resolution, and the settlement engine.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"roomledger.org/internal/config"
	"roomledger.org/internal/docstore"
	"roomledger.org/internal/obs"
	"roomledger.org/internal/session"
	"roomledger.org/internal/settle"
	"roomledger.org/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	email := os.Getenv("SMOKE_EMAIL")
	password := os.Getenv("SMOKE_PASSWORD")
	if email == "" || password == "" {
		log.Fatalf("SMOKE_EMAIL and SMOKE_PASSWORD must be set")
	}

	obs.Init()
	obs.InitBuildInfo("dev", "")
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", obs.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	var tokens session.TokenStore
	if cfg.SessionRedisURL != "" {
		tokens, err = session.NewRedisStore(cfg.SessionRedisURL, cfg.SessionKey)
	} else {
		tokens, err = session.NewFileStore(cfg.SessionFile, cfg.SessionPassphrase)
	}
	if err != nil {
		log.Fatalf("session store: %v", err)
	}

	api := session.NewRESTAuthAPI(cfg.AuthBaseURL, cfg.APIKey)
	mgr := session.NewManager(api, tokens)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()

	if _, err := mgr.SignIn(ctx, email, password); err != nil {
		log.Fatalf("sign in: %v", err)
	}
	uid, err := mgr.Subject(ctx)
	if err != nil {
		log.Fatalf("subject: %v", err)
	}

	opts := []docstore.ClientOption{
		docstore.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, docstore.WithRateLimit(cfg.RateLimit, 1))
	}
	store := docstore.NewClient(cfg.DocsBaseURL, mgr, opts...)

	resolver := workspace.NewResolver(store)
	svc := workspace.NewService(store, resolver)
	eng := settle.NewEngine(store, svc, resolver)

	start := time.Now()
	wid, err := resolver.Resolve(ctx, uid)
	if err != nil {
		log.Fatalf("resolve workspace for %s: %v", uid, err)
	}

	balances, err := eng.Balances(ctx, wid)
	if err != nil {
		log.Fatalf("balances: %v", err)
	}
	var sum int64
	for _, b := range balances {
		sum += b.Net
	}
	if sum != 0 {
		log.Fatalf("balance conservation failed: nets sum to %d", sum)
	}

	open, err := eng.Debts(ctx, wid, true)
	if err != nil {
		log.Fatalf("open debts: %v", err)
	}

	fmt.Printf("✅ smoke test passed: workspace=%s members_with_balances=%d open_debts=%d took=%s\n",
		wid, len(balances), len(open), time.Since(start).Round(time.Millisecond))
}
