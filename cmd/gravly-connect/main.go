// Command gravly-connect drives the Wahoo connector from the command line:
// run the authorization flow, inspect the stored token, and exercise the
// route and profile endpoints. The web backend composes the same packages;
// this binary exists for operations and debugging.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/glemaitre/gravly-sub000/internal/config"
	"github.com/glemaitre/gravly-sub000/internal/logging"
	"github.com/glemaitre/gravly-sub000/internal/state"
	"github.com/glemaitre/gravly-sub000/internal/wahoo"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: gravly-connect <command> [args]

commands:
  authorize [state]        print the authorization URL to visit
  exchange <code>          trade an authorization code for tokens
  refresh                  force a token refresh
  user                     fetch the authenticated user's profile
  routes [external-id]     list routes, optionally filtered
  route <id>               fetch one route
  upload <gpx> [ext-id]    upload a GPX file as a new route
  delete-route <id>        delete a route
  deauthorize              revoke access for this application
  status                   fetch profile and routes concurrently
`)
}

func run() error {
	if len(os.Args) < 2 {
		usage()
		return fmt.Errorf("missing command")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Debug("gravly-connect starting",
		slog.String("version", Version),
		slog.String("account_id", cfg.AccountID),
	)

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer store.Close()

	svc := newService(cfg, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd := os.Args[1]; cmd {
	case "authorize":
		fmt.Println(svc.AuthorizationURL(arg(2)))
		return nil

	case "exchange":
		code := arg(2)
		if code == "" {
			return fmt.Errorf("exchange requires an authorization code")
		}

		rec, err := svc.ExchangeCode(ctx, code)
		if err != nil {
			return err
		}

		logger.Info("tokens stored",
			slog.String("account_id", cfg.AccountID),
			slog.Int64("expires_at", rec.ExpiresAt),
		)

		return nil

	case "refresh":
		if !svc.RefreshAccessToken(ctx) {
			return fmt.Errorf("refresh failed; run the authorization flow again")
		}

		logger.Info("token refreshed")

		return nil

	case "user":
		user, err := svc.GetUser(ctx)
		if err != nil {
			return err
		}

		return printJSON(user)

	case "routes":
		routes, err := svc.GetRoutes(ctx, arg(2))
		if err != nil {
			return err
		}

		return printJSON(routes)

	case "route":
		id, err := parseID(arg(2))
		if err != nil {
			return err
		}

		route, err := svc.GetRoute(ctx, id)
		if err != nil {
			return err
		}

		return printJSON(route)

	case "upload":
		return uploadRoute(ctx, svc, arg(2), arg(3))

	case "delete-route":
		id, err := parseID(arg(2))
		if err != nil {
			return err
		}

		return svc.DeleteRoute(ctx, id)

	case "deauthorize":
		return svc.Deauthorize(ctx)

	case "status":
		return status(ctx, cfg, store, logger)

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// newService builds one client+service pair. Each service owns its own
// client so nothing mutable is shared between concurrent services except
// the token store.
func newService(cfg *config.Config, store *state.Store, logger *slog.Logger) *wahoo.Service {
	limiter := wahoo.NewQuotaLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	client := wahoo.NewClient(cfg.Credentials(), nil, logger, limiter)

	return wahoo.NewService(client, store, cfg.AccountID, logger)
}

func openStore(cfg *config.Config) (*state.Store, error) {
	if cfg.StateDB != "" {
		return state.LoadAt(cfg.StateDB)
	}

	return state.Load()
}

// uploadRoute pushes a GPX file as a new route. The external id defaults to
// the file name so re-uploading the same file trips the conflict signal
// instead of creating duplicates.
func uploadRoute(ctx context.Context, svc *wahoo.Service, path, externalID string) error {
	if path == "" {
		return fmt.Errorf("upload requires a GPX file path")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening route file: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if externalID == "" {
		externalID = filepath.Base(path)
	}

	route, err := svc.UploadRoute(ctx, wahoo.RouteUpload{
		Name:       name,
		ExternalID: externalID,
		FileName:   filepath.Base(path),
		File:       f,
	})
	if err != nil {
		return err
	}

	return printJSON(route)
}

// status fetches the profile and the route list concurrently, one service
// per goroutine; services share only the token store.
func status(ctx context.Context, cfg *config.Config, store *state.Store, logger *slog.Logger) error {
	var (
		user   map[string]any
		routes []map[string]any
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		user, err = newService(cfg, store, logger).GetUser(gctx)

		return err
	})

	g.Go(func() error {
		var err error
		routes, err = newService(cfg, store, logger).GetRoutes(gctx, "")

		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	return printJSON(map[string]any{
		"user":   user,
		"routes": routes,
	})
}

func arg(i int) string {
	if len(os.Args) > i {
		return os.Args[i]
	}

	return ""
}

func parseID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("route id is required")
	}

	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid route id %q", s)
	}

	return id, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))

	return nil
}
