// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package admin provides a password protected https server to send commands to
// a running escrow engine.
package admin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/morphaNFT/marker-maker/dex"
	dexeth "github.com/morphaNFT/marker-maker/dex/networks/eth"
	"github.com/morphaNFT/marker-maker/server/db"
	"github.com/morphaNFT/marker-maker/server/escrow"
	"golang.org/x/time/rate"
)

const (
	// rpcTimeoutSeconds is the number of seconds a connection to the
	// server is allowed to stay open without authenticating before it
	// is closed.
	rpcTimeoutSeconds = 10

	// opTimeout bounds an engine operation started by a request. Operations
	// that move value on chain wait for mining, so this is much longer than
	// the connection timeouts.
	opTimeout = 10 * time.Minute

	// After authFailBurst failed logins, one more attempt is allowed every
	// authFailInterval.
	authFailBurst    = 5
	authFailInterval = 10 * time.Second
)

var log = dex.Disabled

// UseLogger sets the logger for the admin package.
func UseLogger(logger dex.Logger) {
	log = logger
}

// SvrCore is satisfied by escrow.Engine.
type SvrCore interface {
	Roles() *escrow.Roles
	LastErr() error
	Address() common.Address
	Balance(account, token common.Address) *big.Int
	Balances() []*db.Balance
	Binding(account common.Address) *escrow.Binding
	IsApproved(token common.Address) bool
	IsTokenAllowed(token common.Address) bool
	Records(filter *db.RecordFilter) ([]*db.Record, error)
	DepositNative(ctx context.Context, depositor common.Address, value *big.Int, p *escrow.DepositParams) error
	DepositToken(ctx context.Context, depositor, token common.Address, amount *big.Int, p *escrow.DepositParams) error
	Fulfill(ctx context.Context, caller common.Address, args *dexeth.FulfillArgs) (*escrow.Fulfillment, error)
	RefundNative(ctx context.Context, caller, account common.Address) (*big.Int, error)
	RefundToken(ctx context.Context, caller, account, token common.Address) (*big.Int, error)
	DeductGasFee(ctx context.Context, caller, account common.Address, amount *big.Int) error
	SetOperator(ctx context.Context, caller, newOperator common.Address) error
	SetDeductionAgent(ctx context.Context, caller, newAgent common.Address) error
	SetAdministrator(ctx context.Context, caller, newAdmin common.Address) error
	Activate(ctx context.Context, caller common.Address) error
	Deactivate(ctx context.Context, caller common.Address) error
	SetTokenAllowed(ctx context.Context, caller, token common.Address, allowed bool) error
	ApproveToken(ctx context.Context, caller, token common.Address) error
}

var _ SvrCore = (*escrow.Engine)(nil)

// Server is a multi-client https server.
type Server struct {
	core      SvrCore
	caller    common.Address
	addr      string
	tlsConfig *tls.Config
	srv       *http.Server
	authSHA   [32]byte
	authFails *rate.Limiter
}

// SrvConfig holds variables needed to create a new Server.
type SrvConfig struct {
	Core SvrCore
	// Caller is the identity the server presents to the engine for
	// privileged operations.
	Caller          common.Address
	Addr, Cert, Key string
	AuthSHA         [32]byte
}

// NewServer is the constructor for a new Server.
func NewServer(cfg *SrvConfig) (*Server, error) {
	// Find the key pair.
	if !dex.FileExists(cfg.Key) || !dex.FileExists(cfg.Cert) {
		return nil, fmt.Errorf("missing certificates")
	}

	keypair, err := tls.LoadX509KeyPair(cfg.Cert, cfg.Key)
	if err != nil {
		return nil, err
	}

	// Prepare the TLS configuration.
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{keypair},
		MinVersion:   tls.VersionTLS12,
	}

	s := newServer(cfg)
	s.tlsConfig = tlsConfig
	return s, nil
}

func newServer(cfg *SrvConfig) *Server {
	// Create an HTTP router.
	mux := chi.NewRouter()
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: rpcTimeoutSeconds * time.Second, // slow requests should not hold connections opened
		ReadTimeout:       rpcTimeoutSeconds * time.Second,
		WriteTimeout:      opTimeout + rpcTimeoutSeconds*time.Second, // hung responses must die
	}

	// Make the server.
	s := &Server{
		core:      cfg.Core,
		caller:    cfg.Caller,
		srv:       httpServer,
		addr:      cfg.Addr,
		authSHA:   cfg.AuthSHA,
		authFails: rate.NewLimiter(rate.Every(authFailInterval), authFailBurst),
	}

	// Middleware
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.RealIP)
	mux.Use(oneTimeConnection)
	mux.Use(s.authMiddleware)

	// api endpoints
	mux.Route("/api", func(r chi.Router) {
		r.Get("/ping", s.apiPing)
		r.Get("/state", s.apiState)
		r.Get("/balance/{"+accountKey+"}", s.apiBalance)
		r.Get("/binding/{"+accountKey+"}", s.apiBinding)
		r.Get("/records", s.apiRecords)

		r.Group(func(rj chi.Router) {
			rj.Use(middleware.AllowContentType("application/json"))
			rj.Post("/deposit/native", s.apiDepositNative)
			rj.Post("/deposit/token", s.apiDepositToken)
			rj.Post("/fulfill", s.apiFulfill)
			rj.Post("/refund/native", s.apiRefundNative)
			rj.Post("/refund/token", s.apiRefundToken)
			rj.Post("/gasfee", s.apiGasFee)
			rj.Post("/roles/operator", s.apiSetOperator)
			rj.Post("/roles/agent", s.apiSetDeductionAgent)
			rj.Post("/roles/admin", s.apiSetAdministrator)
			rj.Post("/tokens/allowed", s.apiSetTokenAllowed)
			rj.Post("/tokens/approve", s.apiApproveToken)
		})
		r.Post("/activate", s.apiActivate)
		r.Post("/deactivate", s.apiDeactivate)
	})

	return s
}

// Run starts the server.
func (s *Server) Run(ctx context.Context) {
	// Create listener.
	listener, err := tls.Listen("tcp", s.addr, s.tlsConfig)
	if err != nil {
		log.Errorf("can't listen on %s. admin server quitting: %v", s.addr, err)
		return
	}

	// Close the listener on context cancellation.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		if err := s.srv.Shutdown(context.Background()); err != nil {
			// Error from closing listeners:
			log.Errorf("HTTP server Shutdown: %v", err)
		}
	}()
	log.Infof("admin server listening on %s", s.addr)
	if err := s.srv.Serve(listener); err != http.ErrServerClosed {
		log.Warnf("unexpected (http.Server).Serve error: %v", err)
	}

	// Wait for Shutdown.
	wg.Wait()
	log.Infof("admin server off")
}

// oneTimeConnection sets fields in the header and request that indicate this
// connection should not be reused.
func oneTimeConnection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		r.Close = true
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks incoming requests for authentication. Once the failure
// budget is spent, every request is refused until it refills.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authFails.Tokens() < 1 {
			log.Warnf("refusing request from ip %s: too many authentication failures", r.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		// User is ignored.
		_, pass, ok := r.BasicAuth()
		authSHA := sha256.Sum256([]byte(pass))
		if !ok || subtle.ConstantTimeCompare(s.authSHA[:], authSHA[:]) != 1 {
			s.authFails.Allow()
			log.Warnf("server authentication failure from ip: %s", r.RemoteAddr)
			w.Header().Add("WWW-Authenticate", `Basic realm="escrow admin"`)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		log.Debugf("server authenticated ip: %s", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
