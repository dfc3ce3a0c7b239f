package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/api"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/auth"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/database"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/model"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/records"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/resource"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "sandbox-secret"
	testIssuer        = "skyportal-sandbox"
	testAudience      = "skyportal-socket"
)

type testSandbox struct {
	server   *httptest.Server
	accounts *users.Service
	records  *records.Service
	realtime *RealtimeDispatcher
	issuer   *auth.TokenIssuer
	admin    users.Account
	alice    users.Account
	bob      users.Account
	scanner  users.Account
}

func newTestSandbox(t *testing.T, logger *zap.Logger) *testSandbox {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "sandbox.db"), logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	accounts, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create account service: %v", err)
	}
	store, err := records.NewService(records.ServiceConfig{
		Database:   db,
		IDProvider: records.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to create records service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		Audience:      testAudience,
	})
	if err != nil {
		t.Fatalf("failed to create token validator: %v", err)
	}

	realtime := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Accounts:       accounts,
		Records:        store,
		SocketTokens:   issuer,
		SocketVerifier: validator,
		Realtime:       realtime,
		Logger:         logger,
		Push:           PushConfig{AuthTimeout: time.Second, PingInterval: 50 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sandbox := &testSandbox{
		server:   server,
		accounts: accounts,
		records:  store,
		realtime: realtime,
		issuer:   issuer,
	}
	sandbox.admin = sandbox.mustAccount(t, users.AccountInput{Username: "admin", Permissions: []string{model.PermissionSystemAdmin}})
	sandbox.alice = sandbox.mustAccount(t, users.AccountInput{Username: "alice", DisplayName: "Alice"})
	sandbox.bob = sandbox.mustAccount(t, users.AccountInput{Username: "bob"})
	sandbox.scanner = sandbox.mustAccount(t, users.AccountInput{Username: "scanner-bot", IsBot: true})
	return sandbox
}

func (s *testSandbox) mustAccount(t *testing.T, input users.AccountInput) users.Account {
	t.Helper()
	account, err := s.accounts.CreateAccount(context.Background(), input)
	if err != nil {
		t.Fatalf("failed to create account %s: %v", input.Username, err)
	}
	return account
}

func (s *testSandbox) client(t *testing.T, account users.Account) *api.Client {
	t.Helper()
	client, err := api.NewClient(api.ClientConfig{BaseURL: s.server.URL, Token: account.APIToken})
	if err != nil {
		t.Fatalf("failed to create api client: %v", err)
	}
	return client
}

func (s *testSandbox) mustPut(t *testing.T, kind resource.Kind, id string, payload any) {
	t.Helper()
	route, err := resource.RouteOf(kind)
	if err != nil {
		t.Fatalf("unknown kind %s: %v", kind, err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	if err := s.client(t, s.admin).Put(context.Background(), api.Path(route.Segment, id), json.RawMessage(raw), nil); err != nil {
		t.Fatalf("failed to put %s/%s: %v", route.Segment, id, err)
	}
}

func authSubject(s *testSandbox) auth.Subject {
	return auth.Subject{UserID: s.bob.ID, Username: s.bob.Username}
}
