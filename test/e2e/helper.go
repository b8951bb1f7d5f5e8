package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/hamasaki/kengen/internal/handlers"
	"github.com/hamasaki/kengen/internal/infrastructure/config"
	"github.com/hamasaki/kengen/internal/infrastructure/database"
	"github.com/hamasaki/kengen/internal/repositories/postgres"
	"github.com/hamasaki/kengen/internal/services"
)

// E2ETestServer hosts the permission API over a live test database.
type E2ETestServer struct {
	Server *httptest.Server
	DB     *sql.DB

	projects    *postgres.PostgresProjectRepository
	teams       *postgres.PostgresTeamRepository
	memberships *postgres.PostgresMembershipRepository
}

// SetupE2ETest sets up an E2E test environment against the test database
func SetupE2ETest(t *testing.T) *E2ETestServer {
	t.Helper()

	config.InitConfig("test")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	projectRoot, err := findProjectRoot()
	if err != nil {
		t.Fatalf("failed to find project root: %v", err)
	}
	migrationsPath := filepath.Join(projectRoot, "internal/infrastructure/database/migrations/postgres")
	if err := pg.RunMigrations(migrationsPath); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cleanupDatabase(t, pg.DB)

	permRepo := postgres.NewPostgresPermissionRepository(pg.DB)
	memberRepo := postgres.NewPostgresMembershipRepository(pg.DB)
	projectRepo := postgres.NewPostgresProjectRepository(pg.DB)
	teamRepo := postgres.NewPostgresTeamRepository(pg.DB)

	service := services.NewPermissionService(permRepo, memberRepo, projectRepo, teamRepo)

	router := mux.NewRouter()
	handlers.NewPermissionHandler(service, nil).RegisterRoutes(router)

	return &E2ETestServer{
		Server:      httptest.NewServer(router),
		DB:          pg.DB,
		projects:    projectRepo.(*postgres.PostgresProjectRepository),
		teams:       teamRepo.(*postgres.PostgresTeamRepository),
		memberships: memberRepo.(*postgres.PostgresMembershipRepository),
	}
}

// Teardown cleans up the E2E test environment
func (e *E2ETestServer) Teardown(t *testing.T) {
	t.Helper()

	if e.Server != nil {
		e.Server.Close()
	}
	if e.DB != nil {
		cleanupDatabase(t, e.DB)
		e.DB.Close()
	}
}

// CreateProject provisions a project fixture with a fresh configuration id
func (e *E2ETestServer) CreateProject(t *testing.T, projectID string) {
	t.Helper()
	if err := e.projects.Create(context.Background(), projectID, uuid.NewString()); err != nil {
		t.Fatalf("failed to create project fixture: %v", err)
	}
}

// CreateTeam provisions a team fixture
func (e *E2ETestServer) CreateTeam(t *testing.T, projectID, teamID string) {
	t.Helper()
	if err := e.teams.Create(context.Background(), projectID, teamID); err != nil {
		t.Fatalf("failed to create team fixture: %v", err)
	}
}

// CreateMember provisions a team membership fixture
func (e *E2ETestServer) CreateMember(t *testing.T, projectID, userID, teamID string) {
	t.Helper()
	if err := e.memberships.CreateMember(context.Background(), projectID, userID, teamID); err != nil {
		t.Fatalf("failed to create membership fixture: %v", err)
	}
}

// DoJSON sends a JSON request to the test server and decodes the response
// body into out when out is non-nil. It returns the response status code.
func (e *E2ETestServer) DoJSON(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, e.Server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("failed to read response body: %v", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				t.Fatalf("failed to decode response %s: %v", string(raw), err)
			}
		}
	}

	return resp.StatusCode
}

// cleanupDatabase removes all data from the test database
func cleanupDatabase(t *testing.T, db *sql.DB) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Delete in dependency order
	tables := []string{
		"team_member_direct_permissions",
		"team_members",
		"permission_edges",
		"permissions",
		"teams",
		"projects",
	}
	for _, table := range tables {
		query := fmt.Sprintf("DELETE FROM %s", table)
		if _, err := db.ExecContext(ctx, query); err != nil {
			t.Logf("warning: failed to clean up table %s: %v", table, err)
		}
	}
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("project root not found")
		}
		dir = parent
	}
}
