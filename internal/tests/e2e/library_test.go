//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/libraryd/apiserver/config"
	"github.com/libraryd/apiserver/internal/db"
	"github.com/libraryd/apiserver/internal/server"
)

const (
	serverPort = 18080
)

var (
	baseURL = fmt.Sprintf("http://localhost:%d", serverPort)
	dbConn  *sql.DB
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("library_db"),
		postgres.WithUsername("library"),
		postgres.WithPassword("library"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}
	terminate := func() { _ = pgContainer.Terminate(context.Background()) }

	cfg, err := configFor(ctx, pgContainer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build config: %v\n", err)
		terminate()
		os.Exit(1)
	}

	dbConn, err = db.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		terminate()
		os.Exit(1)
	}
	if err := db.MigrateUp(dbConn, zap.NewNop()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		terminate()
		os.Exit(1)
	}

	srv, err := server.New(ctx, cfg, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		terminate()
		os.Exit(1)
	}
	go func() {
		_ = srv.Start()
	}()

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		terminate()
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	terminate()
	os.Exit(code)
}

func configFor(ctx context.Context, c *postgres.PostgresContainer) (config.Config, error) {
	host, err := c.Host(ctx)
	if err != nil {
		return config.Config{}, err
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return config.Config{}, err
	}

	cfg := config.LoadConfig()
	cfg.ServerPort = serverPort
	cfg.Database = config.DatabaseConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "library",
		Password: "library",
		DBName:   "library_db",
	}
	cfg.Auth.JWTSecret = "e2e-test-secret-0123456789"
	cfg.Redis = config.RedisConfig{}
	cfg.MQ.Backend = ""
	cfg.Storage.Backend = ""
	return cfg, nil
}

func TestLibraryLifecycle(t *testing.T) {
	suffix := time.Now().UnixNano()
	student := fmt.Sprintf("student_%d", suffix)
	librarian := fmt.Sprintf("librarian_%d", suffix)
	password := "testpass123!"

	registerUser(t, student, password)
	registerUser(t, librarian, password)
	if err := promoteUser(librarian, "Librarian"); err != nil {
		t.Fatalf("promote user: %v", err)
	}

	studentToken := login(t, student, password)
	librarianToken := login(t, librarian, password)

	var added struct {
		Book struct {
			ID int `json:"id"`
		} `json:"book"`
	}
	call(t, http.MethodPost, "/librarian/add_book", librarianToken, map[string]string{
		"title":  "The Left Hand of Darkness",
		"author": "Ursula K. Le Guin",
		"isbn":   fmt.Sprintf("isbn-%d", suffix),
	}, http.StatusCreated, &added)
	if added.Book.ID == 0 {
		t.Fatalf("expected book ID to be set")
	}

	var borrowed struct {
		Borrow struct {
			ID int `json:"id"`
		} `json:"borrow"`
	}
	call(t, http.MethodPost, fmt.Sprintf("/borrow_book/%d", added.Book.ID), studentToken, nil, http.StatusCreated, &borrowed)
	call(t, http.MethodPost, fmt.Sprintf("/borrow_book/%d", added.Book.ID), studentToken, nil, http.StatusConflict, nil)

	borrowPath := fmt.Sprintf("/%d", borrowed.Borrow.ID)
	call(t, http.MethodPost, "/approve_return"+borrowPath, librarianToken, nil, http.StatusConflict, nil)
	call(t, http.MethodPost, "/request_return"+borrowPath, studentToken, nil, http.StatusOK, nil)
	call(t, http.MethodPost, "/approve_return"+borrowPath, librarianToken, nil, http.StatusOK, nil)

	var available bool
	if err := dbConn.QueryRow(`SELECT is_available FROM books WHERE id = $1`, added.Book.ID).Scan(&available); err != nil {
		t.Fatalf("load book: %v", err)
	}
	if !available {
		t.Fatalf("expected book to be available after approved return")
	}

	call(t, http.MethodPost, fmt.Sprintf("/delete_book/%d", added.Book.ID), librarianToken, nil, http.StatusOK, nil)
	call(t, http.MethodGet, "/logout", studentToken, nil, http.StatusOK, nil)
	call(t, http.MethodGet, "/student_dashboard", studentToken, nil, http.StatusUnauthorized, nil)
}

func registerUser(t *testing.T, username, password string) {
	t.Helper()
	call(t, http.MethodPost, "/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}, http.StatusCreated, nil)
}

func login(t *testing.T, username, password string) string {
	t.Helper()
	var parsed struct {
		Token string `json:"token"`
	}
	call(t, http.MethodPost, "/login", "", map[string]string{
		"email":    username + "@example.com",
		"password": password,
	}, http.StatusOK, &parsed)
	if parsed.Token == "" {
		t.Fatalf("missing token in login response")
	}
	return parsed.Token
}

func promoteUser(username, role string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := dbConn.ExecContext(ctx, `
		UPDATE users SET role_id = (SELECT id FROM roles WHERE name = $1), updated_at = NOW()
		WHERE username = $2`, role, username)
	return err
}

func call(t *testing.T, method, path, token string, payload any, wantStatus int, out any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, wantStatus, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}
