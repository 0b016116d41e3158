// Package container runs throwaway Redis and Postgres containers for the
// integration suites. Callers skip their suite when Setup reports an error.
package container

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Spec describes one container to run.
type Spec struct {
	Name      string
	Image     string
	HostPort  string
	InnerPort string
	Env       map[string]string
	Ready     func(ctx context.Context) error
}

// Container tracks the lifecycle of one Spec.
type Container struct {
	spec     Spec
	once     sync.Once
	setupErr error
}

// New wraps spec without starting anything.
func New(spec Spec) *Container { return &Container{spec: spec} }

// Addr returns the host:port the container is published on.
func (c *Container) Addr() string { return "127.0.0.1:" + c.spec.HostPort }

// Setup starts the container once and waits for its readiness probe.
func (c *Container) Setup() error {
	c.once.Do(func() {
		if _, err := exec.LookPath("docker"); err != nil {
			c.setupErr = fmt.Errorf("docker executable not found: %w", err)
			return
		}
		_ = c.stop()
		args := []string{"run", "-d", "--rm", "--name", c.spec.Name,
			"-p", fmt.Sprintf("%s:%s", c.spec.HostPort, c.spec.InnerPort)}
		for k, v := range c.spec.Env {
			args = append(args, "-e", k+"="+v)
		}
		args = append(args, c.spec.Image)
		if err := runDocker(args...); err != nil {
			c.setupErr = err
			return
		}
		if c.spec.Ready == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.spec.Ready(ctx); err != nil {
			_ = c.stop()
			c.setupErr = err
		}
	})
	return c.setupErr
}

// Teardown stops the container if Setup succeeded.
func (c *Container) Teardown() error {
	if c.setupErr != nil {
		return c.setupErr
	}
	return c.stop()
}

func (c *Container) stop() error {
	output, err := exec.Command("docker", "stop", c.spec.Name).CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "No such container") {
			return nil
		}
		return fmt.Errorf("docker stop failed: %w: %s", err, output)
	}
	return nil
}

func runDocker(args ...string) error {
	output, err := exec.Command("docker", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s failed: %w: %s", args[0], err, output)
	}
	return nil
}

// Redis returns a Redis 7 container published on port 6390.
func Redis() *Container {
	c := &Container{}
	c.spec = Spec{
		Name:      "crmkit-redis-test",
		Image:     "redis:7-alpine",
		HostPort:  "6390",
		InnerPort: "6379",
	}
	c.spec.Ready = func(ctx context.Context) error { return waitForRedis(ctx, c.Addr()) }
	return c
}

const (
	postgresUser     = "crmkit"
	postgresPassword = "crmkit"
	postgresDB       = "crmkit_test"
)

// Postgres returns a Postgres 16 container published on port 5439.
func Postgres() *Container {
	c := &Container{}
	c.spec = Spec{
		Name:      "crmkit-postgres-test",
		Image:     "postgres:16-alpine",
		HostPort:  "5439",
		InnerPort: "5432",
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
	}
	c.spec.Ready = func(ctx context.Context) error { return waitForPostgres(ctx, PostgresDSN(c)) }
	return c
}

// PostgresDSN builds the lib/pq connection string for a Postgres container.
func PostgresDSN(c *Container) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", postgresUser, postgresPassword, c.Addr(), postgresDB)
}

func waitForRedis(ctx context.Context, addr string) error {
	payload := []byte("*1\r\n$4\r\nPING\r\n")
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			if _, err := conn.Write(payload); err == nil {
				_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err == nil && strings.Contains(line, "PONG") {
					_ = conn.Close()
					return nil
				}
			}
			_ = conn.Close()
		}
		select {
		case <-ctx.Done():
			return errors.New("redis container did not respond to ping")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func waitForPostgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	for {
		if err := db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New("postgres container did not accept connections")
		case <-time.After(200 * time.Millisecond):
		}
	}
}
