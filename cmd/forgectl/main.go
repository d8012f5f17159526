// Command forgectl is the developer-facing CLI: scaffold a project,
// manage migrations, and exercise a running node locally. No CLI
// framework is used, the same plain os.Args[1] dispatch the job
// scheduler this runtime descends from's cmd/seed uses for its own
// single-purpose entrypoint, generalized here to a handful of verbs.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/forgehq/forge/config"
	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/infrastructure/postgres"
	"github.com/forgehq/forge/internal/jobqueue"
	ctxlog "github.com/forgehq/forge/internal/log"
	"github.com/forgehq/forge/internal/migrations"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "new":
		err = cmdNew(os.Args[2:])
	case "init":
		err = cmdInit(os.Args[2:])
	case "add":
		err = cmdAdd(os.Args[2:])
	case "generate":
		err = cmdGenerate(os.Args[2:])
	case "run":
		err = cmdRun(os.Args[2:])
	case "migrate":
		err = cmdMigrate(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("forgectl: %v", err)
	}
}

func usage() {
	fmt.Println(`forgectl — FORGE project CLI

Usage:
  forgectl new <name>         scaffold a new project directory
  forgectl init               create forge.toml in the current directory
  forgectl add <function>     scaffold a new function file
  forgectl generate           emit a typed client for registered functions
  forgectl run                seed demo jobs against a running node
  forgectl migrate up         apply pending migrations
  forgectl migrate down       revert the most recent migration
  forgectl migrate status     list applied migrations`)
}

const forgeTOMLTemplate = `[database]
url = "postgres://localhost:5432/forge?sslmode=disable"
max_conns = 25
min_conns = 5

[gateway]
port = 8080

[cluster]
roles = ["scheduler"]
worker_count = 5

[observability]
flush_interval_sec = 10
batch_size = 500
tracing_enabled = false
`

const exampleFunctionTemplate = `package functions

// %s is a generated stub. Register it against a router.Registry in
// cmd/forge/main.go with RegisterQuery, RegisterMutation, or RegisterAction
// depending on what it does.
`

// cmdNew scaffolds a new project directory: forge.toml plus a functions/
// package ready to receive forgectl add output.
func cmdNew(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: forgectl new <name>")
	}
	name := args[0]
	if err := os.MkdirAll(filepath.Join(name, "functions"), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(name, "forge.toml"), []byte(forgeTOMLTemplate), 0o644); err != nil {
		return err
	}
	fmt.Printf("created %s/ with forge.toml and functions/\n", name)
	fmt.Println("next: cd", name, "&& forgectl migrate up")
	return nil
}

// cmdInit writes a forge.toml into the current directory if one does not
// already exist.
func cmdInit(_ []string) error {
	if _, err := os.Stat("forge.toml"); err == nil {
		return fmt.Errorf("forge.toml already exists")
	}
	if err := os.WriteFile("forge.toml", []byte(forgeTOMLTemplate), 0o644); err != nil {
		return err
	}
	fmt.Println("wrote forge.toml")
	return nil
}

// cmdAdd scaffolds a function file under functions/.
func cmdAdd(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: forgectl add <function-name>")
	}
	name := args[0]
	path := filepath.Join("functions", name+".go")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll("functions", 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf(exampleFunctionTemplate, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

// cmdGenerate emits a minimal typed client over the functions this
// project registers. A full schema-driven client generator is out of
// scope; this writes one file enumerating the built-in functions every
// node ships (forge.health, forge.send_email) as a template for project
// functions to extend by hand.
func cmdGenerate(_ []string) error {
	const client = `// Code generated by forgectl generate. Edit by hand as needed.
package client

type HealthResult struct {
	Status string ` + "`json:\"status\"`" + `
}

type SendEmailArgs struct {
	To      string ` + "`json:\"to\"`" + `
	Subject string ` + "`json:\"subject\"`" + `
	Body    string ` + "`json:\"body\"`" + `
}
`
	if err := os.WriteFile("forge_client.go", []byte(client), 0o644); err != nil {
		return err
	}
	fmt.Println("wrote forge_client.go")
	return nil
}

// cmdRun connects to the configured database and enqueues a handful of
// demo email_send jobs, the same "exercise a running node locally" role
// the job scheduler this runtime descends from's cmd/seed plays, adapted
// from hardcoded HTTP fixtures to FORGE's typed job queue.
func cmdRun(_ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(ctxlog.NewContextHandler(slog.NewTextHandler(os.Stdout, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	queue := jobqueue.New(postgres.NewJobRepo(pool))

	recipients := []string{"ada@example.com", "grace@example.com", "margaret@example.com"}
	var enqueued int
	for i, to := range recipients {
		args := map[string]string{
			"to":      to,
			"subject": "forgectl demo",
			"body":    fmt.Sprintf("demo job #%d from forgectl run", i+1),
		}
		job, err := queue.Enqueue(ctx, jobqueue.EnqueueRequest{
			Type:           "email_send",
			Args:           args,
			Priority:       50,
			MaxAttempts:    3,
			Backoff:        domain.BackoffExponential,
			BaseBackoff:    time.Second,
			MaxBackoff:     time.Minute,
			IdempotencyKey: "forgectl-demo-" + strconv.Itoa(i),
		})
		if err != nil {
			logger.Warn("enqueue failed", "to", to, "error", err)
			continue
		}
		logger.Info("enqueued demo job", "job_id", job.ID, "to", to)
		enqueued++
	}

	fmt.Printf("\nenqueued %d demo email_send jobs\n", enqueued)
	fmt.Println("run a node (go run ./cmd/forge) to see workers pick them up")
	fmt.Println(`check status: curl -s http://localhost:8080/forge/status`)
	return nil
}

// cmdMigrate wraps migrations.Runner's up/down/status operations for
// manual operator use outside the node's own startup-time Up call.
func cmdMigrate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: forgectl migrate (up | down | status)")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(ctxlog.NewContextHandler(slog.NewTextHandler(os.Stdout, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	runner := migrations.NewRunner(pool, postgres.NewMigrationRepo(pool), logger)

	switch args[0] {
	case "up":
		if err := runner.Up(ctx, nil); err != nil {
			return err
		}
		fmt.Println("migrations applied")
	case "down":
		m, err := runner.Down(ctx)
		if err != nil {
			return err
		}
		if m == nil {
			fmt.Println("nothing to revert")
			return nil
		}
		fmt.Printf("reverted %s_%s\n", m.Version, m.Name)
	case "status":
		applied, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%-6s %-30s %-20s\n", "VERSION", "NAME", "APPLIED AT")
		for _, m := range applied {
			fmt.Printf("%-6s %-30s %-20s\n", m.Version, m.Name, m.AppliedAt.Format(time.RFC3339))
		}
	default:
		return fmt.Errorf("unknown migrate subcommand %q", args[0])
	}
	return nil
}
