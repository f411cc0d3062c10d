// Command tf is a CLI client for the TaskFlow service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/taskflow/internal/cache"
	"github.com/and161185/taskflow/internal/client"
	"github.com/and161185/taskflow/internal/config"
	"github.com/and161185/taskflow/internal/errs"
	"github.com/and161185/taskflow/internal/model"
	"github.com/and161185/taskflow/internal/service"
	"github.com/and161185/taskflow/internal/session"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `tf CLI
Usage:
  tf [-api URL] [-v] <cmd> [args]

Commands:
  version
  login      -u <username> -p <password>          (saves session)
  logout
  whoami
  list       [-status S] [-priority P] [-page N] [-per-page N]
  get        -id <n>
  add        -title T [-desc D] [-status S] [-priority P] [-due RFC3339] [-assignee N]
  edit       -id <n> [-title T] [-desc D] [-status S] [-priority P] [-due RFC3339] [-assignee N]
  rm         -id <n>
  users
  health
`)
	os.Exit(2)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// app bundles the initialized core components in their startup order:
// config, adapter, store (restore runs before any command).
type app struct {
	store *session.Store
	tasks *service.Tasks
	users *service.Users
	api   *client.Client
}

func initApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	cl, err := client.New(client.Options{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RetryAttempts:     cfg.RetryAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	store := session.New(cl, session.NewFileStorage(cfg.StateDir), logger)

	// The login boundary: any 401 wipes the session and aborts the run,
	// no matter which call triggered it.
	cl.OnSessionExpired(func() {
		store.Expire()
		fmt.Fprintln(os.Stderr, "session expired; run 'tf login'")
		os.Exit(1)
	})
	store.Restore()

	qc := cache.New(logger)
	return &app{
		store: store,
		tasks: service.NewTasks(cl, qc, logger),
		users: service.NewUsers(cl, qc),
		api:   cl,
	}, nil
}

func (a *app) requireSession() {
	if !a.store.Current().LoggedIn() {
		fail(errs.ErrNoSession)
	}
}

func main() {
	apiURL := flag.String("api", "", "API base URL (overrides TASKFLOW_API_URL)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	if cmd == "version" {
		fmt.Printf("tf %s (%s)\n", version, buildDate)
		return
	}

	cfg := config.Load()
	if *apiURL != "" {
		cfg.BaseURL = *apiURL
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	a, err := initApp(cfg, logger)
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		u := fs.String("u", "", "username")
		p := fs.String("p", "", "password")
		_ = fs.Parse(args)
		if *u == "" || *p == "" {
			fmt.Fprintln(os.Stderr, "need -u and -p")
			os.Exit(1)
		}
		if err := a.store.Login(ctx, *u, *p); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "logout":
		a.store.Logout()
		fmt.Println("ok")

	case "whoami":
		sess := a.store.Current()
		if !sess.LoggedIn() {
			fail(errs.ErrNoSession)
		}
		printJSON(sess.User)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		status := fs.String("status", "", "filter by status")
		priority := fs.String("priority", "", "filter by priority")
		page := fs.Int("page", 0, "page number")
		perPage := fs.Int("per-page", 0, "items per page")
		_ = fs.Parse(args)

		a.requireSession()
		out, err := a.tasks.List(ctx, service.ListParams{
			Status:   model.TaskStatus(*status),
			Priority: model.TaskPriority(*priority),
			Page:     *page,
			PerPage:  *perPage,
		})
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "get":
		fs := flag.NewFlagSet("get", flag.ExitOnError)
		id := fs.Int64("id", 0, "task id")
		_ = fs.Parse(args)
		if *id <= 0 {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		a.requireSession()
		out, err := a.tasks.Get(ctx, *id)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		title := fs.String("title", "", "task title")
		desc := fs.String("desc", "", "description")
		status := fs.String("status", "", "status")
		priority := fs.String("priority", "", "priority")
		due := fs.String("due", "", "due date (RFC3339)")
		assignee := fs.Int64("assignee", 0, "assignee user id")
		_ = fs.Parse(args)
		if *title == "" {
			fmt.Fprintln(os.Stderr, "need -title")
			os.Exit(1)
		}

		in := model.TaskCreate{
			Title:    *title,
			Status:   model.TaskStatus(*status),
			Priority: model.TaskPriority(*priority),
		}
		if *desc != "" {
			in.Description = desc
		}
		if *due != "" {
			d, err := time.Parse(time.RFC3339, *due)
			if err != nil {
				fail(fmt.Errorf("bad -due: %w", err))
			}
			in.DueDate = &d
		}
		if *assignee > 0 {
			in.AssigneeID = assignee
		}

		a.requireSession()
		out, err := a.tasks.Create(ctx, in)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "edit":
		fs := flag.NewFlagSet("edit", flag.ExitOnError)
		id := fs.Int64("id", 0, "task id")
		title := fs.String("title", "", "task title")
		desc := fs.String("desc", "", "description")
		status := fs.String("status", "", "status")
		priority := fs.String("priority", "", "priority")
		due := fs.String("due", "", "due date (RFC3339)")
		assignee := fs.Int64("assignee", 0, "assignee user id")
		_ = fs.Parse(args)
		if *id <= 0 {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}

		// only flags the user actually set end up in the payload
		var in model.TaskUpdate
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "title":
				in.Title = title
			case "desc":
				in.Description = desc
			case "status":
				st := model.TaskStatus(*status)
				in.Status = &st
			case "priority":
				pr := model.TaskPriority(*priority)
				in.Priority = &pr
			case "due":
				d, err := time.Parse(time.RFC3339, *due)
				if err != nil {
					fail(fmt.Errorf("bad -due: %w", err))
				}
				in.DueDate = &d
			case "assignee":
				in.AssigneeID = assignee
			}
		})

		a.requireSession()
		out, err := a.tasks.Update(ctx, *id, in)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "rm":
		fs := flag.NewFlagSet("rm", flag.ExitOnError)
		id := fs.Int64("id", 0, "task id")
		_ = fs.Parse(args)
		if *id <= 0 {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		a.requireSession()
		if err := a.tasks.Delete(ctx, *id); err != nil {
			fail(err)
		}
		fmt.Println("deleted")

	case "users":
		a.requireSession()
		out, err := a.users.List(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "health":
		out, err := service.Health(ctx, a.api)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	default:
		usage()
	}
}
