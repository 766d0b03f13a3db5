// Command trustctl performs administrative tasks against the shared
// database: schema migrations, organization creation and password resets.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trustline/trustline/internal/auth"
	"github.com/trustline/trustline/internal/logging"
	"github.com/trustline/trustline/internal/migrate"
	"github.com/trustline/trustline/internal/model"
	"github.com/trustline/trustline/internal/repository"
)

const usage = `usage: trustctl [-database-url URL] <command> [args]

commands:
  migrate up                 apply all pending migrations
  migrate down <version>     roll back to version
  migrate status             list migrations and whether they are applied
  create-org <name>          create an organization and print its id
  set-password <email>       create or reset a login credential; the
                             password is read from TRUSTCTL_PASSWORD or stdin
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "trustctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("trustctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}
	if err := checkArgs(rest); err != nil {
		return err
	}
	if *databaseURL == "" {
		return errors.New("DATABASE_URL or -database-url is required")
	}

	logger := logging.New(stderr, *logLevel, "text")

	var err error
	switch rest[0] {
	case "migrate":
		err = runMigrate(ctx, *databaseURL, rest[1:], stdout, logger)
	case "create-org":
		err = createOrg(ctx, *databaseURL, rest[1], stdout)
	case "set-password":
		err = setPassword(ctx, *databaseURL, rest[1], stdin, stdout, logger)
	}
	if err != nil {
		return errors.New(logging.SanitizeError(err, *databaseURL))
	}
	return nil
}

// checkArgs validates the command line before anything touches the database.
func checkArgs(args []string) error {
	switch args[0] {
	case "migrate":
		if len(args) < 2 {
			return errUsage
		}
		switch args[1] {
		case "up", "status":
			if len(args) != 2 {
				return errUsage
			}
		case "down":
			if len(args) != 3 {
				return errUsage
			}
			if _, err := strconv.ParseInt(args[2], 10, 64); err != nil {
				return errUsage
			}
		default:
			return errUsage
		}
	case "create-org", "set-password":
		if len(args) != 2 || strings.TrimSpace(args[1]) == "" {
			return errUsage
		}
	default:
		return errUsage
	}
	return nil
}

func runMigrate(ctx context.Context, databaseURL string, args []string, stdout io.Writer, logger *slog.Logger) error {
	runner, err := migrate.Open(ctx, databaseURL, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	switch args[0] {
	case "up":
		if err := runner.Up(ctx); err != nil {
			return err
		}
	case "down":
		version, _ := strconv.ParseInt(args[1], 10, 64)
		if err := runner.DownTo(ctx, version); err != nil {
			return err
		}
	case "status":
		statuses, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			state := "pending"
			if st.Applied {
				state = "applied"
			}
			fmt.Fprintf(stdout, "%-8s %s\n", state, st.Path)
		}
		return nil
	}

	version, err := runner.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "schema version %d\n", version)
	return nil
}

func createOrg(ctx context.Context, databaseURL, name string, stdout io.Writer) error {
	repo, err := repository.New(ctx, databaseURL, repository.Options{MaxConns: 2, MinConns: 1})
	if err != nil {
		return err
	}
	defer repo.Close()

	now := time.Now().UTC()
	org := &model.Organization{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateOrganization(ctx, org); err != nil {
		return err
	}

	fmt.Fprintln(stdout, org.ID)
	return nil
}

func setPassword(ctx context.Context, databaseURL, email string, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	password, err := readPassword(stdin)
	if err != nil {
		return err
	}

	repo, err := repository.New(ctx, databaseURL, repository.Options{MaxConns: 2, MinConns: 1})
	if err != nil {
		return err
	}
	defer repo.Close()

	cred, err := auth.NewCredentialStore(repo, logger).SetPassword(ctx, email, password)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "password set for %s (%s)\n", cred.Email, cred.ID)
	return nil
}

// readPassword prefers TRUSTCTL_PASSWORD so the secret never sits in argv.
func readPassword(stdin io.Reader) (string, error) {
	if pw := os.Getenv("TRUSTCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}
