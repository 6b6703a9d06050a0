package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reportstack/opsctl/internal/backup"
	"github.com/reportstack/opsctl/internal/cert"
	"github.com/reportstack/opsctl/internal/compose"
	"github.com/reportstack/opsctl/internal/config"
	"github.com/reportstack/opsctl/internal/deploy"
	"github.com/reportstack/opsctl/internal/docker"
	"github.com/reportstack/opsctl/internal/logger"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "backup":
		err = commandBackup(args)
	case "deploy":
		err = commandDeploy(args)
	case "bootstrap":
		err = commandBootstrap(args)
	case "down":
		err = commandDown(args)
	case "certs":
		err = commandCerts(args)
	case "status":
		err = commandStatus(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// commonOpts holds the flags every subcommand shares.
type commonOpts struct {
	envFile     *string
	composeFile *string
	verbose     *bool
}

func commonFlags(fs *flag.FlagSet) commonOpts {
	return commonOpts{
		envFile:     fs.String("env-file", ".env", "Path to the environment file"),
		composeFile: fs.String("compose-file", "", "Override the compose file path"),
		verbose:     fs.Bool("verbose", false, "Enable debug logging"),
	}
}

func loadEnvironment(opts commonOpts, component string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(*opts.envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if strings.TrimSpace(*opts.composeFile) != "" {
		cfg.ComposeFile = *opts.composeFile
	}
	level := slog.LevelInfo
	if *opts.verbose {
		level = slog.LevelDebug
	}
	return cfg, logger.New(component, level), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func commandBackup(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: opsctl backup [create|list|prune|delete|restore]")
	}
	sub := args[0]
	switch sub {
	case "create":
		return backupCreate(args[1:])
	case "list":
		return backupList(args[1:])
	case "prune":
		return backupPrune(args[1:])
	case "delete":
		return backupDelete(args[1:])
	case "restore":
		return backupRestore(args[1:])
	default:
		return fmt.Errorf("unknown backup command: %s", sub)
	}
}

func backupCreate(args []string) error {
	fs := flag.NewFlagSet("backup create", flag.ExitOnError)
	opts := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "backup")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	info, err := backup.New(cfg, log).Create(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("backup created: %s (%d bytes)\n", info.Name, info.SizeBytes)
	return nil
}

func backupList(args []string) error {
	fs := flag.NewFlagSet("backup list", flag.ExitOnError)
	opts := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "backup")
	if err != nil {
		return err
	}
	entries, err := backup.New(cfg, log).List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no backups found")
		return nil
	}
	for _, entry := range entries {
		fmt.Printf("%s\t%s\t%d bytes\n", entry.Name, entry.CreatedAt.Format(time.RFC3339), entry.SizeBytes)
	}
	return nil
}

func backupPrune(args []string) error {
	fs := flag.NewFlagSet("backup prune", flag.ExitOnError)
	opts := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "backup")
	if err != nil {
		return err
	}
	removed, err := backup.New(cfg, log).Sweep(time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("removed %d expired backup(s)\n", removed)
	return nil
}

func backupDelete(args []string) error {
	fs := flag.NewFlagSet("backup delete", flag.ExitOnError)
	opts := commonFlags(fs)
	name := fs.String("name", "", "Backup name to delete")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	cfg, log, err := loadEnvironment(opts, "backup")
	if err != nil {
		return err
	}
	if err := backup.New(cfg, log).Delete(*name); err != nil {
		return err
	}
	fmt.Println("backup deleted")
	return nil
}

func backupRestore(args []string) error {
	fs := flag.NewFlagSet("backup restore", flag.ExitOnError)
	opts := commonFlags(fs)
	name := fs.String("name", "", "Backup name to restore")
	database := fs.Bool("database", true, "Restore the relational database")
	vectors := fs.Bool("vectors", true, "Restore the vector store data")
	yes := fs.Bool("yes", false, "Skip the confirmation prompt")
	fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		return errors.New("--name is required")
	}
	if !*yes && !confirm(fmt.Sprintf("restore %q and overwrite current data?", *name)) {
		return errors.New("restore cancelled")
	}

	cfg, log, err := loadEnvironment(opts, "restore")
	if err != nil {
		return err
	}
	runner, err := compose.NewRunner(cfg.ComposeFile, cfg.ComposeProject, "", log)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	restoreOpts := backup.RestoreOptions{Database: *database, VectorStore: *vectors}
	if err := backup.New(cfg, log).Restore(ctx, runner, *name, restoreOpts); err != nil {
		return err
	}
	fmt.Println("restore completed")
	return nil
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	opts := commonFlags(fs)
	skipBackup := fs.Bool("skip-backup", false, "Skip the pre-deploy backup")
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "deploy")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	if cfg.BackupEnabled && !*skipBackup {
		info, err := backup.New(cfg, log).Create(ctx)
		if err != nil {
			return fmt.Errorf("pre-deploy backup: %w", err)
		}
		fmt.Printf("pre-deploy backup: %s\n", info.Name)
	}

	svc, engine, err := newDeployService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := svc.Deploy(ctx); err != nil {
		return err
	}
	fmt.Printf("deployed https://%s\n", cfg.Domain)
	return nil
}

func commandBootstrap(args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ExitOnError)
	opts := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "bootstrap")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	svc, engine, err := newDeployService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := svc.Bootstrap(ctx); err != nil {
		return err
	}
	fmt.Println("local environment ready")
	return nil
}

func commandDown(args []string) error {
	fs := flag.NewFlagSet("down", flag.ExitOnError)
	opts := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "down")
	if err != nil {
		return err
	}
	runner, err := compose.NewRunner(cfg.ComposeFile, cfg.ComposeProject, "", log)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	if err := runner.Down(ctx); err != nil {
		return err
	}
	fmt.Println("stack stopped")
	return nil
}

func commandCerts(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: opsctl certs [issue|renew|status]")
	}
	sub := args[0]
	switch sub {
	case "issue":
		return certsIssue(args[1:])
	case "renew":
		return certsRenew(args[1:])
	case "status":
		return certsStatus(args[1:])
	default:
		return fmt.Errorf("unknown certs command: %s", sub)
	}
}

func certsIssue(args []string) error {
	fs := flag.NewFlagSet("certs issue", flag.ExitOnError)
	opts := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "certs")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	svc, engine, err := newCertService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := svc.Issue(ctx); err != nil {
		return err
	}
	fmt.Printf("certificate issued for %s\n", cfg.Domain)
	return nil
}

func certsRenew(args []string) error {
	fs := flag.NewFlagSet("certs renew", flag.ExitOnError)
	opts := commonFlags(fs)
	force := fs.Bool("force", false, "Renew even when the certificate is not yet due")
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "certs")
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	svc, engine, err := newCertService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	if !*force {
		due, err := svc.NeedsRenewal(time.Now())
		if err != nil {
			return err
		}
		if !due {
			fmt.Println("certificate is not due for renewal")
			return nil
		}
	}
	if err := svc.Renew(ctx); err != nil {
		return err
	}
	fmt.Println("certificate renewed")
	return nil
}

func certsStatus(args []string) error {
	fs := flag.NewFlagSet("certs status", flag.ExitOnError)
	opts := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "certs")
	if err != nil {
		return err
	}
	// Expiry only reads the live certificate; no proxy reload involved.
	svc := cert.New(cfg, nil, nil, "", log)

	expiry, err := svc.Expiry()
	if err != nil {
		return err
	}
	fmt.Printf("%s expires %s (%s remaining)\n", cfg.Domain, expiry.Format(time.RFC3339), time.Until(expiry).Round(time.Hour))
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	opts := commonFlags(fs)
	fs.Parse(args)

	cfg, log, err := loadEnvironment(opts, "status")
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc, engine, err := newDeployService(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer engine.Close()

	statuses, err := svc.Status(ctx)
	if err != nil {
		return err
	}
	for _, st := range statuses {
		line := fmt.Sprintf("%s\t%s\t%s", st.Service, st.Container, st.Health)
		if st.Ports != "" {
			line += "\t" + st.Ports
		}
		if st.Detail != "" {
			line += "\t" + st.Detail
		}
		fmt.Println(line)
	}
	return nil
}

func newEngine(ctx context.Context) (*docker.Client, error) {
	engine, err := docker.New("")
	if err != nil {
		return nil, err
	}
	if err := engine.Ping(ctx); err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

func newDeployService(ctx context.Context, cfg config.Config, log *slog.Logger) (*deploy.Service, *docker.Client, error) {
	file, err := compose.ParseFile(cfg.ComposeFile)
	if err != nil {
		return nil, nil, err
	}
	runner, err := compose.NewRunner(cfg.ComposeFile, cfg.ComposeProject, "", log)
	if err != nil {
		return nil, nil, err
	}
	engine, err := newEngine(ctx)
	if err != nil {
		return nil, nil, err
	}
	return deploy.New(cfg, file, runner, engine, log), engine, nil
}

func newCertService(ctx context.Context, cfg config.Config, log *slog.Logger) (*cert.Service, *docker.Client, error) {
	file, err := compose.ParseFile(cfg.ComposeFile)
	if err != nil {
		return nil, nil, err
	}
	runner, err := compose.NewRunner(cfg.ComposeFile, cfg.ComposeProject, "", log)
	if err != nil {
		return nil, nil, err
	}
	engine, err := newEngine(ctx)
	if err != nil {
		return nil, nil, err
	}
	proxyContainer := file.ContainerName(cfg.ComposeProject, cfg.ProxyService)
	return cert.New(cfg, runner, engine, proxyContainer, log), engine, nil
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func printUsage() {
	fmt.Printf("opsctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	opsctl backup create [--env-file .env] [--compose-file docker-compose.yml]
	opsctl backup list
	opsctl backup prune
	opsctl backup delete --name <backup>
	opsctl backup restore --name <backup> [--database=false] [--vectors=false] [--yes]
	opsctl bootstrap
	opsctl down
	opsctl deploy [--skip-backup]
	opsctl certs issue
	opsctl certs renew [--force]
	opsctl certs status
	opsctl status
	opsctl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
