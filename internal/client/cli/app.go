// Package cli implements the terminal client: upload and download commands
// with a hidden passphrase prompt.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/skystar-p/hako/internal/client/config"
	"github.com/skystar-p/hako/internal/client/service"
	"github.com/skystar-p/hako/internal/cryptox"
)

type App struct {
	config *config.Config
	client *service.Client
}

func NewApp(cfg *config.Config) *App {
	return &App{
		config: cfg,
		client: service.New(strings.TrimRight(cfg.ServerAddr, "/"), cfg.ChunkSize),
	}
}

// Run dispatches the subcommand. Usage:
//
//	hako upload <file>
//	hako download <file-id>
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: upload <file> | download <file-id>")
	}

	switch args[0] {
	case "upload":
		return a.runUpload(ctx, args[1])
	case "download":
		return a.runDownload(ctx, args[1])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func (a *App) runUpload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	passphrase, err := readPassphrase()
	if err != nil {
		return err
	}
	defer cryptox.Wipe(passphrase)

	id, err := a.client.Upload(ctx, f, filepath.Base(path), passphrase)
	if err != nil {
		return err
	}

	fmt.Printf("uploaded: %s\n", id)
	return nil
}

func (a *App) runDownload(ctx context.Context, id string) error {
	passphrase, err := readPassphrase()
	if err != nil {
		return err
	}
	defer cryptox.Wipe(passphrase)

	// decrypt into a temp file first so a failed authentication never
	// leaves partial plaintext at the destination
	tmp, err := os.CreateTemp("", "hako-download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	filename, err := a.client.Download(ctx, id, passphrase, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	output := a.config.Output
	if output == "" {
		output = filepath.Base(filename)
	}
	if err := os.Rename(tmp.Name(), output); err != nil {
		return err
	}

	fmt.Printf("downloaded: %s\n", output)
	return nil
}

func readPassphrase() ([]byte, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	passphrase, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase")
	}
	return passphrase, nil
}
