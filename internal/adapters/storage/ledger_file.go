package storage

// ledger_file.go: el ledger vive en un único documento JSON.
//
// Save nunca deja el archivo a medias:
//   1. Serializa a <path>.tmp y hace fsync.
//   2. Copia el estado vigente a <path>.backup (backup rotativo).
//   3. Relee el .tmp y lo valida. Si falla, restaura el backup y devuelve error.
//   4. Renombra el .tmp sobre <path> (atómico en el mismo filesystem).

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/alejandrodnm/splitbot/internal/domain"
)

// Validator checks a ledger decoded from disk.
type Validator func(*domain.Ledger) error

// LedgerFile implements ports.LedgerStore on a JSON file.
type LedgerFile struct {
	path     string
	validate Validator
	mu       sync.Mutex
}

// LedgerFileOption configures a LedgerFile.
type LedgerFileOption func(*LedgerFile)

// WithValidator replaces the structural check run on re-read.
func WithValidator(v Validator) LedgerFileOption {
	return func(f *LedgerFile) { f.validate = v }
}

// NewLedgerFile returns a store backed by path. The directory is created if
// missing.
func NewLedgerFile(path string, opts ...LedgerFileOption) (*LedgerFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage.NewLedgerFile: mkdir %q: %w", dir, err)
		}
	}
	f := &LedgerFile{path: path, validate: (*domain.Ledger).Validate}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Path returns the durable file location.
func (f *LedgerFile) Path() string { return f.path }

func (f *LedgerFile) tmpPath() string    { return f.path + ".tmp" }
func (f *LedgerFile) backupPath() string { return f.path + ".backup" }

// Load reads the ledger. A missing file yields an empty ledger. A corrupt file
// falls back to the backup.
func (f *LedgerFile) Load(_ context.Context) (*domain.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, err := f.read(f.path)
	if err == nil {
		return l, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(f.backupPath()); statErr != nil {
			return domain.NewLedger(), nil
		}
	}

	slog.Warn("storage: ledger unreadable, trying backup", "path", f.path, "err", err)
	bl, berr := f.read(f.backupPath())
	if berr != nil {
		return nil, domain.NewError(domain.KindPersistence, "storage.Load", "",
			fmt.Errorf("ledger: %v; backup: %w", err, berr))
	}
	return bl, nil
}

// Save makes l durable. On failure the previous file content is left in
// place (restored from backup if needed) and a persistence error is returned.
func (f *LedgerFile) Save(_ context.Context, l *domain.Ledger) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return domain.NewError(domain.KindPersistence, "storage.Save", "", fmt.Errorf("marshal: %w", err))
	}

	tmp := f.tmpPath()
	if err := writeFileSync(tmp, data); err != nil {
		os.Remove(tmp)
		return domain.NewError(domain.KindPersistence, "storage.Save", "", err)
	}

	hadPrior, err := f.rotateBackup()
	if err != nil {
		os.Remove(tmp)
		return domain.NewError(domain.KindPersistence, "storage.Save", "", err)
	}

	if _, err := f.read(tmp); err != nil {
		os.Remove(tmp)
		return f.fail(hadPrior, fmt.Errorf("validate written ledger: %w", err))
	}

	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return f.fail(hadPrior, fmt.Errorf("rename: %w", err))
	}
	syncDir(filepath.Dir(f.path))
	return nil
}

// fail restores the backup and wraps cause. If the restore itself fails both
// errors are reported.
func (f *LedgerFile) fail(hadPrior bool, cause error) error {
	if hadPrior {
		if err := f.restore(); err != nil {
			slog.Error("storage: backup restore failed", "path", f.path, "err", err)
			return domain.NewError(domain.KindPersistence, "storage.Save", "",
				fmt.Errorf("%v; restore: %w", cause, err))
		}
		slog.Warn("storage: ledger restored from backup", "path", f.path, "cause", cause)
	}
	return domain.NewError(domain.KindPersistence, "storage.Save", "", cause)
}

func (f *LedgerFile) read(path string) (*domain.Ledger, error) {
	return decodeFile(path, f.validate)
}

func decodeFile(path string, validate Validator) (*domain.Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l := domain.NewLedger()
	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	if l.Pending == nil {
		l.Pending = make(map[string]domain.PendingOrder)
	}
	if err := validate(l); err != nil {
		return nil, fmt.Errorf("validate %q: %w", path, err)
	}
	return l, nil
}

// rotateBackup copies the current durable file to the backup slot when it
// still decodes. A current file that does not decode leaves the existing
// backup in place. The bool reports whether a backup is there to restore.
func (f *LedgerFile) rotateBackup() (bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read current: %w", err)
	}
	if _, err := decodeFile(f.path, (*domain.Ledger).Validate); err != nil {
		slog.Warn("storage: current ledger invalid, keeping previous backup", "path", f.path, "err", err)
		if _, berr := decodeFile(f.backupPath(), (*domain.Ledger).Validate); berr != nil {
			return false, nil
		}
		return true, nil
	}
	if err := writeFileSync(f.backupPath(), data); err != nil {
		return false, fmt.Errorf("write backup: %w", err)
	}
	return true, nil
}

func (f *LedgerFile) restore() error {
	data, err := os.ReadFile(f.backupPath())
	if err != nil {
		return err
	}
	tmp := f.tmpPath()
	if err := writeFileSync(tmp, data); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func writeFileSync(path string, data []byte) error {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	if _, err := fh.Write(data); err != nil {
		fh.Close()
		return fmt.Errorf("write %q: %w", path, err)
	}
	if err := fh.Sync(); err != nil {
		fh.Close()
		return fmt.Errorf("sync %q: %w", path, err)
	}
	return fh.Close()
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}
