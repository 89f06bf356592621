package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/model"
	"github.com/spf13/afero"
)

// Engine resolves an archive's kind and encryption and dispatches to the
// matching codec.
type Engine struct {
	fs     afero.Fs
	codecs map[Kind]Codec
	log    *logging.Logger
}

// Inspection describes an archive without extracting it.
type Inspection struct {
	Kind      Kind     `json:"kind"`
	Encrypted bool     `json:"encrypted"`
	Members   []string `json:"members"`
}

// NewEngine returns an Engine reading and writing through fsys.
func NewEngine(fsys afero.Fs, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &Engine{fs: fsys, codecs: newCodecs(fsys), log: logger}
}

// Fs is the filesystem the engine operates on.
func (e *Engine) Fs() afero.Fs { return e.fs }

// Detect classifies path.
func (e *Engine) Detect(path string) Kind { return Detect(e.fs, path) }

// IsEncrypted reports whether path needs a password.
func (e *Engine) IsEncrypted(ctx context.Context, path string) bool {
	return IsEncrypted(ctx, e.fs, path, e.Detect(path))
}

// Inspect returns the kind, encryption flag and member list.  Members of an
// archive with encrypted headers are left empty.
func (e *Engine) Inspect(ctx context.Context, path string) (Inspection, error) {
	kind, codec, err := e.resolve(path)
	if err != nil {
		return Inspection{}, err
	}
	in := Inspection{Kind: kind, Encrypted: IsEncrypted(ctx, e.fs, path, kind), Members: []string{}}
	members, err := codec.List(ctx, path, "")
	if err != nil {
		if in.Encrypted && codec.IsPasswordError(err) {
			return in, nil
		}
		return Inspection{}, e.classify(kind, codec, "", err)
	}
	in.Members = members
	return in, nil
}

// Extract writes the whole archive below destDir and returns the manifest
// of what landed there.
func (e *Engine) Extract(ctx context.Context, path, destDir, password string) (model.ArchiveManifest, error) {
	kind, codec, err := e.resolve(path)
	if err != nil {
		return model.ArchiveManifest{}, err
	}
	if err := e.requirePassword(ctx, path, kind, password); err != nil {
		return model.ArchiveManifest{}, err
	}
	created, err := e.ensureDir(destDir)
	if err != nil {
		return model.ArchiveManifest{}, &ExtractionError{Kind: kind, Reason: ReasonIO, Err: err}
	}

	e.log.Debug("extracting archive", "path", path, "kind", kind, "dest", destDir)
	if err := codec.ExtractAll(ctx, path, destDir, password); err != nil {
		e.discard(destDir, created)
		return model.ArchiveManifest{}, e.classify(kind, codec, password, err)
	}

	m, err := Scan(e.fs, destDir)
	if err != nil {
		return model.ArchiveManifest{}, &ExtractionError{Kind: kind, Reason: ReasonIO, Err: err}
	}
	e.log.Info("archive extracted", "path", path, "kind", kind, "files", m.Counts.TotalFiles, "folders", m.Counts.Folders)
	return m, nil
}

// ExtractOne writes a single member below destDir and returns its path.
// The member is checked against the archive index first; if it is absent
// ErrMemberNotFound is returned and nothing is written.
func (e *Engine) ExtractOne(ctx context.Context, path, destDir, member, password string) (string, error) {
	kind, codec, err := e.resolve(path)
	if err != nil {
		return "", err
	}
	if err := e.requirePassword(ctx, path, kind, password); err != nil {
		return "", err
	}
	member = NormalizeMember(member)
	members, err := codec.List(ctx, path, password)
	if err != nil {
		return "", e.classify(kind, codec, password, err)
	}
	if !slices.Contains(members, member) {
		return "", fmt.Errorf("%q: %w", member, ErrMemberNotFound)
	}

	created, err := e.ensureDir(destDir)
	if err != nil {
		return "", &ExtractionError{Kind: kind, Reason: ReasonIO, Err: err}
	}
	out, err := codec.ExtractOne(ctx, path, destDir, member, password)
	if err != nil {
		e.discard(destDir, created)
		return "", e.classify(kind, codec, password, err)
	}
	e.log.Info("member extracted", "path", path, "member", member, "out", out)
	return out, nil
}

func (e *Engine) resolve(path string) (Kind, Codec, error) {
	kind := e.Detect(path)
	codec, ok := e.codecs[kind]
	if !ok {
		return kind, nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	return kind, codec, nil
}

func (e *Engine) requirePassword(ctx context.Context, path string, kind Kind, password string) error {
	if password == "" && IsEncrypted(ctx, e.fs, path, kind) {
		return fmt.Errorf("%s: %w", path, ErrPasswordRequired)
	}
	return nil
}

// ensureDir creates destDir if absent and reports whether it did.
func (e *Engine) ensureDir(destDir string) (bool, error) {
	if _, err := e.fs.Stat(destDir); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, e.fs.MkdirAll(destDir, 0o755)
}

func (e *Engine) discard(destDir string, created bool) {
	if !created {
		return
	}
	if err := e.fs.RemoveAll(destDir); err != nil {
		e.log.Warn("remove partial extraction", "dest", destDir, "err", err)
	}
}

// classify turns a codec error into the engine's error vocabulary.
func (e *Engine) classify(kind Kind, codec Codec, password string, err error) error {
	switch {
	case errors.Is(err, ErrPasswordRequired), errors.Is(err, ErrMemberNotFound):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &ExtractionError{Kind: kind, Reason: ReasonCancelled, Err: err}
	case codec.IsPasswordError(err):
		if password == "" {
			return fmt.Errorf("%s: %w", kind, ErrPasswordRequired)
		}
		return &ExtractionError{Kind: kind, Reason: ReasonWrongPassword, Err: err}
	case errors.Is(err, errUnsafePath):
		return &ExtractionError{Kind: kind, Reason: ReasonCorrupt, Err: err}
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return &ExtractionError{Kind: kind, Reason: ReasonIO, Err: err}
	}
	return &ExtractionError{Kind: kind, Reason: ReasonCorrupt, Err: err}
}
