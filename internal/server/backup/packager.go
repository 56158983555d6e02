package backup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/filex"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/blobstore"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/repomanager"
	"github.com/dustin/go-humanize"
)

// Packager builds backup archives of local accounts.
type Packager struct {
	db      dbx.DBTX
	repos   repomanager.RepositoryManager
	blobs   blobstore.Store
	workDir string
	logger  logging.Logger
	now     func() time.Time
}

func NewPackager(db dbx.DBTX, repos repomanager.RepositoryManager, blobs blobstore.Store, workDir string, logger logging.Logger) *Packager {
	return &Packager{
		db:      db,
		repos:   repos,
		blobs:   blobs,
		workDir: workDir,
		logger:  logger.With("module", "backup"),
		now:     time.Now,
	}
}

// Package writes the archive for userID into the work directory and
// returns its path. The caller owns the file. Any failure yields an error
// wrapping common.ErrPackaging and leaves no file behind.
func (p *Packager) Package(ctx context.Context, userID string) (path string, err error) {
	user, err := p.repos.Users(p.db).GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: load account: %v", common.ErrPackaging, err)
	}
	entries, err := p.repos.Entries(p.db).ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: load entries: %v", common.ErrPackaging, err)
	}
	files, err := p.repos.Files(p.db).ListByUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: load files: %v", common.ErrPackaging, err)
	}

	out, err := filex.TempFile(p.workDir, "backup")
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrPackaging, err)
	}
	path = out.Name()
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close archive: %v", common.ErrPackaging, cerr)
		}
		if err != nil {
			_ = filex.RemoveQuietly(path)
			path = ""
		}
	}()

	if err := p.write(ctx, out, user, entries, files); err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrPackaging, err)
	}

	if fi, serr := out.Stat(); serr == nil {
		p.logger.Info(ctx, "account packaged", "user_id", userID, "entries", len(entries),
			"files", len(files), "size", humanize.Bytes(uint64(fi.Size())))
	}
	return path, nil
}

func (p *Packager) write(ctx context.Context, w io.Writer, user *models.User, entries []*models.Entry, files []*models.File) error {
	aw := newArchiveWriter(w)

	meta := &Metadata{
		FormatVersion: FormatVersion,
		UserID:        user.ID,
		UserName:      user.UserName,
		Email:         user.Email,
		Roles:         []string{user.Role},
		CreatedAt:     user.CreatedAt,
		ExportedAt:    p.now().UTC(),
	}
	if len(user.Verifier) > 0 {
		meta.Password = &models.Credentials{Salt: user.Salt, Verifier: user.Verifier}
	}

	if entries == nil {
		entries = []*models.Entry{}
	}
	if files == nil {
		files = []*models.File{}
	}

	if err := aw.writeJSON(metadataName, meta); err != nil {
		return err
	}
	if err := aw.writeJSON(entriesName, entries); err != nil {
		return err
	}
	if err := aw.writeJSON(filesName, files); err != nil {
		return err
	}

	for _, f := range files {
		if f.UploadStatus != models.UploadCompleted {
			continue
		}
		if err := p.writeBlob(ctx, aw, f); err != nil {
			return err
		}
	}

	return aw.Close()
}

func (p *Packager) writeBlob(ctx context.Context, aw *archiveWriter, f *models.File) error {
	body, size, err := p.blobs.Get(ctx, f.StorageKey)
	if err != nil {
		return fmt.Errorf("payload of entry %s: %w", f.EntryID, err)
	}
	defer body.Close()

	return aw.writeStream(blobPrefix+f.EntryID, body, size)
}

// Remove deletes an archive produced by Package. Missing files are ignored.
func Remove(path string) error {
	if err := filex.RemoveQuietly(path); err != nil {
		return fmt.Errorf("remove archive: %w", err)
	}
	return nil
}
