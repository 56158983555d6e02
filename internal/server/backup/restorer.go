package backup

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/blobstore"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/repomanager"
)

// Restorer loads an archive into a freshly created account.
type Restorer struct {
	repos  repomanager.RepositoryManager
	blobs  blobstore.Store
	logger logging.Logger
}

func NewRestorer(repos repomanager.RepositoryManager, blobs blobstore.Store, logger logging.Logger) *Restorer {
	return &Restorer{
		repos:  repos,
		blobs:  blobs,
		logger: logger.With("module", "restore"),
	}
}

// Result summarises a restore.
type Result struct {
	Entries int
	Files   int
	// UploadedKeys are the object keys written during the restore. They
	// must be deleted if the surrounding transaction does not commit.
	UploadedKeys []string
}

// Restore writes contents into the account userID using tx, then streams
// the payloads from the archive at path into object storage under fresh
// keys. Persistence failures yield common.ErrRestoreFailed; on error every
// payload uploaded so far has already been removed again.
func (r *Restorer) Restore(ctx context.Context, tx dbx.DBTX, userID string, path string, contents *Contents) (*Result, error) {
	if contents.Metadata != nil && contents.Metadata.UserID != "" && contents.Metadata.UserID != userID {
		return nil, fmt.Errorf("%w: archive belongs to %s, expected %s",
			common.ErrCorruptArchive, contents.Metadata.UserID, userID)
	}

	res := &Result{}
	ok := false
	defer func() {
		if !ok {
			r.Discard(ctx, res.UploadedKeys)
			res.UploadedKeys = nil
		}
	}()

	entryRepo := r.repos.Entries(tx)
	for _, e := range contents.Entries {
		restored := *e
		restored.UserID = userID
		if err := entryRepo.Insert(ctx, &restored); err != nil {
			return nil, fmt.Errorf("%w: entry %s: %v", common.ErrRestoreFailed, e.ID, err)
		}
		res.Entries++
	}

	fileRepo := r.repos.Files(tx)
	keys := make(map[string]string, len(contents.Files))
	for _, f := range contents.Files {
		restored := *f
		restored.UserID = userID
		restored.StorageKey = blobstore.NewStorageKey(userID)
		restored.UploadStatus = models.UploadPending
		if err := fileRepo.Insert(ctx, &restored); err != nil {
			return nil, fmt.Errorf("%w: file %s: %v", common.ErrRestoreFailed, f.EntryID, err)
		}
		keys[f.EntryID] = restored.StorageKey
		res.Files++
	}

	err := walk(path, func(hdr *tar.Header, body io.Reader) error {
		if !strings.HasPrefix(hdr.Name, blobPrefix) {
			return nil
		}
		id, _ := blobID(hdr.Name)
		key, known := keys[id]
		if !known {
			return nil
		}
		if err := r.blobs.Put(ctx, key, body, hdr.Size); err != nil {
			return fmt.Errorf("%w: payload of entry %s: %v", common.ErrRestoreFailed, id, err)
		}
		res.UploadedKeys = append(res.UploadedKeys, key)
		if err := fileRepo.MarkUploaded(ctx, id); err != nil {
			return fmt.Errorf("%w: file %s: %v", common.ErrRestoreFailed, id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ok = true
	r.logger.Info(ctx, "archive restored", "user_id", userID, "entries", res.Entries,
		"files", res.Files, "payloads", len(res.UploadedKeys))
	return res, nil
}

// Discard deletes uploaded payloads. Failures are logged and ignored.
func (r *Restorer) Discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := r.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
			r.logger.Warn(ctx, "failed to delete restored payload", "key", key, "error", err)
		}
	}
}
