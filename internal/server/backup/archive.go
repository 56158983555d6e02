// Package backup writes an account's encrypted data store into a
// tar+gzip archive and restores such an archive into a new account.
//
// Archive members:
//
//	metadata.json     account identity and password verification material
//	entries.json      encrypted entries
//	files.json        file metadata records
//	blobs/<entry_id>  encrypted payload of each uploaded file
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

const (
	FormatVersion = 1

	metadataName = "metadata.json"
	entriesName  = "entries.json"
	filesName    = "files.json"
	blobPrefix   = "blobs/"

	maxJSONMember = 256 << 20
)

// Metadata is the account record carried in metadata.json.
type Metadata struct {
	FormatVersion int                 `json:"format_version"`
	UserID        string              `json:"user_id"`
	UserName      string              `json:"username"`
	Email         string              `json:"email,omitempty"`
	Password      *models.Credentials `json:"password,omitempty"`
	Roles         []string            `json:"roles"`
	CreatedAt     time.Time           `json:"created_at"`
	ExportedAt    time.Time           `json:"exported_at"`
}

// HasPassword reports whether usable verification material is present.
func (m *Metadata) HasPassword() bool {
	return m != nil && m.Password != nil && len(m.Password.Salt) > 0 && len(m.Password.Verifier) > 0
}

// Contents is the structured part of an archive. Blobs are streamed
// separately during restore.
type Contents struct {
	// Metadata is nil when metadata.json is missing or unreadable.
	Metadata *Metadata
	Entries  []*models.Entry
	Files    []*models.File
	// Blobs holds the entry IDs that have a payload in the archive.
	Blobs map[string]int64
}

// Inspect reads the structured members of the archive at path.
// An archive that cannot be opened, or whose entries.json or files.json is
// malformed or inconsistent, yields common.ErrCorruptArchive. A missing or
// malformed metadata.json is not an error; Metadata is nil then.
func Inspect(path string) (*Contents, error) {
	c := &Contents{Blobs: make(map[string]int64)}

	err := walk(path, func(hdr *tar.Header, r io.Reader) error {
		switch {
		case hdr.Name == metadataName:
			var m Metadata
			if err := decodeMember(r, &m); err == nil {
				c.Metadata = &m
			}
		case hdr.Name == entriesName:
			if err := decodeMember(r, &c.Entries); err != nil {
				return fmt.Errorf("%s: %w", entriesName, err)
			}
		case hdr.Name == filesName:
			if err := decodeMember(r, &c.Files); err != nil {
				return fmt.Errorf("%s: %w", filesName, err)
			}
		case strings.HasPrefix(hdr.Name, blobPrefix):
			id, ok := blobID(hdr.Name)
			if !ok {
				return fmt.Errorf("bad member name %q", hdr.Name)
			}
			c.Blobs[id] = hdr.Size
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Contents) check() error {
	ids := make(map[string]struct{}, len(c.Entries))
	for _, e := range c.Entries {
		if e == nil || e.ID == "" {
			return fmt.Errorf("%w: entry without id", common.ErrCorruptArchive)
		}
		ids[e.ID] = struct{}{}
	}
	for _, f := range c.Files {
		if f == nil {
			return fmt.Errorf("%w: empty file record", common.ErrCorruptArchive)
		}
		if _, ok := ids[f.EntryID]; !ok {
			return fmt.Errorf("%w: file for unknown entry %s", common.ErrCorruptArchive, f.EntryID)
		}
		if f.UploadStatus == models.UploadCompleted {
			if _, ok := c.Blobs[f.EntryID]; !ok {
				return fmt.Errorf("%w: payload for entry %s missing", common.ErrCorruptArchive, f.EntryID)
			}
		}
	}
	return nil
}

// walk calls fn for every regular member of the archive. Open and format
// errors, and errors returned by fn, are reported as ErrCorruptArchive
// unless fn already returned a wrapped sentinel.
func walk(path string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCorruptArchive, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCorruptArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrCorruptArchive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := fn(hdr, tr); err != nil {
			if errors.Is(err, common.ErrCorruptArchive) || errors.Is(err, common.ErrRestoreFailed) {
				return err
			}
			return fmt.Errorf("%w: %v", common.ErrCorruptArchive, err)
		}
	}
}

func decodeMember(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, maxJSONMember)).Decode(v)
}

func blobID(name string) (string, bool) {
	id := strings.TrimPrefix(name, blobPrefix)
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", false
	}
	return id, true
}

// archiveWriter appends members to a tar+gzip stream.
type archiveWriter struct {
	gz *gzip.Writer
	tw *tar.Writer
}

func newArchiveWriter(w io.Writer) *archiveWriter {
	gz := gzip.NewWriter(w)
	return &archiveWriter{gz: gz, tw: tar.NewWriter(gz)}
}

func (a *archiveWriter) writeJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return a.writeStream(name, bytes.NewReader(data), int64(len(data)))
}

func (a *archiveWriter) writeStream(name string, r io.Reader, size int64) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o600,
		Size:     size,
		Typeflag: tar.TypeReg,
		ModTime:  time.Now().UTC(),
	}
	if err := a.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	n, err := io.Copy(a.tw, r)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if n != size {
		return fmt.Errorf("write %s: got %d bytes, expected %d", name, n, size)
	}
	return nil
}

func (a *archiveWriter) Close() error {
	if err := a.tw.Close(); err != nil {
		return err
	}
	return a.gz.Close()
}
