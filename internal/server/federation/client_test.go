package federation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPeer(t *testing.T, h http.Handler) *Peer {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	c := NewClient("http", time.Second, 2*time.Second)
	return c.Peer(strings.TrimPrefix(ts.URL, "http://"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPeer_Prepare(t *testing.T) {
	var gotPath string
	var gotBody TokenRequest
	p := newPeer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, PrepareResponse{Success: true, Manifest: &models.Manifest{
			TotalChunks: 1, TotalSize: 5, Chunks: []models.ChunkInfo{{Index: 0, Size: 5, Hash: "ab"}},
		}})
	}))

	m, err := p.Prepare(t.Context(), "alice", "tok")
	require.NoError(t, err)
	assert.Equal(t, "/alice/api/federation/migration-backup-prepare", gotPath)
	assert.Equal(t, "tok", gotBody.Token)
	assert.Equal(t, int64(5), m.TotalSize)
}

func TestPeer_PrepareErrors(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		p := newPeer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, Ack{Error: "invalid token"})
		}))
		_, err := p.Prepare(t.Context(), "alice", "tok")
		require.ErrorIs(t, err, common.ErrInvalidToken)
		assert.Contains(t, err.Error(), "invalid token")
	})

	t.Run("no manifest", func(t *testing.T) {
		p := newPeer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, PrepareResponse{Success: true})
		}))
		_, err := p.Prepare(t.Context(), "alice", "tok")
		require.ErrorIs(t, err, common.ErrInvalidManifest)
	})

	t.Run("server error", func(t *testing.T) {
		p := newPeer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusInternalServerError, Ack{Error: "packaging error"})
		}))
		_, err := p.Prepare(t.Context(), "alice", "tok")
		require.Error(t, err)
		assert.NotErrorIs(t, err, common.ErrInvalidToken)
	})
}

func TestPeer_FetchChunk(t *testing.T) {
	p := newPeer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/alice/api/federation/migration-backup-chunk/2" || r.URL.Query().Get("token") != "t&k" {
			writeJSON(w, http.StatusNotFound, Ack{Error: "chunk not found"})
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{1, 2, 3})
	}))

	data, err := p.FetchChunk(t.Context(), "alice", "t&k", 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	_, err = p.FetchChunk(t.Context(), "alice", "t&k", 7)
	require.ErrorIs(t, err, common.ErrChunkNotFound)
}

func TestPeer_FetchChunkTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	p := NewClient("http", time.Second, 50*time.Millisecond).Peer(strings.TrimPrefix(ts.URL, "http://"))
	_, err := p.FetchChunk(t.Context(), "alice", "tok", 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrInvalidToken)
}

func TestPeer_CleanupCompleteAndFail(t *testing.T) {
	var paths []string
	var complete CompleteRequest
	var failed FailedRequest
	p := newPeer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch {
		case strings.HasSuffix(r.URL.Path, CompletePath):
			_ = json.NewDecoder(r.Body).Decode(&complete)
		case strings.HasSuffix(r.URL.Path, FailedPath):
			_ = json.NewDecoder(r.Body).Decode(&failed)
		}
		writeJSON(w, http.StatusOK, Ack{Success: true})
	}))

	require.NoError(t, p.Cleanup(t.Context(), "alice", "tok"))
	require.NoError(t, p.Complete(t.Context(), "alice", "tok", "u1"))
	require.NoError(t, p.Fail(t.Context(), "alice", "tok", "chunk 1 failed"))
	assert.Equal(t, []string{
		"/alice/api/federation/migration-backup-cleanup",
		"/alice/api/federation/migration-complete",
		"/alice/api/federation/migration-failed",
	}, paths)
	assert.Equal(t, CompleteRequest{MigrationToken: "tok", UserID: "u1"}, complete)
	assert.Equal(t, FailedRequest{MigrationToken: "tok", Reason: "chunk 1 failed"}, failed)
}

func TestPeer_Announce(t *testing.T) {
	var got models.Announcement
	p := newPeer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/federation/migration-request", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got.UserName == "taken" {
			writeJSON(w, http.StatusConflict, Ack{Error: "already exists"})
			return
		}
		writeJSON(w, http.StatusOK, AnnounceResponse{Success: true, ID: "remote-1"})
	}))

	ann := models.Announcement{Token: "tok", SourceDomain: "old.example", UserName: "alice", UserID: "u1",
		TokenExpiresAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	id, err := p.Announce(t.Context(), ann)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", id)
	assert.Equal(t, ann, got)

	ann.UserName = "taken"
	_, err = p.Announce(t.Context(), ann)
	require.ErrorIs(t, err, common.ErrAlreadyExists)
}
