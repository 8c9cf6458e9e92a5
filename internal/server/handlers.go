package server

import (
	"net/http"
	"path/filepath"

	"github.com/yueduduo/pth-viewer/internal/checkpoint"
)

type loadRequest struct {
	FilePath   string `json:"file_path"`
	ForceLocal bool   `json:"force_local"`
}

type inspectRequest struct {
	FilePath string `json:"file_path"`
	Key      string `json:"key"`
}

type releaseRequest struct {
	FilePath string `json:"file_path"`
}

// handleLoad opens (or reuses) a reader and returns the structure tree.
// When a shard manifest sits next to the file and force_local is off,
// the response is the global reference tree instead, built without
// loading any reader. Directory checkpoints never carry this manifest
// convention, so the lookup is skipped for them.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		s.writeError(w, "missing file_path")
		return
	}

	if !req.ForceLocal && checkpoint.Select(req.FilePath) != checkpoint.FormatPyTree {
		if indexFile, ok := checkpoint.FindShardIndex(req.FilePath); ok {
			tree, err := checkpoint.ReadShardIndex(indexFile, req.FilePath)
			if err != nil {
				s.writeError(w, err.Error())
				return
			}
			s.writeJSON(w, map[string]any{
				"is_global":  true,
				"index_file": filepath.Base(indexFile),
				"data":       tree,
			})
			return
		}
	}

	tree, err := s.sess.Structure(req.FilePath)
	if err != nil {
		s.writeError(w, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{
		"is_global": false,
		"data":      tree,
	})
}

// handleInspect resolves a key path to tensor statistics. The key field
// is a JSON-encoded list of path segments.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		s.writeError(w, "missing file_path")
		return
	}
	if req.Key == "" {
		s.writeError(w, "missing key")
		return
	}

	stats, err := s.sess.Inspect(req.FilePath, checkpoint.ParseKeyPath(req.Key))
	if err != nil {
		s.writeError(w, err.Error())
		return
	}
	s.writeJSON(w, stats)
}

// handleRelease drops the cache entry for a path.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	status := "not_found"
	if s.sess.Release(req.FilePath) {
		status = "released"
	}
	s.writeJSON(w, map[string]string{"status": status})
}
