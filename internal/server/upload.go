package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"quarantine-drop/internal/adjudicate"
	"quarantine-drop/internal/auth"
	"quarantine-drop/internal/errs"
	"quarantine-drop/internal/upload"
)

const (
	uploadField = "media"
	// Room for multipart boundaries and part headers on top of the file cap.
	multipartOverhead = 1 << 20
)

// handleUpload stages the "media" part, scans it and renders the verdict.
// The session has already been authorized, so nothing is written for
// anonymous callers.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, id auth.Identity) error {
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+multipartOverhead)
	}

	staged, err := s.stageUpload(r)
	if err != nil {
		if s.metrics != nil {
			s.metrics.Upload("invalid", 0)
		}
		return err
	}

	log := s.audit.With(
		zap.String("rid", RequestIDFromContext(r.Context())),
		zap.String("user", id.Username),
		zap.String("path", staged.Path),
		zap.String("original_name", staged.OriginalName),
		zap.String("size", humanize.Bytes(uint64(staged.Size))),
		zap.String("content_type", staged.ContentType),
	)

	out := s.scanner.Scan(r.Context(), staged.Path)
	if s.metrics != nil {
		s.metrics.Scan(out.Verdict.String(), out.Duration)
	}
	d := s.adjudicator.Decide(r.Context(), staged, out)
	if s.metrics != nil {
		s.metrics.Upload(string(d.State), staged.Size)
	}

	switch d.State {
	case adjudicate.Accepted:
		log.Info("upload accepted", zap.Duration("scan", out.Duration))
		writeJSON(w, d.Status, jMap{"message": d.Message, "filePath": d.FilePath})
	case adjudicate.Rejected:
		log.Warn("upload rejected", zap.Int("status", d.Status), zap.Error(d.Err))
		writeJSON(w, d.Status, jMap{"message": d.Message})
	default:
		log.Error("upload failed", zap.Error(d.Err))
		writeJSON(w, d.Status, jMap{"message": d.Message})
	}
	return nil
}

// stageUpload streams the first file part named "media" to staging. Other
// parts are skipped.
func (s *Server) stageUpload(r *http.Request) (upload.StagedFile, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return upload.StagedFile{}, errs.ErrNoFile
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return upload.StagedFile{}, errs.ErrNoFile
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return upload.StagedFile{}, errs.ErrTooLarge
			}
			return upload.StagedFile{}, PublicError{Code: http.StatusBadRequest, Message: "Malformed multipart body.", Err: err}
		}

		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		staged, err := s.ingestor.Ingest(r.Context(), part, part.FileName(), uploadField)
		_ = part.Close()
		return staged, err
	}
}
