// Package adjudicate turns a scan verdict into the fate of a staged file and
// the response the uploader sees.
package adjudicate

import (
	"context"
	"errors"
	"io/fs"
	"net/http"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"quarantine-drop/internal/errs"
	"quarantine-drop/internal/scanner"
	"quarantine-drop/internal/upload"
)

// State is the terminal state of one upload.
type State string

const (
	Accepted State = "accepted"
	Rejected State = "rejected"
	Failed   State = "failed"
)

const (
	MsgAccepted        = "File uploaded successfully!"
	MsgMalicious       = "Malicious file detected. Upload rejected."
	MsgMaliciousKept   = "Malicious file detected but could not be removed. The incident has been logged."
	MsgScanFailed      = "Error scanning file."
	MsgUnknownDecision = "Upload could not be processed."
)

// Decision is what the transport layer renders. FilePath is set only for
// Accepted uploads.
type Decision struct {
	State    State
	Status   int
	Message  string
	FilePath string
	// Err carries the operational cause for logging; never shown to clients.
	Err error
}

// Archiver copies an accepted file elsewhere. Failures are logged and never
// change the decision.
type Archiver interface {
	Archive(ctx context.Context, path, contentType string) error
}

// Adjudicator owns deletion of rejected files.
type Adjudicator struct {
	fs       afero.Fs
	archiver Archiver
	logger   *zap.Logger
}

// New returns an Adjudicator removing files from fsys. archiver may be nil.
func New(fsys afero.Fs, archiver Archiver, logger *zap.Logger) *Adjudicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adjudicator{fs: fsys, archiver: archiver, logger: logger.Named("adjudicate")}
}

// Decide applies the outcome to f. It must be called once per staged file.
func (a *Adjudicator) Decide(ctx context.Context, f upload.StagedFile, out scanner.Outcome) Decision {
	log := a.logger.With(zap.String("path", f.Path), zap.Stringer("verdict", out.Verdict))

	switch out.Verdict {
	case scanner.Clean:
		if a.archiver != nil {
			if err := a.archiver.Archive(ctx, f.Path, f.ContentType); err != nil {
				log.Warn("archive failed", zap.Error(err))
			}
		}
		return Decision{State: Accepted, Status: http.StatusOK, Message: MsgAccepted, FilePath: f.Path}

	case scanner.Malicious:
		if err := a.remove(f.Path); err != nil {
			log.Error("malicious file not removed", zap.Error(err))
			return Decision{
				State:   Rejected,
				Status:  http.StatusInternalServerError,
				Message: MsgMaliciousKept,
				Err:     errors.Join(errs.ErrMalicious, err),
			}
		}
		log.Warn("malicious file removed", zap.String("original_name", f.OriginalName))
		return Decision{State: Rejected, Status: http.StatusForbidden, Message: MsgMalicious, Err: errs.ErrMalicious}

	case scanner.Failed:
		var cause error = errors.New("scan failed")
		if out.Err != nil {
			cause = out.Err
		}
		if err := a.remove(f.Path); err != nil {
			log.Warn("best-effort removal failed", zap.Error(err))
		}
		return Decision{State: Failed, Status: http.StatusInternalServerError, Message: MsgScanFailed, Err: cause}
	}

	// Unknown verdicts never accept the file.
	_ = a.remove(f.Path)
	return Decision{State: Failed, Status: http.StatusInternalServerError, Message: MsgUnknownDecision,
		Err: errors.New("unknown verdict")}
}

// remove deletes path; a file that is already gone counts as removed.
func (a *Adjudicator) remove(path string) error {
	err := a.fs.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return &errs.PersistenceError{Op: "remove staged file", Path: path, Err: err}
}
