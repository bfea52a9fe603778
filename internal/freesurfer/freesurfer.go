// Package freesurfer resolves the FreeSurfer subject an estimate belongs to.
package freesurfer

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/acpuchades/eegtools/internal/fsutil"
	"github.com/acpuchades/eegtools/internal/security"
)

// EnvSubjectsDir is the environment variable FreeSurfer reads the subjects
// directory from.
const EnvSubjectsDir = "SUBJECTS_DIR"

// ErrSubjectNotFound is returned when the subject directory does not exist.
var ErrSubjectNotFound = errors.New("subject not found")

// Options names a subject and the directory holding FreeSurfer subjects.
type Options struct {
	Subject     string
	SubjectsDir string
}

// Resolve checks the options against fsys. When both fields are set, the
// subject directory must exist inside the subjects directory. A subjects
// directory alone is accepted, as is a subject alone.
func (o Options) Resolve(fsys fsutil.FileSystem) error {
	if o.SubjectsDir != "" && !fsutil.IsDir(fsys, o.SubjectsDir) {
		return fmt.Errorf("subjects directory %q is not a directory", o.SubjectsDir)
	}
	if o.Subject == "" || o.SubjectsDir == "" {
		return nil
	}
	if err := security.ValidatePathWithinDirectory(o.SubjectPath(), o.SubjectsDir); err != nil {
		return fmt.Errorf("subject %q: %w", o.Subject, err)
	}
	if !fsutil.IsDir(fsys, o.SubjectPath()) {
		return fmt.Errorf("%w: %q in %s", ErrSubjectNotFound, o.Subject, o.SubjectsDir)
	}
	return nil
}

// SubjectPath returns the subject's directory, or "" when either field is unset.
func (o Options) SubjectPath() string {
	if o.Subject == "" || o.SubjectsDir == "" {
		return ""
	}
	return filepath.Join(o.SubjectsDir, o.Subject)
}

// SubjectFor picks the subject recorded on an estimate: the explicit option
// wins over the one stored with the forward model.
func (o Options) SubjectFor(fromForward string) string {
	if o.Subject != "" {
		return o.Subject
	}
	return fromForward
}
