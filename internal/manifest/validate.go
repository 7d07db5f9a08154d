package manifest

import (
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var hashIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	fileStates = []any{FileQueued, FileProcessing, FileReady, FileError, FilePurged}
	taskStates = []any{TaskQueued, TaskRunning, TaskDone, TaskError}
)

func artifactTypeValues() []any {
	out := make([]any, len(artifactTypes))
	for i, t := range artifactTypes {
		out[i] = t
	}
	return out
}

// Validate checks structural invariants of the document.
func (m Manifest) Validate() error {
	if err := validation.ValidateStruct(&m,
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.HashID, validation.Required, validation.Match(hashIDPattern)),
		validation.Field(&m.SchemaVersion, validation.Required),
		validation.Field(&m.Revision, validation.Min(int64(0))),
		validation.Field(&m.FileManifest),
		validation.Field(&m.Tasks),
	); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(m.Tasks))
	for _, t := range m.Tasks {
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// Validate checks one artifact record.
func (f FileItem) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Type, validation.Required, validation.In(artifactTypeValues()...)),
		validation.Field(&f.State, validation.Required, validation.In(fileStates...)),
		validation.Field(&f.Version, validation.Min(0)),
		validation.Field(&f.Path, validation.Required),
	)
}

// Validate checks one task record.
func (t Task) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.ID, validation.Required),
		validation.Field(&t.State, validation.Required, validation.In(taskStates...)),
		validation.Field(&t.Percent, validation.Min(0), validation.Max(100)),
		validation.Field(&t.RelatedOutput, validation.Required, validation.In(artifactTypeValues()...)),
	)
}
