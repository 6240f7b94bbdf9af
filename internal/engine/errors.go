package engine

import "errors"

var (
	// ErrValidation covers malformed definitions: missing models, missing
	// prompts, ambiguous prompt sources. The batch never starts.
	ErrValidation = errors.New("invalid evaluation definition")

	// ErrInvalidReference covers references to checklists or datasets that
	// do not exist within the caller's project. The batch never starts.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrInvalidChecklist is the single-run path's lookup failure: the slug
	// does not resolve within the caller's project.
	ErrInvalidChecklist = errors.New("invalid checklist")
)
