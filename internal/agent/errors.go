package agent

import "errors"

// ErrClassification means the model call failed or timed out after retries.
// The email stays unclassified and execution escalates instead of failing.
var ErrClassification = errors.New("classification failed")

// ErrTemplateRender means a response template still contained an unresolved
// placeholder after substitution. The generator falls back to the model path
// and the draft is flagged low confidence.
var ErrTemplateRender = errors.New("template render failed")

// ErrEmptyEmail is returned for a request with no email body. Validation
// happens before the pipeline runs.
var ErrEmptyEmail = errors.New("email body is empty")
