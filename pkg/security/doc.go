// Package security holds the limits the job core enforces on its inputs.
//
// Kinds and unique keys are checked before a job or rule is stored, error
// text is cleaned before it is written to last_error, and attempt ceilings
// and pool sizes are clamped to hard bounds.
package security
