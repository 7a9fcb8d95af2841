// Package detection finds leaked credentials in unstructured text.
//
// A Pipeline runs four stages over a set of input units: rule matching,
// context suppression, an entropy fallback for tokens no rule knows, and a
// batched external validation of the entropy candidates. Rule matches are
// trusted as they are. Entropy candidates are only accepted when the
// validator confirms them, or when the validator cannot be reached (fail
// closed). Verdicts are cached by exact token in a VerdictCache owned by the
// caller.
package detection
