// Package estimation prices security findings as an expected annual loss (EAL).
//
// The most likely loss of a finding is its base cost multiplied by a set of
// factors. Each factor is produced by one Calculator, and the Engine combines
// them with the base cost profile of the finding type. Everything in this
// package is pure and deterministic.
package estimation
