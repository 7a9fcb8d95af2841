// Package calculators provides the factor calculators of the EAL estimation engine.
//
// Each calculator turns one property of a finding (its severity, the industry
// suggested by the scanned domain, how exposed the asset is) into a
// multiplier. Calculators are composed via the estimation.Engine.
package calculators
