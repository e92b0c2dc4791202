// Package model defines shared data types used across the bridge.
//
// Conventions:
//   - Topic IDs: caller-chosen ints, unique per session while active
//   - Values: Variant (string, float64 number, or time.Time datetime)
//   - Timestamps: time.Time, expressed in the bridge clock until skew is applied
package model
