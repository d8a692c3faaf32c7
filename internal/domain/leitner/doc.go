// Package leitner implements the leveled-box review schedule: promotion and
// demotion of single cards and the spreading of unstarted cards across days
// according to a box's daily limit.
package leitner
