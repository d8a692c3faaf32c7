// Package domain contains the core entities of a leveled flashcard system:
// boxes, cards and the closed set of card configurations a card can carry.
// It has no knowledge of persistence or transport.
package domain
