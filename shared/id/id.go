// Package id provides ID generation helpers used across the engine.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixMessage = "msg"
	PrefixFact    = "fact"
	PrefixPattern = "pat"
	PrefixTrigger = "trg"
	PrefixTask    = "task"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewWithLength(prefix string, length int) string {
	id, err := nanoid.New(length)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewMessage() string { return New(PrefixMessage) }
func NewFact() string    { return New(PrefixFact) }
func NewPattern() string { return New(PrefixPattern) }
func NewTrigger() string { return New(PrefixTrigger) }
func NewTask() string    { return New(PrefixTask) }

// Generator is the injectable form of the package-level helpers.
type Generator struct{}

func (Generator) GenerateMessageID() string { return NewMessage() }
func (Generator) GenerateFactID() string    { return NewFact() }
func (Generator) GeneratePatternID() string { return NewPattern() }
func (Generator) GenerateTriggerID() string { return NewTrigger() }
