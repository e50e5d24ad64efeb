package testutil

import (
	"context"
	"errors"
	"sync"
)

// ScriptedPrompter answers prompts from queued replies. An empty queue
// answers with Err, or an error when Err is nil.
type ScriptedPrompter struct {
	mu          sync.Mutex
	passphrases []string
	confirms    []bool
	prompts     []string

	Err error
}

// NewScriptedPrompter creates a prompter that will answer the given
// passphrases in order.
func NewScriptedPrompter(passphrases ...string) *ScriptedPrompter {
	return &ScriptedPrompter{passphrases: passphrases}
}

// QueueConfirm appends approval answers.
func (p *ScriptedPrompter) QueueConfirm(answers ...bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirms = append(p.confirms, answers...)
}

// Prompts returns every prompt shown so far.
func (p *ScriptedPrompter) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.prompts...)
}

func (p *ScriptedPrompter) Passphrase(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if len(p.passphrases) == 0 {
		return "", p.exhausted()
	}
	next := p.passphrases[0]
	p.passphrases = p.passphrases[1:]
	return next, nil
}

func (p *ScriptedPrompter) Confirm(_ context.Context, prompt string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	if len(p.confirms) == 0 {
		return false, p.exhausted()
	}
	next := p.confirms[0]
	p.confirms = p.confirms[1:]
	return next, nil
}

func (p *ScriptedPrompter) exhausted() error {
	if p.Err != nil {
		return p.Err
	}
	return errors.New("no scripted answer")
}
