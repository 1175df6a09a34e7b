package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ccqpein/supervisor-rs/command"
)

func TestDispatchSSHRejectsNonSSHScheme(t *testing.T) {
	cmd := &command.Command{Verb: command.VerbCheck, Name: "child1"}
	_, err := dispatchSSH("tcp://10.0.0.1", cmd)
	assert.ErrorContains(t, err, "not an ssh target")
}

func TestDispatchSSHRejectsMalformedURL(t *testing.T) {
	cmd := &command.Command{Verb: command.VerbCheck, Name: "child1"}
	_, err := dispatchSSH("ssh://%zz", cmd)
	assert.Error(t, err)
}

func TestShellQuoteEscapesEmbeddedSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'start'", shellQuote("start"))
}
