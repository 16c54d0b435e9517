package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftSubjectTruncatesOnRuneBoundary(t *testing.T) {
	p := &emailDraftPayload{
		Subject: strings.Repeat("é", 80),
		Body:    "hello",
	}
	require.NoError(t, p.validate())
	assert.True(t, utf8.ValidString(p.Subject))
	assert.Equal(t, 60, utf8.RuneCountInString(p.Subject))
}

func TestDraftSubjectUnderLimitIsUntouched(t *testing.T) {
	p := &emailDraftPayload{Subject: "Quick question", Body: "hello"}
	require.NoError(t, p.validate())
	assert.Equal(t, "Quick question", p.Subject)
}

func TestDraftRejectsMissingSubjectOrBody(t *testing.T) {
	assert.Error(t, (&emailDraftPayload{Body: "hello"}).validate())
	assert.Error(t, (&emailDraftPayload{Subject: "hi"}).validate())
}
