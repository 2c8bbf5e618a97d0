package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/internal/scene"
)

func TestParseParticipant(t *testing.T) {
	p, err := parseParticipant("12:3")
	require.NoError(t, err)
	assert.Equal(t, model.ParticipantConfig{CharacterID: 12, LLMID: 3}, p)

	for _, bad := range []string{"12", "a:3", "12:b", "0:3", "12:-1", ""} {
		_, err := parseParticipant(bad)
		assert.Error(t, err, bad)
	}
}

func TestBuildForm(t *testing.T) {
	f, err := buildForm("A storm", []string{"1:7", "2:8"}, 6)
	require.NoError(t, err)

	req, err := f.Request(scene.DefaultLength)
	require.NoError(t, err)
	assert.Equal(t, 6, req.Length)
	assert.Equal(t, []model.ParticipantConfig{{CharacterID: 1, LLMID: 7}, {CharacterID: 2, LLMID: 8}}, req.CharacterConfigs)

	_, err = buildForm("x", []string{"1:1", "2:2", "3:3", "4:4"}, 1)
	assert.Error(t, err)

	f, err = buildForm("x", []string{"1:1"}, 1)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Validate(), scene.ErrValidation)
}

func TestTranscriptRendersIncrementally(t *testing.T) {
	var out strings.Builder
	tr := newTranscript(&out)

	tr.render([]model.Message{{Name: "Ada", Content: "Hel"}})
	tr.render([]model.Message{{Name: "Ada", Content: "Hello"}})
	tr.render([]model.Message{{Name: "Ada", Content: "Hello"}, {Name: "Bob", Content: ""}})
	tr.render([]model.Message{{Name: "Ada", Content: "Hello"}, {Name: "Bob", Content: "Hi"}})
	tr.finish()

	assert.Equal(t, "Ada:\nHello\n\nBob:\nHi\n", out.String())
}
