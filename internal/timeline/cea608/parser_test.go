package cea608

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_DecodesSimpleCaption(t *testing.T) {
	p := New()

	assert.Nil(t, p.Feed(cmdByte1, cmdResumeCaptionLoading, 0))
	assert.Nil(t, p.Feed('H', 'i', 0))
	assert.Nil(t, p.Feed(cmdByte1, cmdEndOfCaption, 1.0))

	cue := p.Feed(cmdByte1, cmdEndOfCaption, 2.0)
	require.NotNil(t, cue)
	assert.Equal(t, "Hi", cue.Text)
	assert.Equal(t, 1.0, cue.Start)
	assert.Equal(t, 2.0, cue.End)
}

func TestParser_EraseDisplayedMemorySuppressesCue(t *testing.T) {
	p := New()

	p.Feed('O', 'K', 0)
	p.Feed(cmdByte1, cmdEndOfCaption, 1.0)
	p.Feed(cmdByte1, cmdEraseDisplayedMemory, 1.5)

	cue := p.Feed(cmdByte1, cmdEndOfCaption, 2.0)
	assert.Nil(t, cue)
}

func TestParser_ResetDiscardsState(t *testing.T) {
	p := New()
	p.Feed('X', 'Y', 0)
	p.Feed(cmdByte1, cmdEndOfCaption, 1.0)

	p.Reset()

	cue := p.Feed(cmdByte1, cmdEndOfCaption, 2.0)
	assert.Nil(t, cue)
}

func TestParser_BasicCharsetSubstitution(t *testing.T) {
	p := New()
	p.Feed(0x2a, 'b', 0) // 0x2a -> 'á'
	p.Feed(cmdByte1, cmdEndOfCaption, 1.0)
	cue := p.Feed(cmdByte1, cmdEndOfCaption, 2.0)
	require.NotNil(t, cue)
	assert.Equal(t, "áb", cue.Text)
}

func TestParser_RCLClearsNonDisplayedBuffer(t *testing.T) {
	p := New()
	p.Feed('A', 'B', 0)
	p.Feed(cmdByte1, cmdResumeCaptionLoading, 0.5)
	p.Feed('C', 'D', 0.6)
	p.Feed(cmdByte1, cmdEndOfCaption, 1.0)

	cue := p.Feed(cmdByte1, cmdEndOfCaption, 2.0)
	require.NotNil(t, cue)
	assert.Equal(t, "CD", cue.Text)
}
