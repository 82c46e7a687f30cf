package blink

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHref = "/api/actions?pda=abc&id=1"

func TestBuildActionExpandsAmounts(t *testing.T) {
	t.Parallel()

	b := Blink{ID: "1", Title: "Tip jar", Link: `{"a":[{"value":1},{"value":0.5}],"m":true}`}

	action, err := BuildAction(b, testHref, "https://blinks.example")
	require.NoError(t, err)

	assert.Equal(t, "action", action.Type)
	assert.Equal(t, "Tip jar", action.Title)
	assert.Equal(t, "https://blinks.example/solana-token.png", action.Icon)
	assert.Equal(t, "Transfer SOL to another Solana wallet", action.Description)
	assert.Equal(t, "Transfer", action.Label)

	require.Len(t, action.Links, 3)
	assert.Equal(t, LinkedAction{Label: "Send 1 SOL", Href: testHref + "&amount=1"}, action.Links[0])
	assert.Equal(t, LinkedAction{Label: "Send 0.5 SOL", Href: testHref + "&amount=0.5"}, action.Links[1])
	assert.Equal(t, "Send SOL", action.Links[2].Label)
	assert.Equal(t, testHref+"&amount={amount}", action.Links[2].Href)
	assert.Equal(t, []ActionParameter{{Name: "amount", Label: "Enter the amount of SOL to send", Required: true}}, action.Links[2].Parameters)
}

func TestBuildActionWithoutManualAmount(t *testing.T) {
	t.Parallel()

	b := Blink{ID: "2", Icon: "https://cdn.example/icon.png", Link: `{"a":[{"value":3}]}`}

	action, err := BuildAction(b, testHref, "https://blinks.example/")
	require.NoError(t, err)

	assert.Equal(t, "Actions Example - Transfer Native SOL", action.Title)
	assert.Equal(t, "https://cdn.example/icon.png", action.Icon)
	require.Len(t, action.Links, 1)
	assert.Empty(t, action.Links[0].Parameters)
}

func TestBuildActionRejectsMalformedLinks(t *testing.T) {
	t.Parallel()

	for name, link := range map[string]string{
		"not json":       "https://example.com",
		"a not array":    `{"a":{"value":1}}`,
		"value a string": `{"a":[{"value":"one"}]}`,
		"missing value":  `{"a":[{}]}`,
	} {
		_, err := BuildAction(Blink{ID: "x", Link: link}, testHref, "https://blinks.example")
		assert.True(t, eris.Is(err, ErrInvalidLink), name)
	}
}

func TestBuildActionDefaultsBlankFields(t *testing.T) {
	t.Parallel()

	b := Blink{ID: "3", Title: "   ", Icon: "", Description: "\t", Label: " ", Link: `{"a":[]}`}

	action, err := BuildAction(b, testHref, "https://blinks.example")
	require.NoError(t, err)

	assert.Equal(t, "Actions Example - Transfer Native SOL", action.Title)
	assert.Equal(t, "https://blinks.example/solana-token.png", action.Icon)
	assert.Equal(t, "Transfer SOL to another Solana wallet", action.Description)
	assert.Equal(t, "Transfer", action.Label)
	assert.Empty(t, action.Links)

	b.Title = " Tip jar "
	action, err = BuildAction(b, testHref, "https://blinks.example")
	require.NoError(t, err)
	assert.Equal(t, " Tip jar ", action.Title)
}
